// Package storage persists uploaded media files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage is a pluggable interface for file persistence.
type FileStorage interface {
	// Save persists file content and returns the storage path used for retrieval and deletion.
	Save(ctx context.Context, tenantID, fileID, filename string, reader io.Reader) (storagePath string, err error)
	// Open returns a reader for the stored file.
	Open(ctx context.Context, storagePath string) (io.ReadCloser, error)
	// Delete removes the file from storage.
	Delete(ctx context.Context, storagePath string) error
	// Provider names the backend, recorded on media values.
	Provider() string
}

var ErrInvalidPath = errors.New("invalid storage path")

// LocalStorage stores files under a base directory, one directory per tenant
// and file id. Storage paths are relative to the base directory.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

func (s *LocalStorage) Provider() string { return "local" }

func (s *LocalStorage) Save(_ context.Context, tenantID, fileID, filename string, reader io.Reader) (string, error) {
	if tenantID == "" {
		tenantID = "_global"
	}
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "file"
	}
	rel := filepath.Join(filepath.Base(tenantID), filepath.Base(fileID), name)

	full, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func (s *LocalStorage) Open(_ context.Context, storagePath string) (io.ReadCloser, error) {
	full, err := s.resolve(storagePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *LocalStorage) Delete(_ context.Context, storagePath string) error {
	full, err := s.resolve(storagePath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	// the file id directory is removed once empty
	_ = os.Remove(filepath.Dir(full))
	return nil
}

// resolve maps a storage path to a file under the base directory.
func (s *LocalStorage) resolve(storagePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(storagePath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrInvalidPath, storagePath)
	}
	return filepath.Join(s.basePath, clean), nil
}
