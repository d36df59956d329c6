package engine

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"adminpanel/internal/storage"
	"adminpanel/internal/store"
)

var mediaTypes = map[string]string{
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image", ".webp": "image", ".svg": "image",
	".mp4": "video", ".mov": "video", ".webm": "video",
	".mp3": "audio", ".wav": "audio", ".ogg": "audio",
	".pdf": "document", ".doc": "document", ".docx": "document", ".xls": "document",
	".xlsx": "document", ".csv": "document", ".txt": "document",
}

// MediaTypeOf classifies a file name or URL by its extension.
func MediaTypeOf(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if t, ok := mediaTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	return "file"
}

// MediaFromURL describes an externally hosted file.
func MediaFromURL(url string) Media {
	name := url
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	name = path.Base(name)
	return Media{
		Title:     strings.TrimSuffix(name, path.Ext(name)),
		Name:      name,
		Type:      MediaTypeOf(name),
		PublicURL: url,
	}
}

type FileHandler struct {
	store     *store.Store
	storage   storage.FileStorage
	maxSize   int64
	publicURL string
}

func NewFileHandler(s *store.Store, fs storage.FileStorage, maxSize int64, publicURL string) *FileHandler {
	return &FileHandler{store: s, storage: fs, maxSize: maxSize, publicURL: strings.TrimSuffix(publicURL, "/")}
}

func RegisterFileRoutes(app *fiber.App, h *FileHandler, middleware ...fiber.Handler) {
	files := app.Group("/api/_files", middleware...)
	files.Post("/", h.Upload)
	files.Get("/:id", h.Serve)
	files.Delete("/:id", h.Delete)
}

// Upload handles POST /api/_files and returns a media descriptor ready to be
// written into a media property.
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return InvalidPayloadError("Missing file in form data")
	}
	if file.Size > h.maxSize {
		return NewAppError("FILE_TOO_LARGE", 413, fmt.Sprintf("File too large: %d bytes (max %d)", file.Size, h.maxSize))
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	fileID := uuid.New().String()
	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ctx := c.UserContext()
	storagePath, err := h.storage.Save(ctx, rc.TenantID, fileID, file.Filename, src)
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}

	_, err = store.Exec(ctx, h.store.Q(),
		`INSERT INTO _files (id, tenant_id, filename, storage_path, mime_type, size, uploaded_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fileID, rc.TenantID, file.Filename, storagePath, mimeType, file.Size,
		store.NullString(callerID(rc)), h.store.Dialect.TimeParam(time.Now()))
	if err != nil {
		_ = h.storage.Delete(ctx, storagePath)
		return fmt.Errorf("insert _files: %w", err)
	}

	media := Media{
		Title:           strings.TrimSuffix(file.Filename, path.Ext(file.Filename)),
		Name:            file.Filename,
		Type:            MediaTypeOf(file.Filename),
		PublicURL:       h.publicURL + "/" + fileID,
		File:            fileID,
		StorageProvider: h.storage.Provider(),
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": media})
}

// Serve handles GET /api/_files/:id
func (h *FileHandler) Serve(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	id := c.Params("id")

	row, err := h.load(c, id)
	if err != nil {
		return err
	}
	if !h.visible(rc.TenantID, rc.IsSuperAdmin, row) {
		return NotFoundError("file", id)
	}

	reader, err := h.storage.Open(c.UserContext(), store.AsString(row["storage_path"]))
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}

	c.Set("Content-Type", store.AsString(row["mime_type"]))
	c.Set("Content-Disposition", fmt.Sprintf(`inline; filename=%q`, store.AsString(row["filename"])))
	// fasthttp closes the reader once the body is sent
	return c.SendStream(reader, int(store.AsInt(row["size"])))
}

// Delete handles DELETE /api/_files/:id
func (h *FileHandler) Delete(c *fiber.Ctx) error {
	rc := GetRequestContext(c)
	if rc == nil {
		return UnauthorizedError("Authentication required")
	}
	id := c.Params("id")

	row, err := h.load(c, id)
	if err != nil {
		return err
	}
	if !h.visible(rc.TenantID, rc.IsSuperAdmin, row) {
		return NotFoundError("file", id)
	}
	if !rc.IsSuperAdmin && store.AsString(row["uploaded_by"]) != callerID(rc) {
		return ForbiddenError("Only the uploader can delete this file")
	}

	if err := h.storage.Delete(c.UserContext(), store.AsString(row["storage_path"])); err != nil {
		return fmt.Errorf("delete stored file: %w", err)
	}
	if _, err := store.Exec(c.UserContext(), h.store.Q(), "DELETE FROM _files WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete _files row: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id}})
}

func (h *FileHandler) load(c *fiber.Ctx, id string) (map[string]any, error) {
	row, err := store.QueryRow(c.UserContext(), h.store.Q(),
		"SELECT tenant_id, filename, storage_path, mime_type, size, uploaded_by FROM _files WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("file", id)
		}
		return nil, err
	}
	return row, nil
}

func (h *FileHandler) visible(tenantID string, superAdmin bool, row map[string]any) bool {
	owner := store.AsString(row["tenant_id"])
	return superAdmin || owner == "" || owner == tenantID
}
