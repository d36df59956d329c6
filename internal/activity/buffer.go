package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adminpanel/internal/store"
)

// insertBatch keeps one insert under the bind parameter limits of both drivers.
const insertBatch = 100

var logColumns = []string{"id", "tenant_id", "entity_id", "row_id", "action", "user_id", "api_key_id", "details", "created_at"}

// Buffer collects entries in memory and periodically flushes them
// to the _row_logs table in a batch insert.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	store   *store.Store
	logger  *zap.Logger
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewBuffer creates a buffer that flushes on a timer or when full.
func NewBuffer(s *store.Store, logger *zap.Logger, maxSize int, flushIntervalMs int) *Buffer {
	if maxSize <= 0 {
		maxSize = 200
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 500
	}
	b := &Buffer{
		store:   s,
		logger:  logger.Named("activity"),
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	b.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	b.wg.Add(1)
	go b.run()
	return b
}

func (b *Buffer) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case <-b.ticker.C:
			b.Flush()
		}
	}
}

// Record adds an entry to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (b *Buffer) Record(e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	b.entries = append(b.entries, e)
	shouldFlush := len(b.entries) >= b.maxSize
	b.mu.Unlock()
	if shouldFlush {
		go b.Flush()
	}
}

// Flush writes all buffered entries to the database in batch inserts of at
// most insertBatch entries each.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if len(b.entries) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.entries
	b.entries = nil
	b.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), insertBatch)
		if err := b.insert(batch[:n]); err != nil {
			b.logger.Error("flush row logs", zap.Int("entries", n), zap.Error(err))
		}
		batch = batch[n:]
	}
}

func (b *Buffer) insert(batch []Entry) error {
	placeholders := make([]string, 0, len(batch))
	args := make([]any, 0, len(batch)*len(logColumns))
	for i, e := range batch {
		offset := i * len(logColumns)
		ph := make([]string, len(logColumns))
		for j := range logColumns {
			ph[j] = fmt.Sprintf("$%d", offset+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")

		var details any
		if e.Details != nil {
			raw, _ := json.Marshal(e.Details)
			details = string(raw)
		}
		args = append(args, e.ID, e.TenantID, e.EntityID, e.RowID, e.Action,
			store.NullString(e.UserID), store.NullString(e.APIKeyID), details, b.store.Dialect.TimeParam(e.CreatedAt))
	}

	sql := fmt.Sprintf("INSERT INTO _row_logs (%s) VALUES %s", strings.Join(logColumns, ","), strings.Join(placeholders, ","))
	_, err := store.Exec(context.Background(), b.store.Q(), sql, args...)
	return err
}

// Stop halts the background ticker and flushes remaining entries.
func (b *Buffer) Stop() {
	b.ticker.Stop()
	close(b.done)
	b.wg.Wait()
	b.Flush()
}

// Prune deletes row logs older than retentionDays.
func Prune(ctx context.Context, s *store.Store, logger *zap.Logger, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := store.Exec(ctx, s.Q(), "DELETE FROM _row_logs WHERE created_at < $1", s.Dialect.TimeParam(cutoff))
	if err != nil {
		logger.Error("prune row logs", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("pruned row logs", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
	}
}
