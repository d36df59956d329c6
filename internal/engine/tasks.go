package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// Task is a checklist item attached to a row.
type Task struct {
	ID                string     `json:"id"`
	RowID             string     `json:"rowId"`
	Title             string     `json:"title"`
	Completed         bool       `json:"completed"`
	CompletedAt       *time.Time `json:"completedAt"`
	CompletedByUserID string     `json:"completedByUserId,omitempty"`
	CreatedByUserID   string     `json:"createdByUserId,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// TaskService manages row tasks. Reading needs read access to the row,
// every change needs update access.
type TaskService struct {
	store *store.Store
	rows  *RowService
}

func NewTaskService(s *store.Store, rows *RowService) *TaskService {
	return &TaskService{store: s, rows: rows}
}

const taskColumns = "id, row_id, title, completed, completed_at, completed_by_user_id, created_by_user_id, created_at"

func (ts *TaskService) List(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, rowID string) ([]Task, error) {
	if _, _, err := ts.rows.Require(ctx, rc, entity, rowID, OpRead); err != nil {
		return nil, err
	}
	recs, err := store.QueryRows(ctx, ts.store.Q(),
		"SELECT "+taskColumns+" FROM _row_tasks WHERE row_id = $1 ORDER BY created_at, id", rowID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks := make([]Task, 0, len(recs))
	for _, rec := range recs {
		tasks = append(tasks, taskFromRecord(rec))
	}
	return tasks, nil
}

func (ts *TaskService) Create(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, rowID, title string) (*Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ValidationError([]ErrorDetail{{Field: "title", Rule: "required", Message: "title is required"}})
	}
	if _, _, err := ts.rows.Require(ctx, rc, entity, rowID, OpUpdate); err != nil {
		return nil, err
	}

	t := &Task{
		ID:              uuid.New().String(),
		RowID:           rowID,
		Title:           title,
		CreatedByUserID: rc.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := store.Exec(ctx, ts.store.Q(),
		`INSERT INTO _row_tasks (id, row_id, title, completed, created_by_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.RowID, t.Title, false, store.NullString(t.CreatedByUserID), ts.store.Dialect.TimeParam(t.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// Toggle flips a task between open and completed. Completing stamps who
// and when; reopening clears both.
func (ts *TaskService) Toggle(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, rowID, taskID string) (*Task, error) {
	if _, _, err := ts.rows.Require(ctx, rc, entity, rowID, OpUpdate); err != nil {
		return nil, err
	}

	q := ts.store.Q()
	rec, err := store.QueryRow(ctx, q, "SELECT "+taskColumns+" FROM _row_tasks WHERE id = $1 AND row_id = $2", taskID, rowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("task", taskID)
		}
		return nil, fmt.Errorf("load task: %w", err)
	}
	t := taskFromRecord(rec)

	t.Completed = !t.Completed
	var completedAt, completedBy any
	if t.Completed {
		now := time.Now().UTC()
		t.CompletedAt = &now
		t.CompletedByUserID = rc.UserID
		completedAt = ts.store.Dialect.TimeParam(now)
		completedBy = store.NullString(rc.UserID)
	} else {
		t.CompletedAt = nil
		t.CompletedByUserID = ""
	}

	if _, err := store.Exec(ctx, q,
		"UPDATE _row_tasks SET completed = $1, completed_at = $2, completed_by_user_id = $3 WHERE id = $4",
		t.Completed, completedAt, completedBy, t.ID); err != nil {
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	return &t, nil
}

func (ts *TaskService) Delete(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, rowID, taskID string) error {
	if _, _, err := ts.rows.Require(ctx, rc, entity, rowID, OpUpdate); err != nil {
		return err
	}
	n, err := store.Exec(ctx, ts.store.Q(), "DELETE FROM _row_tasks WHERE id = $1 AND row_id = $2", taskID, rowID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return NotFoundError("task", taskID)
	}
	return nil
}

func taskFromRecord(rec map[string]any) Task {
	t := Task{
		ID:                store.AsString(rec["id"]),
		RowID:             store.AsString(rec["row_id"]),
		Title:             store.AsString(rec["title"]),
		Completed:         store.AsBool(rec["completed"]),
		CompletedByUserID: store.AsString(rec["completed_by_user_id"]),
		CreatedByUserID:   store.AsString(rec["created_by_user_id"]),
	}
	t.CreatedAt, _ = store.AsTime(rec["created_at"])
	if at, ok := store.AsTime(rec["completed_at"]); ok {
		t.CompletedAt = &at
	}
	return t
}
