package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"adminpanel/internal/store"
)

// Tag is a free-form label on a row. Values are unique per row.
type Tag struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

// TagInput is a tag as supplied by a caller.
type TagInput struct {
	Value string `json:"value"`
	Color string `json:"color"`
}

// parseTags accepts ["a", "b"] or [{"value": "a", "color": "#f00"}].
func parseTags(raw any) ([]TagInput, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("tags must be a list")
	}
	tags := make([]TagInput, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			tags = append(tags, TagInput{Value: v})
		case map[string]any:
			tags = append(tags, TagInput{Value: toString(v["value"]), Color: toString(v["color"])})
		default:
			return nil, fmt.Errorf("invalid tag %v", item)
		}
	}
	return tags, nil
}

func insertTag(ctx context.Context, q store.Querier, dialect store.Dialect, rowID string, in TagInput) (*Tag, error) {
	value := strings.TrimSpace(in.Value)
	if value == "" {
		return nil, InvalidPayloadError("tag value is required")
	}
	tag := &Tag{ID: uuid.New().String(), Value: value, Color: in.Color}
	_, err := store.Exec(ctx, q,
		"INSERT INTO _row_tags (id, row_id, value, color, created_at) VALUES ($1, $2, $3, $4, $5)",
		tag.ID, rowID, tag.Value, tag.Color, dialect.TimeParam(time.Now()))
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ConflictError(fmt.Sprintf("The row is already tagged %q", value))
		}
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	return tag, nil
}

// replaceTags sets the row's tags to exactly the given list. Repeated values
// are collapsed.
func replaceTags(ctx context.Context, q store.Querier, dialect store.Dialect, row *Row, tags []TagInput) error {
	if _, err := store.Exec(ctx, q, "DELETE FROM _row_tags WHERE row_id = $1", row.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	row.Tags = row.Tags[:0]
	seen := make(map[string]bool, len(tags))
	for _, in := range tags {
		v := strings.TrimSpace(in.Value)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		tag, err := insertTag(ctx, q, dialect, row.ID, in)
		if err != nil {
			return err
		}
		row.Tags = append(row.Tags, *tag)
	}
	return nil
}

func loadTags(ctx context.Context, q store.Querier, dialect store.Dialect, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	byID := make(map[string]*Row, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
		ids = append(ids, r.ID)
		r.Tags = []Tag{}
	}

	pb := dialect.NewParamBuilder()
	query := "SELECT id, row_id, value, color FROM _row_tags WHERE " +
		dialect.InExpr("row_id", pb, ids) + " ORDER BY created_at, value"
	recs, err := store.QueryRows(ctx, q, query, pb.Params()...)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	for _, rec := range recs {
		if r := byID[store.AsString(rec["row_id"])]; r != nil {
			r.Tags = append(r.Tags, Tag{
				ID:    store.AsString(rec["id"]),
				Value: store.AsString(rec["value"]),
				Color: store.AsString(rec["color"]),
			})
		}
	}
	return nil
}

func deleteTag(ctx context.Context, q store.Querier, rowID, tagID string) error {
	n, err := store.Exec(ctx, q, "DELETE FROM _row_tags WHERE id = $1 AND row_id = $2", tagID, rowID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
