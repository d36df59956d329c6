package importer

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
)

// RowCreator creates one row. engine.RowService satisfies it.
type RowCreator interface {
	Create(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, in engine.RowInput) (*engine.Row, error)
}

// Summary counts the outcome of one commit.
type Summary struct {
	Created int `json:"created"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Committer struct {
	creator        RowCreator
	maxConcurrency int
	logger         *zap.Logger
}

// NewCommitter creates a committer. maxConcurrency <= 0 leaves the fan-out
// unbounded.
func NewCommitter(creator RowCreator, maxConcurrency int, logger *zap.Logger) *Committer {
	return &Committer{
		creator:        creator,
		maxConcurrency: maxConcurrency,
		logger:         logger.Named("importer"),
	}
}

// Commit creates a row for every ImportRow that has no RowID yet. Each row
// succeeds or fails on its own: RowID is set on success, Error on failure,
// and a failure never stops the others.
func (c *Committer) Commit(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, rows []*ImportRow) Summary {
	var created, failed, skipped atomic.Int64

	var g errgroup.Group
	if c.maxConcurrency > 0 {
		g.SetLimit(c.maxConcurrency)
	}
	for _, r := range rows {
		if r.RowID != "" {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			r.Error = ""
			row, err := c.creator.Create(ctx, rc, entity, engine.RowInput{Values: rowValues(r), Imported: true})
			if err != nil {
				r.Error = errorMessage(err)
				failed.Add(1)
				return nil
			}
			r.RowID = row.ID
			created.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Created: int(created.Load()), Failed: int(failed.Load()), Skipped: int(skipped.Load())}
	c.logger.Info("import committed",
		zap.String("entity", entity.Name),
		zap.String("tenant", rc.TenantID),
		zap.Int("created", sum.Created),
		zap.Int("failed", sum.Failed),
		zap.Int("skipped", sum.Skipped))
	return sum
}

// rowValues converts mapped raw strings into create input. Empty values are
// left out so property defaults apply.
func rowValues(r *ImportRow) map[string]any {
	values := make(map[string]any, len(r.Values))
	for mapped, raw := range r.Values {
		if raw == "" {
			continue
		}
		name, media := PropertyName(mapped)
		if media {
			values[name] = []engine.Media{engine.MediaFromURL(raw)}
			continue
		}
		values[name] = raw
	}
	return values
}

func errorMessage(err error) string {
	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
