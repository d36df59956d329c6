package importer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
)

// fakeCreator rejects rows without a name and records every input.
type fakeCreator struct {
	mu       sync.Mutex
	inputs   []engine.RowInput
	next     atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
}

func (f *fakeCreator) Create(_ context.Context, _ *metadata.RequestContext, _ *metadata.Entity, in engine.RowInput) (*engine.Row, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if in.Values["name"] == nil {
		return nil, engine.ValidationError([]engine.ErrorDetail{{Field: "name", Rule: "required", Message: "name is required"}})
	}
	return &engine.Row{ID: fmt.Sprintf("row-%d", f.next.Add(1))}, nil
}

func commitRC() *metadata.RequestContext {
	return &metadata.RequestContext{TenantID: "t1", UserID: "u1"}
}

func TestCommit_PerRowOutcome(t *testing.T) {
	creator := &fakeCreator{}
	c := NewCommitter(creator, 0, zap.NewNop())
	rows := []*ImportRow{
		{Line: 1, Values: map[string]string{"name": "Ana", "files[]": "https://cdn.example.com/docs/contract.pdf?v=2"}},
		{Line: 2, Values: map[string]string{"name": ""}},
		{Line: 3, Values: map[string]string{"name": "Cy"}},
	}

	sum := c.Commit(context.Background(), commitRC(), importEntity(), rows)
	assert.Equal(t, Summary{Created: 2, Failed: 1}, sum)

	assert.NotEmpty(t, rows[0].RowID)
	assert.Empty(t, rows[0].Error)
	assert.Empty(t, rows[1].RowID)
	assert.Equal(t, "Validation failed: name", rows[1].Error)
	assert.NotEmpty(t, rows[2].RowID)

	for _, in := range creator.inputs {
		assert.True(t, in.Imported)
		if in.Values["name"] == "Ana" {
			media := in.Values["files"].([]engine.Media)
			require.Len(t, media, 1)
			assert.Equal(t, engine.Media{
				Title:     "contract",
				Name:      "contract.pdf",
				Type:      engine.MediaTypeOf("contract.pdf"),
				PublicURL: "https://cdn.example.com/docs/contract.pdf?v=2",
			}, media[0])
			assert.NotContains(t, in.Values, "files[]")
		}
	}
}

func TestCommit_RetrySkipsCreatedRows(t *testing.T) {
	creator := &fakeCreator{}
	c := NewCommitter(creator, 0, zap.NewNop())
	rows := []*ImportRow{
		{Line: 1, Values: map[string]string{"name": "Ana"}},
		{Line: 2, Values: map[string]string{}},
	}
	c.Commit(context.Background(), commitRC(), importEntity(), rows)
	firstID := rows[0].RowID
	require.NotEmpty(t, firstID)
	require.NotEmpty(t, rows[1].Error)

	rows[1].Values["name"] = "Fixed"
	sum := c.Commit(context.Background(), commitRC(), importEntity(), rows)
	assert.Equal(t, Summary{Created: 1, Skipped: 1}, sum)
	assert.Equal(t, firstID, rows[0].RowID)
	assert.NotEmpty(t, rows[1].RowID)
	assert.Empty(t, rows[1].Error)
	assert.Len(t, creator.inputs, 3)
}

func TestCommit_RespectsConcurrencyLimit(t *testing.T) {
	creator := &fakeCreator{delay: 5 * time.Millisecond}
	c := NewCommitter(creator, 2, zap.NewNop())
	rows := make([]*ImportRow, 10)
	for i := range rows {
		rows[i] = &ImportRow{Line: i + 1, Values: map[string]string{"name": fmt.Sprint("n", i)}}
	}

	sum := c.Commit(context.Background(), commitRC(), importEntity(), rows)
	assert.Equal(t, 10, sum.Created)
	assert.LessOrEqual(t, creator.peak.Load(), int64(2))
}

func TestRowValues_SkipsEmpty(t *testing.T) {
	got := rowValues(&ImportRow{Values: map[string]string{"name": "Ana", "notes": "", "files[]": ""}})
	assert.Equal(t, map[string]any{"name": "Ana"}, got)
}
