package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueStore_RoundTripsEveryKind(t *testing.T) {
	f := newFixture(t)
	created := f.createContract(map[string]any{
		"name":     "Supply agreement",
		"amount":   "1500.25",
		"signedOn": "2026-03-01",
		"active":   true,
		"status":   "open",
		"labels":   []any{"legal", "urgent"},
		"files":    []any{map[string]any{"title": "Scan", "name": "scan.pdf", "publicUrl": "https://cdn.example.com/scan.pdf"}},
		"budget":   map[string]any{"min": 100, "max": "250.5"},
		"term":     map[string]any{"min": "2026-01-01", "max": "2026-12-31"},
	})

	row, _, err := f.rows.Get(f.ctx, userCtx("t1", "owner"), f.contract, created.ID)
	require.NoError(t, err)

	name, ok := GetText(f.contract, row, "name")
	require.True(t, ok)
	assert.Equal(t, "Supply agreement", name)

	amount, ok := GetNumber(f.contract, row, "amount")
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("1500.25")), amount.String())

	signed, ok := GetDate(f.contract, row, "signedOn")
	require.True(t, ok)
	assert.True(t, signed.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))

	active, ok := GetBoolean(f.contract, row, "active")
	require.True(t, ok)
	assert.True(t, active)

	status, _ := GetText(f.contract, row, "status")
	assert.Equal(t, "open", status)

	assert.Equal(t, []string{"legal", "urgent"}, GetMultiple(f.contract, row, "labels"))

	media := GetMedia(f.contract, row, "files")
	require.Len(t, media, 1)
	assert.Equal(t, "scan.pdf", media[0].Name)
	assert.Equal(t, "https://cdn.example.com/scan.pdf", media[0].PublicURL)

	budget, ok := GetNumberRange(f.contract, row, "budget")
	require.True(t, ok)
	require.NotNil(t, budget.Min)
	require.NotNil(t, budget.Max)
	assert.True(t, budget.Min.Equal(decimal.NewFromInt(100)))
	assert.True(t, budget.Max.Equal(decimal.RequireFromString("250.5")))

	term, ok := GetDateRange(f.contract, row, "term")
	require.True(t, ok)
	require.NotNil(t, term.Max)
	assert.Equal(t, 2026, term.Max.Year())
	assert.Equal(t, time.December, term.Max.Month())

	total, ok := GetNumber(f.contract, row, "total")
	require.True(t, ok, "formula is computed on read")
	assert.True(t, total.Equal(decimal.RequireFromString("3000.5")), total.String())
}

func TestValueStore_KeepsDecimalPrecision(t *testing.T) {
	f := newFixture(t)
	for _, v := range []string{"12345678901234567.89", "0.1234567890123456789"} {
		created := f.createContract(map[string]any{
			"name":   "Precise",
			"amount": v,
			"budget": map[string]any{"min": v, "max": "99999999999999999999.01"},
		})

		row, _, err := f.rows.Get(f.ctx, userCtx("t1", "owner"), f.contract, created.ID)
		require.NoError(t, err)

		amount, ok := GetNumber(f.contract, row, "amount")
		require.True(t, ok)
		assert.True(t, amount.Equal(decimal.RequireFromString(v)), "wrote %s read %s", v, amount)

		budget, ok := GetNumberRange(f.contract, row, "budget")
		require.True(t, ok)
		require.NotNil(t, budget.Min)
		require.NotNil(t, budget.Max)
		assert.True(t, budget.Min.Equal(decimal.RequireFromString(v)), budget.Min.String())
		assert.True(t, budget.Max.Equal(decimal.RequireFromString("99999999999999999999.01")), budget.Max.String())
	}
}

func TestValueStore_ClearingRemovesValue(t *testing.T) {
	f := newFixture(t)
	created := f.createContract(map[string]any{"name": "A", "amount": 10, "labels": []any{"sales"}})

	updated, err := f.rows.Update(f.ctx, userCtx("t1", "owner"), f.contract, created.ID,
		RowInput{Values: map[string]any{"amount": nil, "labels": []any{}}})
	require.NoError(t, err)

	_, ok := GetNumber(f.contract, updated, "amount")
	assert.False(t, ok)

	row, _, err := f.rows.Get(f.ctx, userCtx("t1", "owner"), f.contract, created.ID)
	require.NoError(t, err)
	_, ok = GetNumber(f.contract, row, "amount")
	assert.False(t, ok)
	assert.Empty(t, GetMultiple(f.contract, row, "labels"))
	assert.EqualValues(t, 0, f.countRows("_row_value_multiples", created.ID))
}

func TestValueStore_RejectsKindMismatch(t *testing.T) {
	f := newFixture(t)
	row := f.createContract(map[string]any{"name": "A"})
	vs := NewValueStore(f.store.Dialect)

	_, err := vs.SetValues(f.ctx, f.store.Q(), f.contract, row, []PropertyValue{
		{Property: f.contract.GetProperty("amount"), Value: TextValue("lots")},
	})
	assert.ErrorIs(t, err, ErrValueKindMismatch)

	_, err = vs.SetValues(f.ctx, f.store.Q(), f.contract, row, []PropertyValue{
		{Property: f.contract.GetProperty("total"), Value: NumberValue(decimal.NewFromInt(1))},
	})
	assert.ErrorIs(t, err, ErrValueKindMismatch)
}
