package store

import (
	"fmt"
	"strings"
	"time"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// Rebind rewrites $N placeholders into the dialect's native form.
	Rebind(query string) string

	// NewParamBuilder creates a parameter builder emitting $N placeholders.
	NewParamBuilder() *ParamBuilder

	// NowExpr returns the SQL expression for the current timestamp.
	NowExpr() string

	// SystemTablesSQL returns the DDL for all system tables.
	SystemTablesSQL() string

	// InExpr builds a SQL expression for the IN operator.
	// PostgreSQL: "field = ANY($n)" with single array param.
	// SQLite: "field IN ($n, $n+1, ...)" expanding the slice.
	InExpr(field string, pb *ParamBuilder, values []string) string

	// NumericExpr wraps a decimal column for comparison and ordering.
	// PostgreSQL: the NUMERIC column itself.
	// SQLite: decimals are stored as text and cast to REAL.
	NumericExpr(col string) string

	// TimeParam encodes a timestamp for storage.
	// PostgreSQL: passes time.Time through (TIMESTAMPTZ).
	// SQLite: RFC3339 text in UTC so lexical order matches time order.
	TimeParam(t time.Time) any

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates $N placeholders.
type ParamBuilder struct {
	params []any
}

// Add appends a value and returns its placeholder.
func (p *ParamBuilder) Add(v any) string {
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", len(p.params))
}

// Params returns all accumulated parameter values.
func (p *ParamBuilder) Params() []any { return p.params }

// Count returns the number of parameters added so far.
func (p *ParamBuilder) Count() int { return len(p.params) }

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// rebindDollar replaces every $N outside quoted literals with prefix+N.
func rebindDollar(query, prefix string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c == '$' && !inQuote && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			b.WriteString(prefix)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
