package store

import (
	"fmt"
	"strings"
	"time"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) Rebind(query string) string { return rebindDollar(query, "?") }

func (d *SQLiteDialect) NewParamBuilder() *ParamBuilder { return &ParamBuilder{} }

func (d *SQLiteDialect) NowExpr() string { return "datetime('now')" }

func (d *SQLiteDialect) SystemTablesSQL() string { return sqliteSystemTablesSQL }

func (d *SQLiteDialect) InExpr(field string, pb *ParamBuilder, values []string) string {
	if len(values) == 0 {
		return "1=0" // always false
	}
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(phs, ", "))
}

// sqliteTimeLayout is fixed width so that text comparison orders by time.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// NumericExpr casts decimal text for comparison and ordering. Stored values
// stay text so reads return exactly what was written.
func (d *SQLiteDialect) NumericExpr(col string) string { return "CAST(" + col + " AS REAL)" }

func (d *SQLiteDialect) TimeParam(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _tenants (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _users (
    id             TEXT PRIMARY KEY,
    email          TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    first_name     TEXT NOT NULL DEFAULT '',
    last_name      TEXT NOT NULL DEFAULT '',
    is_super_admin INTEGER NOT NULL DEFAULT 0,
    active         INTEGER NOT NULL DEFAULT 1,
    created_at     TEXT DEFAULT (datetime('now')),
    updated_at     TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON _refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS _tenant_users (
    tenant_id  TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS _user_roles (
    tenant_id  TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    role       TEXT NOT NULL,
    PRIMARY KEY (tenant_id, user_id, role)
);

CREATE TABLE IF NOT EXISTS _groups (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    color       TEXT NOT NULL DEFAULT '',
    created_at  TEXT DEFAULT (datetime('now')),
    UNIQUE (tenant_id, name)
);

CREATE TABLE IF NOT EXISTS _group_users (
    group_id TEXT NOT NULL REFERENCES _groups(id) ON DELETE CASCADE,
    user_id  TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS _linked_tenants (
    id               TEXT PRIMARY KEY,
    core_tenant_id   TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    member_tenant_id TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    created_at       TEXT DEFAULT (datetime('now')),
    UNIQUE (core_tenant_id, member_tenant_id)
);

CREATE TABLE IF NOT EXISTS _api_keys (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    alias              TEXT NOT NULL,
    key_hash           TEXT NOT NULL UNIQUE,
    permissions        TEXT NOT NULL DEFAULT '{}',
    active             INTEGER NOT NULL DEFAULT 1,
    expires_at         TEXT,
    created_by_user_id TEXT,
    created_at         TEXT DEFAULT (datetime('now')),
    UNIQUE (tenant_id, alias)
);

CREATE TABLE IF NOT EXISTS _entities (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL,
    definition  TEXT NOT NULL,
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now')),
    UNIQUE (tenant_id, name),
    UNIQUE (tenant_id, slug)
);

CREATE TABLE IF NOT EXISTS _rows (
    id                    TEXT PRIMARY KEY,
    entity_id             TEXT NOT NULL REFERENCES _entities(id) ON DELETE CASCADE,
    tenant_id             TEXT NOT NULL DEFAULT '',
    folio                 INTEGER NOT NULL,
    workflow_state        TEXT,
    created_by_user_id    TEXT,
    created_by_api_key_id TEXT,
    created_at            TEXT DEFAULT (datetime('now')),
    updated_at            TEXT DEFAULT (datetime('now')),
    UNIQUE (entity_id, tenant_id, folio)
);
CREATE INDEX IF NOT EXISTS idx_rows_entity_tenant ON _rows(entity_id, tenant_id);

CREATE TABLE IF NOT EXISTS _row_values (
    id            TEXT PRIMARY KEY,
    row_id        TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    property_id   TEXT NOT NULL,
    text_value    TEXT,
    number_value  TEXT,
    date_value    TEXT,
    boolean_value INTEGER,
    UNIQUE (row_id, property_id)
);

CREATE TABLE IF NOT EXISTS _row_media (
    id               TEXT PRIMARY KEY,
    row_id           TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    property_id      TEXT NOT NULL,
    title            TEXT NOT NULL DEFAULT '',
    name             TEXT NOT NULL DEFAULT '',
    file             TEXT NOT NULL DEFAULT '',
    type             TEXT NOT NULL DEFAULT '',
    public_url       TEXT NOT NULL DEFAULT '',
    storage_provider TEXT NOT NULL DEFAULT '',
    ord              INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_row_media_row ON _row_media(row_id, property_id);

CREATE TABLE IF NOT EXISTS _row_value_multiples (
    id          TEXT PRIMARY KEY,
    row_id      TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    property_id TEXT NOT NULL,
    ord         INTEGER NOT NULL DEFAULT 0,
    value       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_row_value_multiples_row ON _row_value_multiples(row_id, property_id);

CREATE TABLE IF NOT EXISTS _row_value_ranges (
    id          TEXT PRIMARY KEY,
    row_id      TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    property_id TEXT NOT NULL,
    number_min  TEXT,
    number_max  TEXT,
    date_min    TEXT,
    date_max    TEXT,
    UNIQUE (row_id, property_id)
);

CREATE TABLE IF NOT EXISTS _row_permissions (
    id           TEXT PRIMARY KEY,
    row_id       TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    subject_type TEXT NOT NULL,
    subject_id   TEXT NOT NULL DEFAULT '',
    access       TEXT NOT NULL,
    created_at   TEXT DEFAULT (datetime('now')),
    UNIQUE (row_id, subject_type, subject_id)
);

CREATE TABLE IF NOT EXISTS _row_tasks (
    id                   TEXT PRIMARY KEY,
    row_id               TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    title                TEXT NOT NULL,
    completed            INTEGER NOT NULL DEFAULT 0,
    completed_at         TEXT,
    completed_by_user_id TEXT,
    created_by_user_id   TEXT,
    created_at           TEXT DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_row_tasks_row ON _row_tasks(row_id);

CREATE TABLE IF NOT EXISTS _row_tags (
    id         TEXT PRIMARY KEY,
    row_id     TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    value      TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE (row_id, value)
);

CREATE TABLE IF NOT EXISTS _row_relationships (
    id                 TEXT PRIMARY KEY,
    parent_id          TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    child_id           TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    created_by_user_id TEXT,
    created_at         TEXT DEFAULT (datetime('now')),
    UNIQUE (parent_id, child_id)
);

CREATE TABLE IF NOT EXISTS _row_logs (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL DEFAULT '',
    entity_id  TEXT NOT NULL,
    row_id     TEXT NOT NULL,
    action     TEXT NOT NULL,
    user_id    TEXT,
    api_key_id TEXT,
    details    TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_row_logs_row ON _row_logs(row_id, created_at);

CREATE TABLE IF NOT EXISTS _files (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL DEFAULT '',
    filename     TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
    size         INTEGER NOT NULL DEFAULT 0,
    uploaded_by  TEXT,
    created_at   TEXT DEFAULT (datetime('now'))
);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
