package store

import (
	"fmt"
	"strings"
	"time"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) Rebind(query string) string { return query }

func (d *PostgresDialect) NewParamBuilder() *ParamBuilder { return &ParamBuilder{} }

func (d *PostgresDialect) NowExpr() string { return "NOW()" }

func (d *PostgresDialect) SystemTablesSQL() string { return pgSystemTablesSQL }

func (d *PostgresDialect) InExpr(field string, pb *ParamBuilder, values []string) string {
	if len(values) == 0 {
		return "1=0"
	}
	return fmt.Sprintf("%s = ANY(%s)", field, pb.Add(values))
}

func (d *PostgresDialect) NumericExpr(col string) string { return col }

func (d *PostgresDialect) TimeParam(t time.Time) any { return t.UTC() }

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	// With pgx/stdlib, the underlying error message includes the PG code
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "unique constraint") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _tenants (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    active      BOOLEAN NOT NULL DEFAULT true,
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _users (
    id             TEXT PRIMARY KEY,
    email          TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    first_name     TEXT NOT NULL DEFAULT '',
    last_name      TEXT NOT NULL DEFAULT '',
    is_super_admin BOOLEAN NOT NULL DEFAULT false,
    active         BOOLEAN NOT NULL DEFAULT true,
    created_at     TIMESTAMPTZ DEFAULT NOW(),
    updated_at     TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON _refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS _tenant_users (
    tenant_id  TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
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
    created_at  TIMESTAMPTZ DEFAULT NOW(),
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
    created_at       TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (core_tenant_id, member_tenant_id)
);

CREATE TABLE IF NOT EXISTS _api_keys (
    id                 TEXT PRIMARY KEY,
    tenant_id          TEXT NOT NULL REFERENCES _tenants(id) ON DELETE CASCADE,
    alias              TEXT NOT NULL,
    key_hash           TEXT NOT NULL UNIQUE,
    permissions        JSONB NOT NULL DEFAULT '{}',
    active             BOOLEAN NOT NULL DEFAULT true,
    expires_at         TIMESTAMPTZ,
    created_by_user_id TEXT,
    created_at         TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (tenant_id, alias)
);

CREATE TABLE IF NOT EXISTS _entities (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ DEFAULT NOW(),
    updated_at  TIMESTAMPTZ DEFAULT NOW(),
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
    created_at            TIMESTAMPTZ DEFAULT NOW(),
    updated_at            TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (entity_id, tenant_id, folio)
);
CREATE INDEX IF NOT EXISTS idx_rows_entity_tenant ON _rows(entity_id, tenant_id);

CREATE TABLE IF NOT EXISTS _row_values (
    id            TEXT PRIMARY KEY,
    row_id        TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    property_id   TEXT NOT NULL,
    text_value    TEXT,
    number_value  NUMERIC,
    date_value    TIMESTAMPTZ,
    boolean_value BOOLEAN,
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
    number_min  NUMERIC,
    number_max  NUMERIC,
    date_min    TIMESTAMPTZ,
    date_max    TIMESTAMPTZ,
    UNIQUE (row_id, property_id)
);

CREATE TABLE IF NOT EXISTS _row_permissions (
    id           TEXT PRIMARY KEY,
    row_id       TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    subject_type TEXT NOT NULL,
    subject_id   TEXT NOT NULL DEFAULT '',
    access       TEXT NOT NULL,
    created_at   TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (row_id, subject_type, subject_id)
);

CREATE TABLE IF NOT EXISTS _row_tasks (
    id                   TEXT PRIMARY KEY,
    row_id               TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    title                TEXT NOT NULL,
    completed            BOOLEAN NOT NULL DEFAULT false,
    completed_at         TIMESTAMPTZ,
    completed_by_user_id TEXT,
    created_by_user_id   TEXT,
    created_at           TIMESTAMPTZ DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_row_tasks_row ON _row_tasks(row_id);

CREATE TABLE IF NOT EXISTS _row_tags (
    id         TEXT PRIMARY KEY,
    row_id     TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    value      TEXT NOT NULL,
    color      TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (row_id, value)
);

CREATE TABLE IF NOT EXISTS _row_relationships (
    id                 TEXT PRIMARY KEY,
    parent_id          TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    child_id           TEXT NOT NULL REFERENCES _rows(id) ON DELETE CASCADE,
    created_by_user_id TEXT,
    created_at         TIMESTAMPTZ DEFAULT NOW(),
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
    details    JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_row_logs_row ON _row_logs(row_id, created_at);

CREATE TABLE IF NOT EXISTS _files (
    id           TEXT PRIMARY KEY,
    tenant_id    TEXT NOT NULL DEFAULT '',
    filename     TEXT NOT NULL,
    storage_path TEXT NOT NULL,
    mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
    size         BIGINT NOT NULL DEFAULT 0,
    uploaded_by  TEXT,
    created_at   TIMESTAMPTZ DEFAULT NOW()
);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
