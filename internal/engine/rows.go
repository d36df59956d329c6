package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"adminpanel/internal/activity"
	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// folioAttempts bounds retries when two concurrent creates pick the same folio.
const folioAttempts = 5

// Row operations checked by Require.
const (
	OpRead   = "read"
	OpUpdate = "update"
	OpDelete = "delete"
)

// RowInput is the payload of a create or update.
type RowInput struct {
	// Values is keyed by property name.
	Values map[string]any
	// Tags replaces the row's tags. Nil leaves them unchanged on update.
	Tags []TagInput
	// Imported marks rows created by the CSV importer in the activity log.
	Imported bool
}

// ParseRowBody reads a request body. Either {"values": {...}, "tags": [...]}
// or a flat object of property values.
func ParseRowBody(body map[string]any) (RowInput, error) {
	values, ok := body["values"].(map[string]any)
	if !ok {
		return RowInput{Values: body}, nil
	}
	in := RowInput{Values: values}
	if raw, ok := body["tags"]; ok && raw != nil {
		tags, err := parseTags(raw)
		if err != nil {
			return in, err
		}
		in.Tags = tags
	}
	return in, nil
}

// RowService implements the row lifecycle: create, read, list, update, delete.
type RowService struct {
	store    *store.Store
	values   *ValueStore
	perms    *PermissionService
	activity activity.Recorder
	logger   *zap.Logger
}

func NewRowService(s *store.Store, perms *PermissionService, rec activity.Recorder, logger *zap.Logger) *RowService {
	return &RowService{
		store:    s,
		values:   NewValueStore(s.Dialect),
		perms:    perms,
		activity: rec,
		logger:   logger.Named("rows"),
	}
}

// Create validates the input, assigns the next folio and the entity's
// default state, and writes the row with its values and tags in one
// transaction.
func (rs *RowService) Create(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, in RowInput) (*Row, error) {
	if rc.IsAPIKey() && !rc.APIKeyAllows(entity.Name, "create") {
		return nil, ForbiddenError(fmt.Sprintf("API key may not create %s rows", entity.Name))
	}

	pvs, details := ParseInput(entity, in.Values, false)
	if len(details) > 0 {
		return nil, ValidationError(details)
	}

	now := time.Now().UTC()
	row := &Row{
		ID:                uuid.New().String(),
		EntityID:          entity.ID,
		TenantID:          rc.TenantID,
		WorkflowState:     entity.DefaultState,
		CreatedByUserID:   rc.UserID,
		CreatedByAPIKeyID: rc.APIKeyID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Values:            make(map[string]Value),
	}

	var err error
	for attempt := 1; attempt <= folioAttempts; attempt++ {
		err = rs.store.WithTx(ctx, func(q store.Querier) error {
			return rs.insert(ctx, q, entity, row, pvs, in.Tags)
		})
		if err == nil || !errors.Is(err, store.ErrUniqueViolation) {
			break
		}
		rs.logger.Debug("folio collision, retrying",
			zap.String("entity", entity.Name), zap.Int64("folio", row.Folio), zap.Int("attempt", attempt))
	}
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("create %s: %w", entity.Name, err)
	}

	action := activity.ActionCreated
	if in.Imported {
		action = activity.ActionImported
	}
	rs.record(rc, entity, row, action, map[string]any{"folio": row.Folio})
	return row, nil
}

func (rs *RowService) insert(ctx context.Context, q store.Querier, entity *metadata.Entity, row *Row, pvs []PropertyValue, tags []TagInput) error {
	next, err := store.QueryRow(ctx, q,
		"SELECT COALESCE(MAX(folio), 0) + 1 AS next FROM _rows WHERE entity_id = $1 AND tenant_id = $2",
		entity.ID, row.TenantID)
	if err != nil {
		return fmt.Errorf("next folio: %w", err)
	}
	row.Folio = store.AsInt(next["next"])

	d := rs.store.Dialect
	_, err = store.Exec(ctx, q,
		`INSERT INTO _rows (id, entity_id, tenant_id, folio, workflow_state, created_by_user_id, created_by_api_key_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.EntityID, row.TenantID, row.Folio, store.NullString(row.WorkflowState),
		store.NullString(row.CreatedByUserID), store.NullString(row.CreatedByAPIKeyID),
		d.TimeParam(row.CreatedAt), d.TimeParam(row.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert row: %w", err)
	}

	if _, err := rs.values.SetValues(ctx, q, entity, row, pvs); err != nil {
		return err
	}
	return replaceTags(ctx, q, d, row, tags)
}

// Get returns a row the caller can read, with its values and tags loaded.
// Rows the caller cannot read are reported as not found.
func (rs *RowService) Get(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id string) (*Row, RowPermission, error) {
	return rs.Require(ctx, rc, entity, id, OpRead)
}

// Require loads a row and checks that the caller may perform op on it.
func (rs *RowService) Require(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id, op string) (*Row, RowPermission, error) {
	if rc.IsAPIKey() && !rc.APIKeyAllows(entity.Name, op) {
		return nil, RowPermission{}, ForbiddenError(fmt.Sprintf("API key may not %s %s rows", op, entity.Name))
	}

	q := rs.store.Q()
	row, err := fetchRow(ctx, q, entity, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, RowPermission{}, NotFoundError(entity.Name, id)
		}
		return nil, RowPermission{}, err
	}

	perm, err := rs.perms.Evaluate(ctx, rc, entity, row)
	if err != nil {
		return nil, RowPermission{}, err
	}
	if !perm.CanRead {
		return nil, RowPermission{}, NotFoundError(entity.Name, id)
	}
	switch op {
	case OpUpdate:
		if !perm.CanUpdate {
			return nil, perm, ForbiddenError("You do not have permission to update this row")
		}
	case OpDelete:
		if !perm.CanDelete {
			return nil, perm, ForbiddenError("You do not have permission to delete this row")
		}
	}

	if err := rs.hydrate(ctx, q, entity, []*Row{row}); err != nil {
		return nil, perm, err
	}
	return row, perm, nil
}

// List returns one page of rows visible to the caller and the total count.
func (rs *RowService) List(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, params *ListParams) ([]*Row, int64, error) {
	if rc.IsAPIKey() && !rc.APIKeyAllows(entity.Name, OpRead) {
		return nil, 0, ForbiddenError(fmt.Sprintf("API key may not read %s rows", entity.Name))
	}

	q := rs.store.Q()
	page, count := BuildListSQL(entity, params, rc, rs.store.Dialect)
	recs, err := store.QueryRows(ctx, q, page.SQL, page.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", entity.Name, err)
	}
	countRow, err := store.QueryRow(ctx, q, count.SQL, count.Params...)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", entity.Name, err)
	}

	rows := make([]*Row, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, rowFromRecord(rec))
	}
	if err := rs.hydrate(ctx, q, entity, rows); err != nil {
		return nil, 0, err
	}
	return rows, store.AsInt(countRow["total"]), nil
}

// Update writes only the supplied properties. It fails when the row's
// workflow state does not allow updates.
func (rs *RowService) Update(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id string, in RowInput) (*Row, error) {
	row, _, err := rs.Require(ctx, rc, entity, id, OpUpdate)
	if err != nil {
		return nil, err
	}
	if err := checkStateAllows(entity, row, OpUpdate); err != nil {
		return nil, err
	}

	pvs, details := ParseInput(entity, in.Values, true)
	if len(details) > 0 {
		return nil, ValidationError(details)
	}

	before := snapshotValues(row)
	err = rs.store.WithTx(ctx, func(q store.Querier) error {
		if _, err := rs.values.SetValues(ctx, q, entity, row, pvs); err != nil {
			return err
		}
		if in.Tags != nil {
			return replaceTags(ctx, q, rs.store.Dialect, row, in.Tags)
		}
		return nil
	})
	if err != nil {
		var appErr *AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("update %s/%s: %w", entity.Name, id, err)
	}

	if changes := diffValues(entity, before, row.Values); len(changes) > 0 {
		rs.record(rc, entity, row, activity.ActionUpdated, map[string]any{"changes": changes})
	}
	return row, nil
}

// Delete removes the row and everything it owns. It fails when the row's
// workflow state does not allow deletion.
func (rs *RowService) Delete(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id string) error {
	row, _, err := rs.Require(ctx, rc, entity, id, OpDelete)
	if err != nil {
		return err
	}
	if err := checkStateAllows(entity, row, OpDelete); err != nil {
		return err
	}

	err = rs.store.WithTx(ctx, func(q store.Querier) error {
		return deleteRowData(ctx, q, row.ID)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError(entity.Name, id)
		}
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}

	rs.record(rc, entity, row, activity.ActionDeleted, map[string]any{"folio": row.Folio})
	return nil
}

// AddTag tags a row the caller may update.
func (rs *RowService) AddTag(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id string, in TagInput) (*Tag, error) {
	row, _, err := rs.Require(ctx, rc, entity, id, OpUpdate)
	if err != nil {
		return nil, err
	}
	return insertTag(ctx, rs.store.Q(), rs.store.Dialect, row.ID, in)
}

// RemoveTag removes one tag from a row the caller may update.
func (rs *RowService) RemoveTag(ctx context.Context, rc *metadata.RequestContext, entity *metadata.Entity, id, tagID string) error {
	row, _, err := rs.Require(ctx, rc, entity, id, OpUpdate)
	if err != nil {
		return err
	}
	if err := deleteTag(ctx, rs.store.Q(), row.ID, tagID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("tag", tagID)
		}
		return err
	}
	return nil
}

func (rs *RowService) hydrate(ctx context.Context, q store.Querier, entity *metadata.Entity, rows []*Row) error {
	if err := rs.values.Load(ctx, q, entity, rows); err != nil {
		return err
	}
	return loadTags(ctx, q, rs.store.Dialect, rows)
}

func (rs *RowService) record(rc *metadata.RequestContext, entity *metadata.Entity, row *Row, action string, details map[string]any) {
	rs.activity.Record(activity.Entry{
		TenantID: row.TenantID,
		EntityID: entity.ID,
		RowID:    row.ID,
		Action:   action,
		UserID:   rc.UserID,
		APIKeyID: rc.APIKeyID,
		Details:  details,
	})
}

// checkStateAllows enforces the canUpdate and canDelete flags of the row's state.
func checkStateAllows(entity *metadata.Entity, row *Row, op string) error {
	state := entity.GetState(row.WorkflowState)
	if state == nil {
		return nil
	}
	switch {
	case op == OpUpdate && !state.CanUpdate:
		return StateLockedError(state.Name, "updated")
	case op == OpDelete && !state.CanDelete:
		return StateLockedError(state.Name, "deleted")
	}
	return nil
}

func fetchRow(ctx context.Context, q store.Querier, entity *metadata.Entity, id string) (*Row, error) {
	rec, err := store.QueryRow(ctx, q,
		"SELECT "+rowColumns+" FROM _rows r WHERE r.id = $1 AND r.entity_id = $2", id, entity.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch %s/%s: %w", entity.Name, id, err)
	}
	return rowFromRecord(rec), nil
}

// fetchRowByID loads a row of any entity.
func fetchRowByID(ctx context.Context, q store.Querier, id string) (*Row, error) {
	rec, err := store.QueryRow(ctx, q, "SELECT "+rowColumns+" FROM _rows r WHERE r.id = $1", id)
	if err != nil {
		return nil, err
	}
	return rowFromRecord(rec), nil
}

func rowFromRecord(rec map[string]any) *Row {
	created, _ := store.AsTime(rec["created_at"])
	updated, _ := store.AsTime(rec["updated_at"])
	return &Row{
		ID:                store.AsString(rec["id"]),
		EntityID:          store.AsString(rec["entity_id"]),
		TenantID:          store.AsString(rec["tenant_id"]),
		Folio:             store.AsInt(rec["folio"]),
		WorkflowState:     store.AsString(rec["workflow_state"]),
		CreatedByUserID:   store.AsString(rec["created_by_user_id"]),
		CreatedByAPIKeyID: store.AsString(rec["created_by_api_key_id"]),
		CreatedAt:         created,
		UpdatedAt:         updated,
		Values:            make(map[string]Value),
	}
}
