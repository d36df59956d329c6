package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// Relationship links a parent row to a child row. The child's entity must
// be declared as a child of the parent's entity.
type Relationship struct {
	ID              string    `json:"id"`
	ParentID        string    `json:"parentId"`
	ChildID         string    `json:"childId"`
	CreatedByUserID string    `json:"createdByUserId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

type RelationshipService struct {
	store    *store.Store
	registry *metadata.Registry
	rows     *RowService
}

func NewRelationshipService(s *store.Store, reg *metadata.Registry, rows *RowService) *RelationshipService {
	return &RelationshipService{store: s, registry: reg, rows: rows}
}

const relationshipColumns = "id, parent_id, child_id, created_by_user_id, created_at"

// List returns the links of a parent and/or child row. At least one is required
// and the caller must be able to read each named row.
func (rs *RelationshipService) List(ctx context.Context, rc *metadata.RequestContext, parentID, childID string) ([]Relationship, error) {
	if parentID == "" && childID == "" {
		return nil, InvalidPayloadError("parentId or childId is required")
	}

	pb := rs.store.Dialect.NewParamBuilder()
	var where []string
	for _, f := range []struct{ col, id string }{{"parent_id", parentID}, {"child_id", childID}} {
		if f.id == "" {
			continue
		}
		if _, _, err := rs.requireRow(ctx, rc, f.id, OpRead); err != nil {
			return nil, err
		}
		where = append(where, f.col+" = "+pb.Add(f.id))
	}

	query := "SELECT " + relationshipColumns + " FROM _row_relationships WHERE " + where[0]
	if len(where) > 1 {
		query += " AND " + where[1]
	}
	query += " ORDER BY created_at, id"

	recs, err := store.QueryRows(ctx, rs.store.Q(), query, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	out := make([]Relationship, 0, len(recs))
	for _, rec := range recs {
		out = append(out, relationshipFromRecord(rec))
	}
	return out, nil
}

// Create links two rows. The caller needs update access on the parent and
// read access on the child.
func (rs *RelationshipService) Create(ctx context.Context, rc *metadata.RequestContext, parentID, childID string) (*Relationship, error) {
	if parentID == "" || childID == "" {
		return nil, InvalidPayloadError("parentId and childId are required")
	}
	if parentID == childID {
		return nil, InvalidPayloadError("A row cannot be linked to itself")
	}

	_, parentEntity, err := rs.requireRow(ctx, rc, parentID, OpUpdate)
	if err != nil {
		return nil, err
	}
	_, childEntity, err := rs.requireRow(ctx, rc, childID, OpRead)
	if err != nil {
		return nil, err
	}
	if !parentEntity.AllowsChild(childEntity.Name) {
		return nil, InvalidPayloadError(fmt.Sprintf("%s rows cannot be linked under %s rows", childEntity.Name, parentEntity.Name))
	}

	rel := &Relationship{
		ID:              uuid.New().String(),
		ParentID:        parentID,
		ChildID:         childID,
		CreatedByUserID: rc.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	_, err = store.Exec(ctx, rs.store.Q(),
		`INSERT INTO _row_relationships (id, parent_id, child_id, created_by_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rel.ID, rel.ParentID, rel.ChildID, store.NullString(rel.CreatedByUserID), rs.store.Dialect.TimeParam(rel.CreatedAt))
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, ConflictError("These rows are already linked")
		}
		return nil, fmt.Errorf("insert relationship: %w", err)
	}
	return rel, nil
}

func (rs *RelationshipService) Get(ctx context.Context, rc *metadata.RequestContext, id string) (*Relationship, error) {
	rel, err := rs.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, _, err := rs.requireRow(ctx, rc, rel.ParentID, OpRead); err != nil {
		return nil, err
	}
	return rel, nil
}

func (rs *RelationshipService) Delete(ctx context.Context, rc *metadata.RequestContext, id string) error {
	rel, err := rs.load(ctx, id)
	if err != nil {
		return err
	}
	if _, _, err := rs.requireRow(ctx, rc, rel.ParentID, OpUpdate); err != nil {
		return err
	}
	if _, err := store.Exec(ctx, rs.store.Q(), "DELETE FROM _row_relationships WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	return nil
}

func (rs *RelationshipService) load(ctx context.Context, id string) (*Relationship, error) {
	rec, err := store.QueryRow(ctx, rs.store.Q(), "SELECT "+relationshipColumns+" FROM _row_relationships WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError("relationship", id)
		}
		return nil, fmt.Errorf("load relationship: %w", err)
	}
	rel := relationshipFromRecord(rec)
	return &rel, nil
}

// requireRow resolves a row of any entity and checks op on it.
func (rs *RelationshipService) requireRow(ctx context.Context, rc *metadata.RequestContext, id, op string) (*Row, *metadata.Entity, error) {
	row, err := fetchRowByID(ctx, rs.store.Q(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, NotFoundError("row", id)
		}
		return nil, nil, err
	}
	entity := rs.registry.GetByID(row.EntityID)
	if entity == nil {
		return nil, nil, NotFoundError("row", id)
	}
	if rc.IsAPIKey() && !entity.HasAPI {
		return nil, nil, NotFoundError("row", id)
	}
	row, _, err = rs.rows.Require(ctx, rc, entity, id, op)
	if err != nil {
		return nil, nil, err
	}
	return row, entity, nil
}

func relationshipFromRecord(rec map[string]any) Relationship {
	created, _ := store.AsTime(rec["created_at"])
	return Relationship{
		ID:              store.AsString(rec["id"]),
		ParentID:        store.AsString(rec["parent_id"]),
		ChildID:         store.AsString(rec["child_id"]),
		CreatedByUserID: store.AsString(rec["created_by_user_id"]),
		CreatedAt:       created,
	}
}
