package engine

import (
	"context"
	"fmt"
	"strings"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// Includes accepted by ?include=.
const (
	IncludeChildren = "children"
	IncludeParents  = "parents"
)

func parseIncludes(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var includes []string
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		switch name {
		case "":
			continue
		case IncludeChildren, IncludeParents:
			includes = append(includes, name)
		default:
			return nil, InvalidPayloadError(fmt.Sprintf("Unknown include: %s", name))
		}
	}
	return includes, nil
}

// LoadIncludes fetches the linked rows of each row that the caller can
// read. The result is keyed by row id, then by include name.
func (rs *RowService) LoadIncludes(ctx context.Context, rc *metadata.RequestContext, reg *metadata.Registry, rows []*Row, includes []string) (map[string]map[string][]map[string]any, error) {
	out := make(map[string]map[string][]map[string]any, len(rows))
	if len(rows) == 0 || len(includes) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
		out[r.ID] = make(map[string][]map[string]any, len(includes))
		for _, inc := range includes {
			out[r.ID][inc] = []map[string]any{}
		}
	}

	for _, inc := range includes {
		// children join on the child side, parents on the parent side
		anchor, linked := "rel.parent_id", "rel.child_id"
		if inc == IncludeParents {
			anchor, linked = "rel.child_id", "rel.parent_id"
		}

		d := rs.store.Dialect
		pb := d.NewParamBuilder()
		query := fmt.Sprintf("SELECT %s AS anchor_id, %s FROM _row_relationships rel JOIN _rows r ON r.id = %s WHERE %s",
			anchor, rowColumns, linked, d.InExpr(anchor, pb, ids))
		if vis := visibilityClause(rc, d, pb); vis != "" {
			query += " AND " + vis
		}
		query += " ORDER BY rel.created_at, r.folio"

		q := rs.store.Q()
		recs, err := store.QueryRows(ctx, q, query, pb.Params()...)
		if err != nil {
			return nil, fmt.Errorf("load include %s: %w", inc, err)
		}

		type linkedRow struct {
			anchor string
			row    *Row
		}
		links := make([]linkedRow, 0, len(recs))
		byEntity := make(map[string][]*Row)
		for _, rec := range recs {
			r := rowFromRecord(rec)
			links = append(links, linkedRow{anchor: store.AsString(rec["anchor_id"]), row: r})
			byEntity[r.EntityID] = append(byEntity[r.EntityID], r)
		}
		for entityID, group := range byEntity {
			entity := reg.GetByID(entityID)
			if entity == nil {
				continue
			}
			if err := rs.hydrate(ctx, q, entity, group); err != nil {
				return nil, err
			}
		}
		for _, l := range links {
			entity := reg.GetByID(l.row.EntityID)
			if entity == nil || (rc.IsAPIKey() && !entity.HasAPI) {
				continue
			}
			out[l.anchor][inc] = append(out[l.anchor][inc], RowToMap(entity, l.row))
		}
	}
	return out, nil
}
