package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"adminpanel/internal/metadata"
	"adminpanel/internal/store"
)

// ValueStore persists row values. It performs no validation: callers route
// input through ParseInput first.
type ValueStore struct {
	dialect store.Dialect
}

func NewValueStore(dialect store.Dialect) *ValueStore {
	return &ValueStore{dialect: dialect}
}

// SetValues writes values for the row. Scalars upsert their single record;
// media, multiple and range values are replaced in full.
func (vs *ValueStore) SetValues(ctx context.Context, q store.Querier, entity *metadata.Entity, row *Row, values []PropertyValue) (*Row, error) {
	if row.Values == nil {
		row.Values = make(map[string]Value)
	}
	for _, pv := range values {
		prop := pv.Property
		if prop == nil || entity.GetPropertyByID(prop.ID) == nil {
			return nil, fmt.Errorf("set values on %s: unknown property", entity.Name)
		}
		kind := prop.Storage()
		if kind == metadata.StorageComputed || (pv.Value != nil && pv.Value.Kind() != kind) {
			return nil, fmt.Errorf("property %s: %w", prop.Name, ErrValueKindMismatch)
		}

		var err error
		if prop.IsMultiValued() {
			err = vs.replaceMulti(ctx, q, row.ID, prop, pv.Value)
		} else {
			err = vs.upsertScalar(ctx, q, row.ID, prop, pv.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("set %s.%s: %w", entity.Name, prop.Name, err)
		}

		if pv.Value == nil {
			delete(row.Values, prop.ID)
		} else {
			row.Values[prop.ID] = pv.Value
		}
	}

	row.UpdatedAt = time.Now().UTC()
	if _, err := store.Exec(ctx, q, "UPDATE _rows SET updated_at = $1 WHERE id = $2",
		vs.dialect.TimeParam(row.UpdatedAt), row.ID); err != nil {
		return nil, fmt.Errorf("touch row: %w", err)
	}
	return row, nil
}

func (vs *ValueStore) upsertScalar(ctx context.Context, q store.Querier, rowID string, prop *metadata.Property, v Value) error {
	if v == nil {
		_, err := store.Exec(ctx, q, "DELETE FROM _row_values WHERE row_id = $1 AND property_id = $2", rowID, prop.ID)
		return err
	}

	var text, number, date, boolean any
	switch val := v.(type) {
	case TextValue:
		text = string(val)
	case NumberValue:
		number = val.Decimal().String()
	case DateValue:
		date = vs.dialect.TimeParam(val.Time())
	case BooleanValue:
		boolean = bool(val)
	default:
		return ErrValueKindMismatch
	}

	_, err := store.Exec(ctx, q,
		`INSERT INTO _row_values (id, row_id, property_id, text_value, number_value, date_value, boolean_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (row_id, property_id) DO UPDATE SET
		   text_value = EXCLUDED.text_value,
		   number_value = EXCLUDED.number_value,
		   date_value = EXCLUDED.date_value,
		   boolean_value = EXCLUDED.boolean_value`,
		uuid.New().String(), rowID, prop.ID, text, number, date, boolean)
	return err
}

func (vs *ValueStore) replaceMulti(ctx context.Context, q store.Querier, rowID string, prop *metadata.Property, v Value) error {
	table := multiTable(prop.Storage())
	if _, err := store.Exec(ctx, q,
		fmt.Sprintf("DELETE FROM %s WHERE row_id = $1 AND property_id = $2", table), rowID, prop.ID); err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case MediaValue:
		for i, m := range val {
			if _, err := store.Exec(ctx, q,
				`INSERT INTO _row_media (id, row_id, property_id, title, name, file, type, public_url, storage_provider, ord)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				uuid.New().String(), rowID, prop.ID, m.Title, m.Name, m.File, m.Type, m.PublicURL, m.StorageProvider, i); err != nil {
				return err
			}
		}
	case MultipleValue:
		for i, s := range val {
			if _, err := store.Exec(ctx, q,
				`INSERT INTO _row_value_multiples (id, row_id, property_id, ord, value) VALUES ($1, $2, $3, $4, $5)`,
				uuid.New().String(), rowID, prop.ID, i, s); err != nil {
				return err
			}
		}
	case NumberRangeValue:
		var lo, hi any
		if val.Min != nil {
			lo = val.Min.String()
		}
		if val.Max != nil {
			hi = val.Max.String()
		}
		if _, err := store.Exec(ctx, q,
			`INSERT INTO _row_value_ranges (id, row_id, property_id, number_min, number_max) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), rowID, prop.ID, lo, hi); err != nil {
			return err
		}
	case DateRangeValue:
		var lo, hi any
		if val.Min != nil {
			lo = vs.dialect.TimeParam(*val.Min)
		}
		if val.Max != nil {
			hi = vs.dialect.TimeParam(*val.Max)
		}
		if _, err := store.Exec(ctx, q,
			`INSERT INTO _row_value_ranges (id, row_id, property_id, date_min, date_max) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), rowID, prop.ID, lo, hi); err != nil {
			return err
		}
	default:
		return ErrValueKindMismatch
	}
	return nil
}

func multiTable(kind metadata.StorageKind) string {
	switch kind {
	case metadata.StorageMedia:
		return "_row_media"
	case metadata.StorageMultiple:
		return "_row_value_multiples"
	default:
		return "_row_value_ranges"
	}
}

// Load assembles the values of many rows with one query per value table.
func (vs *ValueStore) Load(ctx context.Context, q store.Querier, entity *metadata.Entity, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, len(rows))
	byID := make(map[string]*Row, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		byID[r.ID] = r
		r.Values = make(map[string]Value)
	}

	scalars, err := vs.selectIn(ctx, q,
		"SELECT row_id, property_id, text_value, number_value, date_value, boolean_value FROM _row_values WHERE %s", ids)
	if err != nil {
		return fmt.Errorf("load values: %w", err)
	}
	for _, rec := range scalars {
		row, prop := vs.target(entity, byID, rec)
		if prop == nil {
			continue
		}
		if v := scalarValue(prop, rec); v != nil {
			row.Values[prop.ID] = v
		}
	}

	media, err := vs.selectIn(ctx, q,
		"SELECT row_id, property_id, title, name, file, type, public_url, storage_provider FROM _row_media WHERE %s ORDER BY ord", ids)
	if err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	for _, rec := range media {
		row, prop := vs.target(entity, byID, rec)
		if prop == nil || prop.Storage() != metadata.StorageMedia {
			continue
		}
		list, _ := row.Values[prop.ID].(MediaValue)
		row.Values[prop.ID] = append(list, Media{
			Title:           store.AsString(rec["title"]),
			Name:            store.AsString(rec["name"]),
			File:            store.AsString(rec["file"]),
			Type:            store.AsString(rec["type"]),
			PublicURL:       store.AsString(rec["public_url"]),
			StorageProvider: store.AsString(rec["storage_provider"]),
		})
	}

	multiples, err := vs.selectIn(ctx, q,
		"SELECT row_id, property_id, value FROM _row_value_multiples WHERE %s ORDER BY ord", ids)
	if err != nil {
		return fmt.Errorf("load multiples: %w", err)
	}
	for _, rec := range multiples {
		row, prop := vs.target(entity, byID, rec)
		if prop == nil || prop.Storage() != metadata.StorageMultiple {
			continue
		}
		list, _ := row.Values[prop.ID].(MultipleValue)
		row.Values[prop.ID] = append(list, store.AsString(rec["value"]))
	}

	ranges, err := vs.selectIn(ctx, q,
		"SELECT row_id, property_id, number_min, number_max, date_min, date_max FROM _row_value_ranges WHERE %s", ids)
	if err != nil {
		return fmt.Errorf("load ranges: %w", err)
	}
	for _, rec := range ranges {
		row, prop := vs.target(entity, byID, rec)
		if prop == nil {
			continue
		}
		switch prop.Storage() {
		case metadata.StorageNumberRange:
			var r NumberRangeValue
			if d, ok := store.AsDecimal(rec["number_min"]); ok {
				r.Min = &d
			}
			if d, ok := store.AsDecimal(rec["number_max"]); ok {
				r.Max = &d
			}
			row.Values[prop.ID] = r
		case metadata.StorageDateRange:
			var r DateRangeValue
			if t, ok := store.AsTime(rec["date_min"]); ok {
				r.Min = &t
			}
			if t, ok := store.AsTime(rec["date_max"]); ok {
				r.Max = &t
			}
			row.Values[prop.ID] = r
		}
	}
	return nil
}

func (vs *ValueStore) selectIn(ctx context.Context, q store.Querier, query string, ids []string) ([]map[string]any, error) {
	pb := vs.dialect.NewParamBuilder()
	where := vs.dialect.InExpr("row_id", pb, ids)
	return store.QueryRows(ctx, q, fmt.Sprintf(query, where), pb.Params()...)
}

func (vs *ValueStore) target(entity *metadata.Entity, byID map[string]*Row, rec map[string]any) (*Row, *metadata.Property) {
	row := byID[store.AsString(rec["row_id"])]
	if row == nil {
		return nil, nil
	}
	return row, entity.GetPropertyByID(store.AsString(rec["property_id"]))
}

func scalarValue(prop *metadata.Property, rec map[string]any) Value {
	switch prop.Storage() {
	case metadata.StorageText:
		if rec["text_value"] == nil {
			return nil
		}
		return TextValue(store.AsString(rec["text_value"]))
	case metadata.StorageNumber:
		if d, ok := store.AsDecimal(rec["number_value"]); ok {
			return NumberValue(d)
		}
	case metadata.StorageDate:
		if t, ok := store.AsTime(rec["date_value"]); ok {
			return DateValue(t)
		}
	case metadata.StorageBoolean:
		if rec["boolean_value"] == nil {
			return nil
		}
		return BooleanValue(store.AsBool(rec["boolean_value"]))
	}
	return nil
}

// deleteRowData removes everything owned by the row, then the row itself.
func deleteRowData(ctx context.Context, q store.Querier, rowID string) error {
	for _, stmt := range []string{
		"DELETE FROM _row_values WHERE row_id = $1",
		"DELETE FROM _row_media WHERE row_id = $1",
		"DELETE FROM _row_value_multiples WHERE row_id = $1",
		"DELETE FROM _row_value_ranges WHERE row_id = $1",
		"DELETE FROM _row_tags WHERE row_id = $1",
		"DELETE FROM _row_tasks WHERE row_id = $1",
		"DELETE FROM _row_permissions WHERE row_id = $1",
		"DELETE FROM _row_relationships WHERE parent_id = $1 OR child_id = $1",
	} {
		if _, err := store.Exec(ctx, q, stmt, rowID); err != nil {
			return err
		}
	}
	n, err := store.Exec(ctx, q, "DELETE FROM _rows WHERE id = $1", rowID)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
