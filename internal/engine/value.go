package engine

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"adminpanel/internal/metadata"
)

// Value is a typed property value. The set of implementations is closed:
// each one maps to exactly one metadata.StorageKind.
type Value interface {
	Kind() metadata.StorageKind
}

type (
	TextValue     string
	NumberValue   decimal.Decimal
	DateValue     time.Time
	BooleanValue  bool
	MediaValue    []Media
	MultipleValue []string
)

// NumberRangeValue is a numeric interval. Either bound may be open.
type NumberRangeValue struct {
	Min *decimal.Decimal `json:"min"`
	Max *decimal.Decimal `json:"max"`
}

// DateRangeValue is a date interval. Either bound may be open.
type DateRangeValue struct {
	Min *time.Time `json:"min"`
	Max *time.Time `json:"max"`
}

// Media is one file attached to a media property.
type Media struct {
	Title           string `json:"title"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	PublicURL       string `json:"publicUrl"`
	File            string `json:"file,omitempty"`
	StorageProvider string `json:"storageProvider,omitempty"`
}

func (TextValue) Kind() metadata.StorageKind        { return metadata.StorageText }
func (NumberValue) Kind() metadata.StorageKind      { return metadata.StorageNumber }
func (DateValue) Kind() metadata.StorageKind        { return metadata.StorageDate }
func (BooleanValue) Kind() metadata.StorageKind     { return metadata.StorageBoolean }
func (MediaValue) Kind() metadata.StorageKind       { return metadata.StorageMedia }
func (MultipleValue) Kind() metadata.StorageKind    { return metadata.StorageMultiple }
func (NumberRangeValue) Kind() metadata.StorageKind { return metadata.StorageNumberRange }
func (DateRangeValue) Kind() metadata.StorageKind   { return metadata.StorageDateRange }

// Decimal returns the number as a decimal.
func (v NumberValue) Decimal() decimal.Decimal { return decimal.Decimal(v) }

// Time returns the date as a time.
func (v DateValue) Time() time.Time { return time.Time(v) }

// PropertyValue pairs a property with the value to write. A nil Value clears it.
type PropertyValue struct {
	Property *metadata.Property
	Value    Value
}

// Row is one record of an entity with its loaded values.
type Row struct {
	ID                string
	EntityID          string
	TenantID          string
	Folio             int64
	WorkflowState     string
	CreatedByUserID   string
	CreatedByAPIKeyID string
	CreatedAt         time.Time
	UpdatedAt         time.Time

	// Values is keyed by property id.
	Values map[string]Value
	Tags   []Tag
}

// CreatedBy returns the user or API key that created the row.
func (r *Row) CreatedBy() string {
	if r.CreatedByUserID != "" {
		return r.CreatedByUserID
	}
	return r.CreatedByAPIKeyID
}

// GetValue returns the value of the named property. Default properties are
// read from the row itself and formulas are computed from the other values.
func GetValue(entity *metadata.Entity, row *Row, name string) (Value, bool) {
	prop := entity.GetProperty(name)
	if prop == nil {
		return nil, false
	}
	if prop.IsDefault {
		return systemValue(row, prop.Name)
	}
	if prop.Type == metadata.TypeFormula {
		return computeFormula(entity, row, prop)
	}
	v, ok := row.Values[prop.ID]
	return v, ok && v != nil
}

func systemValue(row *Row, name string) (Value, bool) {
	switch name {
	case metadata.PropertyFolio:
		return NumberValue(decimal.NewFromInt(row.Folio)), true
	case metadata.PropertyCreatedAt:
		return DateValue(row.CreatedAt), !row.CreatedAt.IsZero()
	case metadata.PropertyCreatedBy:
		return TextValue(row.CreatedBy()), row.CreatedBy() != ""
	case metadata.PropertyWorkflowState:
		return TextValue(row.WorkflowState), row.WorkflowState != ""
	}
	return nil, false
}

func GetText(entity *metadata.Entity, row *Row, name string) (string, bool) {
	v, ok := GetValue(entity, row, name)
	t, isText := v.(TextValue)
	return string(t), ok && isText
}

func GetNumber(entity *metadata.Entity, row *Row, name string) (decimal.Decimal, bool) {
	v, ok := GetValue(entity, row, name)
	n, isNumber := v.(NumberValue)
	return n.Decimal(), ok && isNumber
}

func GetDate(entity *metadata.Entity, row *Row, name string) (time.Time, bool) {
	v, ok := GetValue(entity, row, name)
	d, isDate := v.(DateValue)
	return d.Time(), ok && isDate
}

func GetBoolean(entity *metadata.Entity, row *Row, name string) (bool, bool) {
	v, ok := GetValue(entity, row, name)
	b, isBool := v.(BooleanValue)
	return bool(b), ok && isBool
}

func GetMedia(entity *metadata.Entity, row *Row, name string) []Media {
	v, _ := GetValue(entity, row, name)
	m, _ := v.(MediaValue)
	return m
}

func GetMultiple(entity *metadata.Entity, row *Row, name string) []string {
	v, _ := GetValue(entity, row, name)
	m, _ := v.(MultipleValue)
	return m
}

func GetNumberRange(entity *metadata.Entity, row *Row, name string) (NumberRangeValue, bool) {
	v, ok := GetValue(entity, row, name)
	r, isRange := v.(NumberRangeValue)
	return r, ok && isRange
}

func GetDateRange(entity *metadata.Entity, row *Row, name string) (DateRangeValue, bool) {
	v, ok := GetValue(entity, row, name)
	r, isRange := v.(DateRangeValue)
	return r, ok && isRange
}

// valueJSON renders a value for API responses.
func valueJSON(v Value) any {
	switch val := v.(type) {
	case TextValue:
		return string(val)
	case NumberValue:
		return json.Number(val.Decimal().String())
	case DateValue:
		return val.Time().UTC().Format(time.RFC3339)
	case BooleanValue:
		return bool(val)
	case MediaValue:
		if val == nil {
			return []Media{}
		}
		return []Media(val)
	case MultipleValue:
		if val == nil {
			return []string{}
		}
		return []string(val)
	case NumberRangeValue:
		out := map[string]any{"min": nil, "max": nil}
		if val.Min != nil {
			out["min"] = json.Number(val.Min.String())
		}
		if val.Max != nil {
			out["max"] = json.Number(val.Max.String())
		}
		return out
	case DateRangeValue:
		out := map[string]any{"min": nil, "max": nil}
		if val.Min != nil {
			out["min"] = val.Min.UTC().Format(time.RFC3339)
		}
		if val.Max != nil {
			out["max"] = val.Max.UTC().Format(time.RFC3339)
		}
		return out
	}
	return nil
}

// valueEnv converts a value into plain Go types for expression evaluation.
func valueEnv(v Value) any {
	switch val := v.(type) {
	case TextValue:
		return string(val)
	case NumberValue:
		return val.Decimal().InexactFloat64()
	case DateValue:
		return val.Time()
	case BooleanValue:
		return bool(val)
	case MediaValue:
		return len(val)
	case MultipleValue:
		return []string(val)
	case NumberRangeValue:
		out := map[string]any{}
		if val.Min != nil {
			out["min"] = val.Min.InexactFloat64()
		}
		if val.Max != nil {
			out["max"] = val.Max.InexactFloat64()
		}
		return out
	case DateRangeValue:
		out := map[string]any{}
		if val.Min != nil {
			out["min"] = *val.Min
		}
		if val.Max != nil {
			out["max"] = *val.Max
		}
		return out
	}
	return nil
}

// RowEnv returns the row's values keyed by property name, excluding formulas.
func RowEnv(entity *metadata.Entity, row *Row) map[string]any {
	env := make(map[string]any, len(entity.Properties))
	for _, p := range entity.Properties {
		if p.Type == metadata.TypeFormula {
			continue
		}
		if v, ok := GetValue(entity, row, p.Name); ok {
			env[p.Name] = valueEnv(v)
		} else {
			env[p.Name] = nil
		}
	}
	return env
}

// RowToMap renders a row for API responses.
func RowToMap(entity *metadata.Entity, row *Row) map[string]any {
	values := make(map[string]any, len(entity.Properties))
	for _, p := range entity.Properties {
		if p.IsDefault {
			continue
		}
		if v, ok := GetValue(entity, row, p.Name); ok {
			values[p.Name] = valueJSON(v)
		} else {
			values[p.Name] = nil
		}
	}

	tags := row.Tags
	if tags == nil {
		tags = []Tag{}
	}
	out := map[string]any{
		"id":                row.ID,
		"entity":            entity.Name,
		"folio":             row.Folio,
		"displayId":         entity.FormatFolio(row.Folio),
		"createdAt":         row.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":         row.UpdatedAt.UTC().Format(time.RFC3339),
		"createdByUserId":   row.CreatedByUserID,
		"createdByApiKeyId": row.CreatedByAPIKeyID,
		"values":            values,
		"tags":              tags,
	}
	if entity.HasWorkflow() {
		out["workflowState"] = row.WorkflowState
	}
	return out
}
