package importer

import (
	"fmt"
	"slices"
	"strings"

	"adminpanel/internal/engine"
	"adminpanel/internal/metadata"
)

// MediaSuffix marks a mapped property whose raw value is a file URL.
const MediaSuffix = "[]"

// ColumnMapping assigns a raw column to a property. An empty Property
// leaves the column unmapped.
type ColumnMapping struct {
	Column   string `json:"column"`
	Property string `json:"property"`
	Primary  bool   `json:"primary,omitempty"`
}

type Mapping struct {
	Columns []ColumnMapping `json:"columns"`
}

// ImportRow is one mapped line. RowID and Error are filled in by Commit.
type ImportRow struct {
	Line    int               `json:"line"`
	Values  map[string]string `json:"values"`
	Primary string            `json:"primary,omitempty"`
	RowID   string            `json:"rowId,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Map applies the mapping to every parsed row. Unmapped columns are
// dropped. At most one column may be primary and a property may be the
// target of one column only.
func Map(parsed *Parsed, m Mapping) ([]*ImportRow, error) {
	if details := m.validate(); len(details) > 0 {
		return nil, engine.ValidationError(details)
	}

	targets := make(map[string]ColumnMapping, len(m.Columns))
	for _, cm := range m.Columns {
		if cm.Property != "" {
			targets[cm.Column] = cm
		}
	}

	rows := make([]*ImportRow, 0, len(parsed.Rows))
	for i, cells := range parsed.Rows {
		row := &ImportRow{Line: i + 1, Values: make(map[string]string, len(targets))}
		for _, cell := range cells {
			cm, ok := targets[cell.Column]
			if !ok {
				continue
			}
			row.Values[cm.Property] = cell.Value
			if cm.Primary {
				row.Primary = cell.Value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m Mapping) validate() []engine.ErrorDetail {
	var details []engine.ErrorDetail
	seen := make(map[string]string)
	primary := ""
	for _, cm := range m.Columns {
		if cm.Property == "" {
			continue
		}
		if prev, ok := seen[cm.Property]; ok {
			details = append(details, engine.ErrorDetail{
				Field:   cm.Property,
				Rule:    "unique",
				Message: fmt.Sprintf("already mapped from column %q", prev),
			})
			continue
		}
		seen[cm.Property] = cm.Column
		if cm.Primary {
			if primary != "" {
				details = append(details, engine.ErrorDetail{
					Field:   cm.Column,
					Rule:    "primary",
					Message: fmt.Sprintf("column %q is already the primary column", primary),
				})
				continue
			}
			primary = cm.Column
		}
	}
	return details
}

// CheckProperties reports mapped properties the entity does not define or
// that cannot be written.
func CheckProperties(entity *metadata.Entity, m Mapping) error {
	var details []engine.ErrorDetail
	for _, cm := range m.Columns {
		if cm.Property == "" {
			continue
		}
		name, media := PropertyName(cm.Property)
		prop := entity.GetProperty(name)
		switch {
		case prop == nil:
			details = append(details, engine.ErrorDetail{Field: cm.Property, Rule: "unknown", Message: "unknown property"})
		case prop.Type == metadata.TypeFormula || prop.IsDefault:
			details = append(details, engine.ErrorDetail{Field: cm.Property, Rule: "readonly", Message: "property cannot be imported"})
		case media && prop.Type != metadata.TypeMedia:
			details = append(details, engine.ErrorDetail{Field: cm.Property, Rule: "type", Message: "only media properties take the [] suffix"})
		}
	}
	if len(details) > 0 {
		return engine.ValidationError(details)
	}
	return nil
}

// MappingOf rebuilds the mapping implied by the value keys of mapped rows,
// so rows submitted back by a client can be checked like a fresh mapping.
func MappingOf(rows []*ImportRow) Mapping {
	seen := make(map[string]struct{})
	var m Mapping
	for _, r := range rows {
		for name := range r.Values {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			m.Columns = append(m.Columns, ColumnMapping{Column: name, Property: name})
		}
	}
	slices.SortFunc(m.Columns, func(a, b ColumnMapping) int { return strings.Compare(a.Property, b.Property) })
	return m
}

// PropertyName strips the media suffix from a mapped name.
func PropertyName(mapped string) (string, bool) {
	if strings.HasSuffix(mapped, MediaSuffix) {
		return strings.TrimSuffix(mapped, MediaSuffix), true
	}
	return mapped, false
}

// Dedupe keeps the first row for each distinct primary value, in order.
// Rows without a primary value are always kept.
func Dedupe(rows []*ImportRow) (kept []*ImportRow, duplicates int) {
	seen := make(map[string]struct{}, len(rows))
	kept = make([]*ImportRow, 0, len(rows))
	for _, r := range rows {
		if r.Primary != "" {
			if _, dup := seen[r.Primary]; dup {
				duplicates++
				continue
			}
			seen[r.Primary] = struct{}{}
		}
		kept = append(kept, r)
	}
	return kept, duplicates
}
