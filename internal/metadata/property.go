package metadata

import (
	"fmt"
	"slices"
)

// PropertyType is the closed set of value types a property can hold.
type PropertyType string

const (
	TypeText        PropertyType = "text"
	TypeNumber      PropertyType = "number"
	TypeDate        PropertyType = "date"
	TypeBoolean     PropertyType = "boolean"
	TypeSelect      PropertyType = "select"
	TypeMedia       PropertyType = "media"
	TypeMultiSelect PropertyType = "multiSelect"
	TypeRange       PropertyType = "range"
	TypeFormula     PropertyType = "formula"
)

// PropertySubtype refines text (email/phone/url) and range (number/date) properties.
type PropertySubtype string

const (
	SubtypeEmail PropertySubtype = "email"
	SubtypePhone PropertySubtype = "phone"
	SubtypeURL   PropertySubtype = "url"

	SubtypeRangeNumber PropertySubtype = "number"
	SubtypeRangeDate   PropertySubtype = "date"
)

// Display formats per type.
const (
	FormatInteger    = "integer"
	FormatDecimal    = "decimal"
	FormatCurrency   = "currency"
	FormatPercentage = "percentage"

	FormatDateOnly = "date"
	FormatDateTime = "datetime"
	FormatTime     = "time"
	FormatISO      = "iso"

	FormatYesNo          = "yesNo"
	FormatTrueFalse      = "trueFalse"
	FormatActiveInactive = "activeInactive"
	FormatOnOff          = "onOff"
)

// StorageKind says where a property's value is persisted.
type StorageKind int

const (
	StorageText StorageKind = iota
	StorageNumber
	StorageDate
	StorageBoolean
	StorageMedia
	StorageMultiple
	StorageNumberRange
	StorageDateRange
	StorageComputed
)

type typeSpec struct {
	subtypes       []PropertySubtype
	formats        []string
	defaultSubtype PropertySubtype
	needsOptions   bool
}

var propertyTypes = map[PropertyType]typeSpec{
	TypeText:        {subtypes: []PropertySubtype{SubtypeEmail, SubtypePhone, SubtypeURL}},
	TypeNumber:      {formats: []string{FormatInteger, FormatDecimal, FormatCurrency, FormatPercentage}},
	TypeDate:        {formats: []string{FormatDateOnly, FormatDateTime, FormatTime, FormatISO}},
	TypeBoolean:     {formats: []string{FormatYesNo, FormatTrueFalse, FormatActiveInactive, FormatOnOff}},
	TypeSelect:      {needsOptions: true},
	TypeMedia:       {},
	TypeMultiSelect: {needsOptions: true},
	TypeRange: {
		subtypes:       []PropertySubtype{SubtypeRangeNumber, SubtypeRangeDate},
		formats:        []string{FormatInteger, FormatDecimal, FormatCurrency, FormatDateOnly, FormatDateTime},
		defaultSubtype: SubtypeRangeNumber,
	},
	TypeFormula: {formats: []string{FormatInteger, FormatDecimal, FormatCurrency, FormatPercentage}},
}

// Valid reports whether t is a known property type.
func (t PropertyType) Valid() bool {
	_, ok := propertyTypes[t]
	return ok
}

// PropertyTypes returns every supported type.
func PropertyTypes() []PropertyType {
	return []PropertyType{TypeText, TypeNumber, TypeDate, TypeBoolean, TypeSelect, TypeMedia, TypeMultiSelect, TypeRange, TypeFormula}
}

type PropertyOption struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

// PropertyAttributes are optional input constraints and hints.
type PropertyAttributes struct {
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	MaxLength    int      `json:"maxLength,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	Uppercase    bool     `json:"uppercase,omitempty"`
	Lowercase    bool     `json:"lowercase,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	Hint         string   `json:"hint,omitempty"`
}

type Property struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Title   string          `json:"title"`
	Type    PropertyType    `json:"type"`
	Subtype PropertySubtype `json:"subtype,omitempty"`
	Format  string          `json:"format,omitempty"`
	Order   int             `json:"order"`

	// IsDefault marks system-managed properties. They cannot be removed.
	IsDefault bool `json:"isDefault,omitempty"`
	// IsDynamic properties are stored in row values; the others are read from the row itself.
	IsDynamic bool `json:"isDynamic"`
	Required  bool `json:"required,omitempty"`

	Options    []PropertyOption   `json:"options,omitempty"`
	Formula    string             `json:"formula,omitempty"`
	Attributes PropertyAttributes `json:"attributes,omitempty"`
}

// Storage returns where values of this property are persisted.
func (p *Property) Storage() StorageKind {
	switch p.Type {
	case TypeText, TypeSelect:
		return StorageText
	case TypeNumber:
		return StorageNumber
	case TypeDate:
		return StorageDate
	case TypeBoolean:
		return StorageBoolean
	case TypeMedia:
		return StorageMedia
	case TypeMultiSelect:
		return StorageMultiple
	case TypeRange:
		if p.Subtype == SubtypeRangeDate {
			return StorageDateRange
		}
		return StorageNumberRange
	default:
		return StorageComputed
	}
}

// IsMultiValued reports whether values are kept in a child table and replaced in full.
func (p *Property) IsMultiValued() bool {
	switch p.Storage() {
	case StorageMedia, StorageMultiple, StorageNumberRange, StorageDateRange:
		return true
	default:
		return false
	}
}

// HasOption reports whether value is one of the select options.
func (p *Property) HasOption(value string) bool {
	for _, o := range p.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Validate checks the property definition against its type's rules.
func (p *Property) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("property name is required")
	}
	spec, ok := propertyTypes[p.Type]
	if !ok {
		return fmt.Errorf("property %s: unknown type %q", p.Name, p.Type)
	}
	if p.Subtype == "" {
		p.Subtype = spec.defaultSubtype
	}
	if p.Subtype != "" && !slices.Contains(spec.subtypes, p.Subtype) {
		return fmt.Errorf("property %s: subtype %q not allowed for %s", p.Name, p.Subtype, p.Type)
	}
	if p.Format != "" && !slices.Contains(spec.formats, p.Format) {
		return fmt.Errorf("property %s: format %q not allowed for %s", p.Name, p.Format, p.Type)
	}
	if spec.needsOptions && len(p.Options) == 0 {
		return fmt.Errorf("property %s: %s requires at least one option", p.Name, p.Type)
	}
	seen := make(map[string]bool, len(p.Options))
	for _, o := range p.Options {
		if o.Value == "" {
			return fmt.Errorf("property %s: option value is required", p.Name)
		}
		if seen[o.Value] {
			return fmt.Errorf("property %s: duplicate option %q", p.Name, o.Value)
		}
		seen[o.Value] = true
	}
	if p.Type == TypeFormula {
		if p.Formula == "" {
			return fmt.Errorf("property %s: formula is required", p.Name)
		}
		if p.Required {
			return fmt.Errorf("property %s: formula properties cannot be required", p.Name)
		}
	}
	return nil
}

// Names of the system-managed properties every entity carries.
const (
	PropertyFolio         = "folio"
	PropertyCreatedAt     = "createdAt"
	PropertyCreatedBy     = "createdBy"
	PropertyWorkflowState = "workflowState"
)

// IsSystemProperty reports whether name is reserved for a default property.
func IsSystemProperty(name string) bool {
	switch name {
	case PropertyFolio, PropertyCreatedAt, PropertyCreatedBy, PropertyWorkflowState:
		return true
	}
	return false
}

// DefaultProperties returns the system properties read from the row itself.
func DefaultProperties(withWorkflow bool) []Property {
	props := []Property{
		{Name: PropertyFolio, Title: "Folio", Type: TypeNumber, Format: FormatInteger, IsDefault: true},
		{Name: PropertyCreatedAt, Title: "Created at", Type: TypeDate, Format: FormatDateTime, IsDefault: true},
		{Name: PropertyCreatedBy, Title: "Created by", Type: TypeText, IsDefault: true},
	}
	if withWorkflow {
		props = append(props, Property{Name: PropertyWorkflowState, Title: "Workflow state", Type: TypeText, IsDefault: true})
	}
	return props
}
