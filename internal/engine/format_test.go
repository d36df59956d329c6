package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"adminpanel/internal/metadata"
)

func TestFormatValue(t *testing.T) {
	lo := decimal.NewFromInt(10)
	hi := decimal.NewFromInt(2500)
	date := time.Date(2026, 7, 4, 9, 5, 0, 0, time.UTC)
	status := &metadata.Property{Type: metadata.TypeSelect, Options: []metadata.PropertyOption{{Value: "new", Name: "New"}}}

	tests := []struct {
		name string
		prop *metadata.Property
		v    Value
		want string
	}{
		{"nil", &metadata.Property{Type: metadata.TypeText}, nil, ""},
		{"text", &metadata.Property{Type: metadata.TypeText}, TextValue("hello"), "hello"},
		{"select option name", status, TextValue("new"), "New"},
		{"select unknown option", status, TextValue("old"), "old"},
		{"currency", &metadata.Property{Type: metadata.TypeNumber, Format: metadata.FormatCurrency},
			NumberValue(decimal.RequireFromString("1234.5")), "$1,234.50"},
		{"negative currency", &metadata.Property{Type: metadata.TypeNumber, Format: metadata.FormatCurrency},
			NumberValue(decimal.RequireFromString("-1234567.891")), "-$1,234,567.89"},
		{"integer", &metadata.Property{Type: metadata.TypeNumber, Format: metadata.FormatInteger},
			NumberValue(decimal.RequireFromString("9876.6")), "9,877"},
		{"percentage", &metadata.Property{Type: metadata.TypeNumber, Format: metadata.FormatPercentage},
			NumberValue(decimal.RequireFromString("12.5")), "12.5%"},
		{"plain number", &metadata.Property{Type: metadata.TypeNumber},
			NumberValue(decimal.RequireFromString("1234.5")), "1234.5"},
		{"date", &metadata.Property{Type: metadata.TypeDate}, DateValue(date), "2026-07-04"},
		{"datetime", &metadata.Property{Type: metadata.TypeDate, Format: metadata.FormatDateTime}, DateValue(date), "2026-07-04 09:05"},
		{"boolean default", &metadata.Property{Type: metadata.TypeBoolean}, BooleanValue(true), "Yes"},
		{"boolean active", &metadata.Property{Type: metadata.TypeBoolean, Format: metadata.FormatActiveInactive}, BooleanValue(false), "Inactive"},
		{"media", &metadata.Property{Type: metadata.TypeMedia},
			MediaValue{{Title: "Scan", Name: "scan.pdf"}, {Name: "photo.png"}}, "Scan, photo.png"},
		{"multi", &metadata.Property{Type: metadata.TypeMultiSelect, Options: []metadata.PropertyOption{{Value: "a", Name: "Alpha"}, {Value: "b"}}},
			MultipleValue{"a", "b"}, "Alpha, b"},
		{"number range", &metadata.Property{Type: metadata.TypeRange, Format: metadata.FormatInteger},
			NumberRangeValue{Min: &lo, Max: &hi}, "10 - 2,500"},
		{"open date range", &metadata.Property{Type: metadata.TypeRange, Subtype: metadata.SubtypeRangeDate},
			DateRangeValue{Min: &date}, "2026-07-04 - "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.prop, tt.v))
		})
	}
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "1", groupThousands("1"))
	assert.Equal(t, "999", groupThousands("999"))
	assert.Equal(t, "1,000", groupThousands("1000"))
	assert.Equal(t, "-12,345.67", groupThousands("-12345.67"))
}
