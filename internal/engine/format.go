package engine

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"adminpanel/internal/metadata"
)

var booleanLabels = map[string][2]string{
	metadata.FormatYesNo:          {"Yes", "No"},
	metadata.FormatTrueFalse:      {"True", "False"},
	metadata.FormatActiveInactive: {"Active", "Inactive"},
	metadata.FormatOnOff:          {"On", "Off"},
}

var dateDisplayLayouts = map[string]string{
	metadata.FormatDateOnly: "2006-01-02",
	metadata.FormatDateTime: "2006-01-02 15:04",
	metadata.FormatTime:     "15:04",
	metadata.FormatISO:      time.RFC3339,
}

// FormatValue renders a value for display according to the property's format.
// A nil value renders as the empty string.
func FormatValue(prop *metadata.Property, v Value) string {
	switch val := v.(type) {
	case nil:
		return ""
	case TextValue:
		if prop.Type == metadata.TypeSelect {
			return optionName(prop, string(val))
		}
		return string(val)
	case NumberValue:
		return formatNumber(prop.Format, val.Decimal())
	case DateValue:
		return formatDate(prop.Format, val.Time())
	case BooleanValue:
		labels, ok := booleanLabels[prop.Format]
		if !ok {
			labels = booleanLabels[metadata.FormatYesNo]
		}
		if val {
			return labels[0]
		}
		return labels[1]
	case MediaValue:
		names := make([]string, 0, len(val))
		for _, m := range val {
			if m.Title != "" {
				names = append(names, m.Title)
			} else {
				names = append(names, m.Name)
			}
		}
		return strings.Join(names, ", ")
	case MultipleValue:
		names := make([]string, 0, len(val))
		for _, s := range val {
			names = append(names, optionName(prop, s))
		}
		return strings.Join(names, ", ")
	case NumberRangeValue:
		var lo, hi string
		if val.Min != nil {
			lo = formatNumber(prop.Format, *val.Min)
		}
		if val.Max != nil {
			hi = formatNumber(prop.Format, *val.Max)
		}
		return lo + " - " + hi
	case DateRangeValue:
		var lo, hi string
		if val.Min != nil {
			lo = formatDate(prop.Format, *val.Min)
		}
		if val.Max != nil {
			hi = formatDate(prop.Format, *val.Max)
		}
		return lo + " - " + hi
	}
	return ""
}

func optionName(prop *metadata.Property, value string) string {
	for _, o := range prop.Options {
		if o.Value == value && o.Name != "" {
			return o.Name
		}
	}
	return value
}

func formatNumber(format string, d decimal.Decimal) string {
	switch format {
	case metadata.FormatInteger:
		return groupThousands(d.Round(0).String())
	case metadata.FormatDecimal:
		return groupThousands(d.StringFixed(2))
	case metadata.FormatCurrency:
		if d.IsNegative() {
			return "-$" + groupThousands(d.Abs().StringFixed(2))
		}
		return "$" + groupThousands(d.StringFixed(2))
	case metadata.FormatPercentage:
		return d.String() + "%"
	}
	return d.String()
}

func formatDate(format string, t time.Time) string {
	layout, ok := dateDisplayLayouts[format]
	if !ok {
		layout = dateDisplayLayouts[metadata.FormatDateOnly]
	}
	return t.UTC().Format(layout)
}

// groupThousands inserts commas into the integer part of a decimal string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}
	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}
