package engine

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"adminpanel/internal/metadata"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9 ()\-.]{6,20}$`)

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"}

// ParseInput translates raw API or form input into typed property values.
// It is the only place where a property type decides how input is read.
// With partial set, properties absent from input are left untouched;
// otherwise absent required properties fail validation.
func ParseInput(entity *metadata.Entity, input map[string]any, partial bool) ([]PropertyValue, []ErrorDetail) {
	var values []PropertyValue
	var errs []ErrorDetail

	for key := range input {
		p := entity.GetProperty(key)
		if p == nil {
			errs = append(errs, ErrorDetail{Field: key, Rule: "unknown", Message: fmt.Sprintf("unknown property %s", key)})
		}
	}

	for i := range entity.Properties {
		prop := &entity.Properties[i]
		if !prop.IsDynamic || prop.Type == metadata.TypeFormula {
			continue
		}

		raw, present := input[prop.Name]
		if !present {
			if partial {
				continue
			}
			if prop.Attributes.DefaultValue != "" {
				raw, present = prop.Attributes.DefaultValue, true
			}
		}
		if !present || isEmptyInput(raw) {
			if prop.Required {
				errs = append(errs, ErrorDetail{Field: prop.Name, Rule: "required", Message: fmt.Sprintf("%s is required", prop.Name)})
				continue
			}
			if present {
				values = append(values, PropertyValue{Property: prop})
			}
			continue
		}

		v, err := parseValue(prop, raw)
		if err != nil {
			errs = append(errs, ErrorDetail{Field: prop.Name, Rule: string(prop.Type), Message: fmt.Sprintf("%s: %v", prop.Name, err)})
			continue
		}
		values = append(values, PropertyValue{Property: prop, Value: v})
	}

	return values, errs
}

func isEmptyInput(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}
	return false
}

func parseValue(prop *metadata.Property, raw any) (Value, error) {
	switch prop.Type {
	case metadata.TypeText:
		s, err := parseText(prop, raw)
		if err != nil {
			return nil, err
		}
		return TextValue(s), nil

	case metadata.TypeSelect:
		s := toString(raw)
		if !prop.HasOption(s) {
			return nil, fmt.Errorf("%q is not an option", s)
		}
		return TextValue(s), nil

	case metadata.TypeNumber:
		d, err := parseDecimal(raw)
		if err != nil {
			return nil, err
		}
		if err := checkNumber(prop, d); err != nil {
			return nil, err
		}
		return NumberValue(d), nil

	case metadata.TypeDate:
		t, err := parseDate(raw)
		if err != nil {
			return nil, err
		}
		return DateValue(t), nil

	case metadata.TypeBoolean:
		b, err := parseBool(raw)
		if err != nil {
			return nil, err
		}
		return BooleanValue(b), nil

	case metadata.TypeMultiSelect:
		items := toStrings(raw)
		for _, s := range items {
			if !prop.HasOption(s) {
				return nil, fmt.Errorf("%q is not an option", s)
			}
		}
		return MultipleValue(items), nil

	case metadata.TypeMedia:
		return parseMedia(raw)

	case metadata.TypeRange:
		return parseRange(prop, raw)

	case metadata.TypeFormula:
		return nil, fmt.Errorf("formula properties are computed")
	}
	return nil, fmt.Errorf("unsupported property type %s", prop.Type)
}

func parseText(prop *metadata.Property, raw any) (string, error) {
	s := strings.TrimSpace(toString(raw))
	attrs := prop.Attributes
	switch {
	case attrs.Uppercase:
		s = strings.ToUpper(s)
	case attrs.Lowercase:
		s = strings.ToLower(s)
	}
	if attrs.MaxLength > 0 && len([]rune(s)) > attrs.MaxLength {
		return "", fmt.Errorf("must be at most %d characters", attrs.MaxLength)
	}
	if attrs.Pattern != "" {
		matched, err := regexp.MatchString(attrs.Pattern, s)
		if err != nil || !matched {
			return "", fmt.Errorf("does not match pattern")
		}
	}

	switch prop.Subtype {
	case metadata.SubtypeEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return "", fmt.Errorf("invalid email")
		}
	case metadata.SubtypePhone:
		if !phonePattern.MatchString(s) {
			return "", fmt.Errorf("invalid phone number")
		}
	case metadata.SubtypeURL:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("invalid url")
		}
	}
	return s, nil
}

func checkNumber(prop *metadata.Property, d decimal.Decimal) error {
	attrs := prop.Attributes
	if prop.Format == metadata.FormatInteger && !d.IsInteger() {
		return fmt.Errorf("must be an integer")
	}
	if attrs.Min != nil && d.LessThan(decimal.NewFromFloat(*attrs.Min)) {
		return fmt.Errorf("must be at least %v", *attrs.Min)
	}
	if attrs.Max != nil && d.GreaterThan(decimal.NewFromFloat(*attrs.Max)) {
		return fmt.Errorf("must be at most %v", *attrs.Max)
	}
	return nil
}

func parseDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case json.Number:
		return decimal.NewFromString(v.String())
	case decimal.Decimal:
		return v, nil
	case string:
		s := strings.NewReplacer(",", "", "$", "", " ", "").Replace(strings.TrimSpace(v))
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("invalid number %q", v)
		}
		return d, nil
	}
	return decimal.Decimal{}, fmt.Errorf("invalid number")
}

func parseDate(raw any) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid date %q", v)
	}
	return time.Time{}, fmt.Errorf("invalid date")
}

func parseBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on", "active":
			return true, nil
		case "false", "0", "no", "off", "inactive":
			return false, nil
		}
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return false, fmt.Errorf("invalid boolean")
}

func parseMedia(raw any) (Value, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	case []Media:
		return MediaValue(v), nil
	case Media:
		return MediaValue{v}, nil
	default:
		return nil, fmt.Errorf("invalid media")
	}

	media := make(MediaValue, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid media item")
		}
		entry := Media{
			Title:           toString(m["title"]),
			Name:            toString(m["name"]),
			Type:            toString(m["type"]),
			PublicURL:       toString(m["publicUrl"]),
			File:            toString(m["file"]),
			StorageProvider: toString(m["storageProvider"]),
		}
		if entry.PublicURL == "" && entry.File == "" {
			return nil, fmt.Errorf("media requires a publicUrl or file")
		}
		if entry.Name == "" {
			entry.Name = entry.Title
		}
		media = append(media, entry)
	}
	return media, nil
}

func parseRange(prop *metadata.Property, raw any) (Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("range must be an object with min and max")
	}
	lo, hasLo := m["min"]
	hi, hasHi := m["max"]
	hasLo = hasLo && !isEmptyInput(lo)
	hasHi = hasHi && !isEmptyInput(hi)

	if prop.Storage() == metadata.StorageDateRange {
		var r DateRangeValue
		if hasLo {
			t, err := parseDate(lo)
			if err != nil {
				return nil, err
			}
			r.Min = &t
		}
		if hasHi {
			t, err := parseDate(hi)
			if err != nil {
				return nil, err
			}
			r.Max = &t
		}
		if r.Min != nil && r.Max != nil && r.Max.Before(*r.Min) {
			return nil, fmt.Errorf("max must not be before min")
		}
		return r, nil
	}

	var r NumberRangeValue
	if hasLo {
		d, err := parseDecimal(lo)
		if err != nil {
			return nil, err
		}
		r.Min = &d
	}
	if hasHi {
		d, err := parseDecimal(hi)
		if err != nil {
			return nil, err
		}
		r.Max = &d
	}
	if r.Min != nil && r.Max != nil && r.Max.LessThan(*r.Min) {
		return nil, fmt.Errorf("max must not be less than min")
	}
	return r, nil
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprintf("%v", v)
}

func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, toString(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return []string{toString(v)}
}
