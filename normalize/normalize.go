package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"apt_scrooper/models"
)

// located is a raw value found for a canonical field
type located struct {
	source string
	raw    any
	// lenient values come from composite sub-fields; no digits means 0
	lenient bool
}

// Normalize maps raw rows onto canonical unit records. It has no side effects.
// Every row either normalizes under the schema's rules or fails the whole call;
// rows are never dropped.
func Normalize(rows []models.RawRecord, extractor FieldExtractor, schema *Schema) ([]models.UnitRecord, error) {
	if schema == nil {
		schema = DefaultSchema()
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if extractor == nil {
		extractor = PassThrough{}
	}

	records := make([]models.UnitRecord, 0, len(rows))
	for i, raw := range rows {
		row, err := extractor.Extract(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s extractor: %w", i, extractor.Name(), err)
		}

		values, err := schema.locate(i, row)
		if err != nil {
			return nil, err
		}

		rec, err := schema.build(i, values)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// locate resolves every source field of a row to its canonical field.
func (s *Schema) locate(row int, raw models.RawRecord) (map[string]located, error) {
	// sorted for deterministic collision reporting
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]located, len(s.Fields))
	put := func(field string, v located) error {
		if prev, ok := values[field]; ok {
			return &SchemaMismatchError{
				Row:    row,
				Field:  field,
				Reason: fmt.Sprintf("ambiguous: both %q and %q map to it", prev.source, v.source),
			}
		}
		values[field] = v
		return nil
	}

	for _, source := range names {
		name := s.rename(source)

		if c, ok := s.Composites[name]; ok {
			text := fmt.Sprint(raw[source])
			parts := strings.Split(text, c.Delimiter)
			if len(parts) > len(c.Into) {
				return nil, &TypeCoercionError{
					Row:    row,
					Field:  name,
					Type:   TypeRational,
					Raw:    raw[source],
					Reason: fmt.Sprintf("expected at most %d parts split on %q, got %d", len(c.Into), c.Delimiter, len(parts)),
				}
			}
			for j, field := range c.Into {
				part := ""
				if j < len(parts) {
					part = parts[j]
				}
				if err := put(field, located{source: source, raw: part, lenient: true}); err != nil {
					return nil, err
				}
			}
			continue
		}

		field, ok := s.resolve(name)
		if !ok {
			continue
		}
		if err := put(field, located{source: source, raw: raw[source]}); err != nil {
			return nil, err
		}
	}

	return values, nil
}

// build coerces located values into a UnitRecord.
func (s *Schema) build(row int, values map[string]located) (models.UnitRecord, error) {
	var rec models.UnitRecord

	fields := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		spec := s.Fields[name]
		v, ok := values[name]
		if !ok {
			if spec.Required {
				return rec, &SchemaMismatchError{Row: row, Field: name, Reason: "required field not found after renaming"}
			}
			continue
		}

		switch spec.Type {
		case TypeInt:
			n, err := coerceInt(v.raw, v.lenient)
			if err != nil {
				return rec, &TypeCoercionError{Row: row, Field: name, Type: spec.Type, Raw: v.raw, Reason: err.Error()}
			}
			if spec.Positive && n <= 0 {
				return rec, &TypeCoercionError{Row: row, Field: name, Type: spec.Type, Raw: v.raw, Reason: "must be positive"}
			}
			setInt(&rec, name, n)
		case TypeRational:
			f, err := coerceRational(v.raw, v.lenient)
			if err != nil {
				return rec, &TypeCoercionError{Row: row, Field: name, Type: spec.Type, Raw: v.raw, Reason: err.Error()}
			}
			if spec.Positive && f <= 0 {
				return rec, &TypeCoercionError{Row: row, Field: name, Type: spec.Type, Raw: v.raw, Reason: "must be positive"}
			}
			setFloat(&rec, name, f)
		default:
			text := ""
			if v.raw != nil {
				text = strings.TrimSpace(fmt.Sprint(v.raw))
			}
			if spec.Required && text == "" {
				return rec, &TypeCoercionError{Row: row, Field: name, Type: spec.Type, Raw: v.raw, Reason: "empty value"}
			}
			setString(&rec, name, text)
		}
	}

	return rec, nil
}

// coerceInt strips every non-digit before conversion: "$2,450" → 2450.
func coerceInt(raw any, lenient bool) (int, error) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return v, nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return int(v), nil
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, fmt.Errorf("not a non-negative whole number")
		}
		return int(v), nil
	}

	digits := nonDigitRegex.ReplaceAllString(stringify(raw), "")
	if digits == "" {
		if lenient {
			return 0, nil
		}
		return 0, fmt.Errorf("no digits")
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("out of range")
	}
	return n, nil
}

// coerceRational keeps digits and the first decimal point so half values survive: "1.5 ba" → 1.5.
func coerceRational(raw any, lenient bool) (float64, error) {
	switch v := raw.(type) {
	case int:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return float64(v), nil
	case int64:
		if v < 0 {
			return 0, fmt.Errorf("negative value")
		}
		return float64(v), nil
	case float64:
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("not a non-negative number")
		}
		return v, nil
	}

	var b strings.Builder
	seenPoint := false
	for _, c := range stringify(raw) {
		switch {
		case c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' && !seenPoint:
			seenPoint = true
			b.WriteRune(c)
		}
	}
	text := strings.Trim(b.String(), ".")
	if text == "" {
		if lenient {
			return 0, nil
		}
		return 0, fmt.Errorf("no digits")
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	return f, nil
}

func stringify(raw any) string {
	if raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprint(raw)
}

func setInt(rec *models.UnitRecord, field string, n int) {
	switch field {
	case FieldSquareFeet:
		rec.SquareFeet = n
	case FieldPrice:
		rec.Price = n
	case FieldBedrooms:
		rec.Bedrooms = float64(n)
	case FieldBathrooms:
		rec.Bathrooms = float64(n)
	}
}

func setFloat(rec *models.UnitRecord, field string, f float64) {
	switch field {
	case FieldBedrooms:
		rec.Bedrooms = f
	case FieldBathrooms:
		rec.Bathrooms = f
	}
}

func setString(rec *models.UnitRecord, field, text string) {
	switch field {
	case FieldUnitNumber:
		rec.UnitNumber = text
	case FieldFloorPlanType:
		rec.FloorPlanType = text
	case FieldDateAvailable:
		rec.DateAvailable = text
	}
}
