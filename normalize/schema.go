package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInt      FieldType = "int"
	TypeRational FieldType = "rational"
	TypeDate     FieldType = "date" // passed through verbatim
)

// Canonical unit field names
const (
	FieldUnitNumber    = "unit_number"
	FieldBedrooms      = "bedrooms"
	FieldBathrooms     = "bathrooms"
	FieldSquareFeet    = "square_feet"
	FieldPrice         = "price"
	FieldFloorPlanType = "floor_plan_type"
	FieldDateAvailable = "date_available"
)

// recordFields lists the fields a UnitRecord can carry and the types each accepts
var recordFields = map[string][]FieldType{
	FieldUnitNumber:    {TypeString},
	FieldBedrooms:      {TypeRational, TypeInt},
	FieldBathrooms:     {TypeRational, TypeInt},
	FieldSquareFeet:    {TypeInt},
	FieldPrice:         {TypeInt},
	FieldFloorPlanType: {TypeString},
	FieldDateAvailable: {TypeDate, TypeString},
}

type FieldSpec struct {
	Type     FieldType
	Required bool
	Positive bool
	// Aliases are alternative canonical-form names that resolve to this field
	Aliases []string
}

// Composite is a source field holding several canonical values, e.g. "2 / 1" for bed/bath
type Composite struct {
	Delimiter string
	Into      []string
}

// Schema describes the target type of each canonical field and how source
// names map onto them.
type Schema struct {
	Fields     map[string]FieldSpec
	RenameMap  map[string]string
	Composites map[string]Composite
}

// DefaultSchema targets every UnitRecord field. The caller owns the returned value.
func DefaultSchema() *Schema {
	return &Schema{
		Fields: map[string]FieldSpec{
			FieldUnitNumber:    {Type: TypeString, Required: true, Aliases: []string{"unit", "unit_no", "unit_#", "apt", "apartment"}},
			FieldBedrooms:      {Type: TypeRational, Required: true, Aliases: []string{"beds", "bed", "bedroom"}},
			FieldBathrooms:     {Type: TypeRational, Required: true, Aliases: []string{"baths", "bath", "bathroom"}},
			FieldSquareFeet:    {Type: TypeInt, Required: true, Positive: true, Aliases: []string{"sq_ft", "sqft", "sq._ft.", "size"}},
			FieldPrice:         {Type: TypeInt, Required: true, Aliases: []string{"rent", "monthly_rent", "starting_at"}},
			FieldFloorPlanType: {Type: TypeString, Aliases: []string{"floor_plan", "plan", "floorplan"}},
			FieldDateAvailable: {Type: TypeDate, Aliases: []string{"available", "availability", "date_availabile", "move_in"}},
		},
		RenameMap: map[string]string{},
		Composites: map[string]Composite{
			"bed/bath":   {Delimiter: "/", Into: []string{FieldBedrooms, FieldBathrooms}},
			"beds/baths": {Delimiter: "/", Into: []string{FieldBedrooms, FieldBathrooms}},
		},
	}
}

// Clone returns a deep copy so per-building overrides never leak between buildings.
func (s *Schema) Clone() *Schema {
	out := &Schema{
		Fields:     make(map[string]FieldSpec, len(s.Fields)),
		RenameMap:  make(map[string]string, len(s.RenameMap)),
		Composites: make(map[string]Composite, len(s.Composites)),
	}
	for k, v := range s.Fields {
		v.Aliases = append([]string(nil), v.Aliases...)
		out.Fields[k] = v
	}
	for k, v := range s.RenameMap {
		out.RenameMap[k] = v
	}
	for k, v := range s.Composites {
		v.Into = append([]string(nil), v.Into...)
		out.Composites[k] = v
	}
	return out
}

// WithRenames returns a copy with extra source → canonical renames
func (s *Schema) WithRenames(renames map[string]string) *Schema {
	out := s.Clone()
	for src, dst := range renames {
		out.RenameMap[src] = CanonicalName(dst)
	}
	return out
}

// WithComposite returns a copy declaring a bed/bath style composite on the given source field.
func (s *Schema) WithComposite(field, delimiter string) *Schema {
	out := s.Clone()
	out.Composites[CanonicalName(field)] = Composite{
		Delimiter: delimiter,
		Into:      []string{FieldBedrooms, FieldBathrooms},
	}
	return out
}

// Validate checks the schema only names fields a UnitRecord can hold.
func (s *Schema) Validate() error {
	for name, spec := range s.Fields {
		types, ok := recordFields[name]
		if !ok {
			return fmt.Errorf("schema: unknown canonical field %q", name)
		}
		if !containsType(types, spec.Type) {
			return fmt.Errorf("schema: field %q cannot hold type %q", name, spec.Type)
		}
	}
	for src, dst := range s.RenameMap {
		if _, ok := s.Fields[dst]; !ok {
			if _, isComposite := s.Composites[dst]; !isComposite {
				return fmt.Errorf("schema: rename %q targets unknown field %q", src, dst)
			}
		}
	}
	for name, c := range s.Composites {
		if c.Delimiter == "" {
			return fmt.Errorf("schema: composite %q has no delimiter", name)
		}
		if len(c.Into) == 0 {
			return fmt.Errorf("schema: composite %q has no target fields", name)
		}
		for _, dst := range c.Into {
			if _, ok := s.Fields[dst]; !ok {
				return fmt.Errorf("schema: composite %q targets unknown field %q", name, dst)
			}
		}
	}
	return nil
}

// resolve maps a canonical-form name onto a schema field via aliases.
func (s *Schema) resolve(name string) (string, bool) {
	if _, ok := s.Fields[name]; ok {
		return name, true
	}
	for field, spec := range s.Fields {
		for _, alias := range spec.Aliases {
			if alias == name {
				return field, true
			}
		}
	}
	return "", false
}

// rename applies the rename map. Exact source names win over canonical-form matches.
func (s *Schema) rename(source string) string {
	if dst, ok := s.RenameMap[source]; ok {
		return dst
	}
	canonical := CanonicalName(source)
	for src, dst := range s.RenameMap {
		if CanonicalName(src) == canonical {
			return dst
		}
	}
	return canonical
}

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
)

// CanonicalName lowercases a field name, drops footnote asterisks and
// collapses whitespace into single underscores: "SQ FT **" → "sq_ft".
func CanonicalName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, "*", "")
	name = strings.TrimSpace(name)
	return multiSpaceRegex.ReplaceAllString(name, "_")
}

func containsType(types []FieldType, t FieldType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
