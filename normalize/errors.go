package normalize

import "fmt"

// SchemaMismatchError means a required canonical field could not be located
// after renaming, or two source fields collided on one canonical field.
// It signals a source format change that needs a new rename map.
type SchemaMismatchError struct {
	Row    int
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch at row %d: field %q: %s", e.Row, e.Field, e.Reason)
}

// TypeCoercionError means a located value could not be coerced to its declared type.
type TypeCoercionError struct {
	Row    int
	Field  string
	Type   FieldType
	Raw    any
	Reason string
}

func (e *TypeCoercionError) Error() string {
	return fmt.Sprintf("cannot coerce row %d field %q value %q to %s: %s", e.Row, e.Field, fmt.Sprint(e.Raw), e.Type, e.Reason)
}
