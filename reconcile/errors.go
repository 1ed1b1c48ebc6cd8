package reconcile

import "fmt"

// DuplicateUnitError means a source yielded the same unit number twice in one
// pass, which points at an upstream parsing bug.
type DuplicateUnitError struct {
	BuildingID string
	UnitNumber string
	Rows       [2]int
}

func (e *DuplicateUnitError) Error() string {
	return fmt.Sprintf("building %s: duplicate unit %q at rows %d and %d", e.BuildingID, e.UnitNumber, e.Rows[0], e.Rows[1])
}

// InvalidRecordError means a canonical record cannot carry an identity
type InvalidRecordError struct {
	BuildingID string
	Row        int
	Reason     string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("building %s: invalid record at row %d: %s", e.BuildingID, e.Row, e.Reason)
}

// EmptyBatchError means a batch came in under the caller's minimum expected unit count.
type EmptyBatchError struct {
	BuildingID  string
	Got         int
	MinExpected int
}

func (e *EmptyBatchError) Error() string {
	return fmt.Sprintf("building %s: scraped %d units, expected at least %d", e.BuildingID, e.Got, e.MinExpected)
}
