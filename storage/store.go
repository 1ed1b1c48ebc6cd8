package storage

import (
	"context"
	"errors"
	"fmt"

	"apt_scrooper/models"
)

// UnitStore persists unit records keyed by (building_id, unit_number).
// Units are never deleted; absence from a scrape flips availability_status.
type UnitStore interface {
	Migrate(ctx context.Context) error
	UpsertBuilding(ctx context.Context, b *models.Building) error
	// ExistingUnitNumbers returns every stored unit key for the building,
	// available or not.
	ExistingUnitNumbers(ctx context.Context, buildingID string) ([]string, error)
	// Apply writes the plan's upserts and deactivations in one transaction.
	// Only rows whose stored values actually change are counted.
	Apply(ctx context.Context, plan *models.ReconciliationPlan) (*models.AppliedResult, error)
	ListUnits(ctx context.Context, buildingID string) ([]models.UnitRecord, error)
}

// StoreUnavailableError wraps connection loss, lock contention and timeouts.
// The transaction was rolled back; the operation is safe to retry.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// ConstraintViolationError means a row broke a key, check or foreign key
// constraint. Retrying the same plan fails the same way.
type ConstraintViolationError struct {
	BuildingID string
	UnitNumber string
	Constraint string
	Err        error
}

func (e *ConstraintViolationError) Error() string {
	if e.UnitNumber == "" {
		return fmt.Sprintf("building %s: constraint %s violated: %v", e.BuildingID, e.Constraint, e.Err)
	}
	return fmt.Sprintf("building %s unit %s: constraint %s violated: %v", e.BuildingID, e.UnitNumber, e.Constraint, e.Err)
}

func (e *ConstraintViolationError) Unwrap() error { return e.Err }

var errForeignBuilding = errors.New("record belongs to another building")

// IsRetryable reports whether err is a transient store fault
func IsRetryable(err error) bool {
	var unavailable *StoreUnavailableError
	return errors.As(err, &unavailable)
}

// validatePlan rejects a plan whose upserts do not all belong to its building.
// It runs before any transaction is opened.
func validatePlan(plan *models.ReconciliationPlan) error {
	if plan == nil {
		return fmt.Errorf("nil reconciliation plan")
	}
	if plan.BuildingID == "" {
		return fmt.Errorf("reconciliation plan has no building id")
	}
	for _, u := range plan.Upserts {
		if u.BuildingID != plan.BuildingID {
			return &ConstraintViolationError{
				BuildingID: plan.BuildingID,
				UnitNumber: u.UnitNumber,
				Constraint: "plan_building_id",
				Err:        fmt.Errorf("%w: %q", errForeignBuilding, u.BuildingID),
			}
		}
	}
	return nil
}
