package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"apt_scrooper/models"
)

// MemoryStore is an in-process UnitStore for dry runs. It enforces the same
// building reference and column checks as the SQL stores.
type MemoryStore struct {
	mu        sync.Mutex
	buildings map[string]models.Building
	units     map[string]map[string]models.UnitRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buildings: make(map[string]models.Building),
		units:     make(map[string]map[string]models.UnitRecord),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) UpsertBuilding(ctx context.Context, b *models.Building) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.buildings[b.ID]; ok {
		b.CreatedAt = prev.CreatedAt
	} else {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	s.buildings[b.ID] = *b
	return nil
}

func (s *MemoryStore) ExistingUnitNumbers(ctx context.Context, buildingID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StoreUnavailableError{Op: "existing units", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.units[buildingID]))
	for key := range s.units[buildingID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Apply(ctx context.Context, plan *models.ReconciliationPlan) (*models.AppliedResult, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &StoreUnavailableError{Op: "begin", Err: err}
	}
	if _, ok := s.buildings[plan.BuildingID]; !ok && len(plan.Upserts) > 0 {
		return nil, &ConstraintViolationError{
			BuildingID: plan.BuildingID,
			UnitNumber: plan.Upserts[0].UnitNumber,
			Constraint: "foreign_key",
			Err:        fmt.Errorf("building %q does not exist", plan.BuildingID),
		}
	}

	// work on a copy; it replaces the stored map only on success
	current := s.units[plan.BuildingID]
	next := make(map[string]models.UnitRecord, len(current)+len(plan.Upserts))
	for k, v := range current {
		next[k] = v
	}

	result := &models.AppliedResult{}

	for _, u := range plan.Upserts {
		if err := checkUnit(u); err != nil {
			return nil, err
		}
		if prev, exists := next[u.UnitNumber]; exists && prev == u {
			continue
		}
		next[u.UnitNumber] = u
		result.RowsWritten++
	}

	for _, key := range plan.ToDeactivate {
		row, ok := next[key]
		if !ok || !row.Available {
			continue
		}
		row.Available = false
		next[key] = row
		result.RowsDeactivated++
	}

	s.units[plan.BuildingID] = next
	return result, nil
}

func (s *MemoryStore) ListUnits(ctx context.Context, buildingID string) ([]models.UnitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]models.UnitRecord, 0, len(s.units[buildingID]))
	for _, row := range s.units[buildingID] {
		units = append(units, row)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].UnitNumber < units[j].UnitNumber })
	return units, nil
}

func checkUnit(u models.UnitRecord) error {
	switch {
	case u.SquareFeet <= 0:
		return &ConstraintViolationError{BuildingID: u.BuildingID, UnitNumber: u.UnitNumber, Constraint: "check",
			Err: fmt.Errorf("square_feet must be positive, got %d", u.SquareFeet)}
	case u.Price < 0:
		return &ConstraintViolationError{BuildingID: u.BuildingID, UnitNumber: u.UnitNumber, Constraint: "check",
			Err: fmt.Errorf("price must not be negative, got %d", u.Price)}
	case u.UnitNumber == "":
		return &ConstraintViolationError{BuildingID: u.BuildingID, Constraint: "not_null",
			Err: fmt.Errorf("empty unit number")}
	}
	return nil
}
