package models

import (
	"time"

	"github.com/google/uuid"
)

// RawRecord is a single scraped row in source-native shape: field name to raw scalar
type RawRecord map[string]any

// UnitRecord is the canonical, fixed-schema representation of one rental unit
type UnitRecord struct {
	BuildingID    string  `json:"building_id" db:"building_id"`
	UnitNumber    string  `json:"unit_number" db:"unit_number"`
	Bedrooms      float64 `json:"bedrooms" db:"bedrooms"`
	Bathrooms     float64 `json:"bathrooms" db:"bathrooms"`
	SquareFeet    int     `json:"square_feet" db:"square_feet"`
	Price         int     `json:"price" db:"price"`
	FloorPlanType string  `json:"floor_plan_type" db:"floor_plan_type"`
	DateAvailable string  `json:"date_available" db:"date_available"`
	Available     bool    `json:"availability_status" db:"availability_status"`
}

// ScrapeBatch holds every unit record captured for one building in a single pass
type ScrapeBatch struct {
	BuildingID string       `json:"building_id"`
	PassID     uuid.UUID    `json:"pass_id"`
	ScrapedAt  time.Time    `json:"scraped_at"`
	Records    []UnitRecord `json:"records"`
}

// UnitNumbers returns the batch's unit keys in scrape order
func (b *ScrapeBatch) UnitNumbers() []string {
	keys := make([]string, 0, len(b.Records))
	for _, r := range b.Records {
		keys = append(keys, r.UnitNumber)
	}
	return keys
}

// ReconciliationPlan is the write set computed for one batch
type ReconciliationPlan struct {
	BuildingID   string       `json:"building_id"`
	PassID       uuid.UUID    `json:"pass_id"`
	Upserts      []UnitRecord `json:"upserts"`
	ToDeactivate []string     `json:"to_deactivate"` // sorted, no duplicates
	NewUnits     int          `json:"new_units"`
}

// AppliedResult reports rows the store actually changed
type AppliedResult struct {
	RowsWritten     int `json:"rows_written"`
	RowsDeactivated int `json:"rows_deactivated"`
}

// Changed reports whether applying the plan touched any row
func (r *AppliedResult) Changed() bool {
	return r.RowsWritten > 0 || r.RowsDeactivated > 0
}
