package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ScrapeRun records one reconciliation pass for one building
type ScrapeRun struct {
	ID              int64      `json:"id" db:"id"`
	PassID          string     `json:"pass_id" db:"pass_id"`
	BuildingID      string     `json:"building_id" db:"building_id"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at" db:"finished_at"`
	Status          RunStatus  `json:"status" db:"status"`
	UnitsFound      int        `json:"units_found" db:"units_found"`
	NewUnits        int        `json:"new_units" db:"new_units"`
	TotalUnits      int        `json:"total_units" db:"total_units"` // stored units after the pass
	RowsWritten     int        `json:"rows_written" db:"rows_written"`
	RowsDeactivated int        `json:"rows_deactivated" db:"rows_deactivated"`
	ErrorMessage    string     `json:"error_message" db:"error_message"`
}

type BuildingStats struct {
	BuildingID        string     `json:"building_id" db:"building_id"`
	LastRunAt         *time.Time `json:"last_run_at" db:"last_run_at"`
	LastRunStatus     string     `json:"last_run_status" db:"last_run_status"`
	TotalUnits        int        `json:"total_units" db:"total_units"`
	AvailableUnits    int        `json:"available_units" db:"available_units"`
	SuccessRate       float64    `json:"success_rate" db:"success_rate"`
	AvgRunDurationSec int        `json:"avg_run_duration_sec" db:"avg_run_duration_sec"`
}
