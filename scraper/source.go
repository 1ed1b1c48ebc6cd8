package scraper

import (
	"context"
	"fmt"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

const (
	SourceHTTP    = "http"
	SourceBrowser = "browser"
)

// Source fetches the raw unit rows for one building
type Source interface {
	Name() string
	Fetch(ctx context.Context, b *config.BuildingConfig) ([]models.RawRecord, error)
}

// SourceError means the building page could not be fetched or did not
// contain a unit listing. No rows are returned with it.
type SourceError struct {
	BuildingID string
	URL        string
	Reason     string
	Err        error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("source %s (%s): %s: %v", e.BuildingID, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("source %s (%s): %s", e.BuildingID, e.URL, e.Reason)
}

func (e *SourceError) Unwrap() error { return e.Err }
