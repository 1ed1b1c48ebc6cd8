package reconcile

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"apt_scrooper/models"
)

type AssembleOptions struct {
	// MinExpected rejects batches smaller than this. Zero accepts an empty
	// batch, which later deactivates every stored unit of the building.
	MinExpected int
	PassID      uuid.UUID
	ScrapedAt   time.Time
}

// Assemble groups canonical records into a batch for one building. It stamps
// the building id on every record and fails on duplicate unit numbers rather
// than dropping or overwriting either row.
func Assemble(records []models.UnitRecord, buildingID string, opts AssembleOptions) (*models.ScrapeBatch, error) {
	if opts.MinExpected > 0 && len(records) < opts.MinExpected {
		return nil, &EmptyBatchError{BuildingID: buildingID, Got: len(records), MinExpected: opts.MinExpected}
	}

	passID := opts.PassID
	if passID == uuid.Nil {
		passID = uuid.New()
	}
	scrapedAt := opts.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now()
	}

	batch := &models.ScrapeBatch{
		BuildingID: buildingID,
		PassID:     passID,
		ScrapedAt:  scrapedAt,
		Records:    make([]models.UnitRecord, 0, len(records)),
	}

	seen := make(map[string]int, len(records))
	for i, r := range records {
		r.UnitNumber = strings.TrimSpace(r.UnitNumber)
		if r.UnitNumber == "" {
			return nil, &InvalidRecordError{BuildingID: buildingID, Row: i, Reason: "empty unit number"}
		}
		if first, dup := seen[r.UnitNumber]; dup {
			return nil, &DuplicateUnitError{BuildingID: buildingID, UnitNumber: r.UnitNumber, Rows: [2]int{first, i}}
		}
		seen[r.UnitNumber] = i

		r.BuildingID = buildingID
		batch.Records = append(batch.Records, r)
	}

	return batch, nil
}
