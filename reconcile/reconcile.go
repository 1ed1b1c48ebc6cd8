package reconcile

import (
	"sort"

	"apt_scrooper/models"
)

// Reconcile diffs a batch against the unit numbers already stored for its
// building. Every scraped record is upserted and forced available; stored
// units missing from the batch are deactivated, never deleted. It cannot fail:
// an empty batch against a non-empty store deactivates the whole building,
// so callers wanting a guard must apply one before this point.
func Reconcile(batch *models.ScrapeBatch, existing []string) *models.ReconciliationPlan {
	plan := &models.ReconciliationPlan{
		BuildingID:   batch.BuildingID,
		PassID:       batch.PassID,
		Upserts:      make([]models.UnitRecord, 0, len(batch.Records)),
		ToDeactivate: []string{},
	}

	scraped := make(map[string]struct{}, len(batch.Records))
	for _, r := range batch.Records {
		scraped[r.UnitNumber] = struct{}{}
		r.BuildingID = batch.BuildingID
		r.Available = true
		plan.Upserts = append(plan.Upserts, r)
	}

	stored := make(map[string]struct{}, len(existing))
	for _, unit := range existing {
		if _, dup := stored[unit]; dup {
			continue
		}
		stored[unit] = struct{}{}
		if _, ok := scraped[unit]; !ok {
			plan.ToDeactivate = append(plan.ToDeactivate, unit)
		}
	}
	sort.Strings(plan.ToDeactivate)

	for unit := range scraped {
		if _, ok := stored[unit]; !ok {
			plan.NewUnits++
		}
	}

	return plan
}
