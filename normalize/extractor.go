package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"apt_scrooper/models"
)

// FieldExtractor handles per-source field quirks before schema mapping.
// Implementations must not mutate the input row.
type FieldExtractor interface {
	Name() string
	Extract(row models.RawRecord) (models.RawRecord, error)
}

// GetExtractor returns the extractor registered under the configured name
func GetExtractor(name string) (FieldExtractor, error) {
	switch name {
	case "", "passthrough":
		return PassThrough{}, nil
	case "fp_blocks":
		return &FloorPlanBlockExtractor{}, nil
	case "leasing_table":
		return &LeasingTableExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown field extractor: %s", name)
	}
}

// PassThrough hands rows to the normalizer untouched
type PassThrough struct{}

func (PassThrough) Name() string { return "passthrough" }

func (PassThrough) Extract(row models.RawRecord) (models.RawRecord, error) {
	return row, nil
}

var (
	availablePrefixRegex = regexp.MustCompile(`(?i)^\s*available\s*:?\s*`)
	unitPrefixRegex      = regexp.MustCompile(`(?i)^\s*(?:unit|apt|apartment)?\s*(?:#|no\.)?\s*`)
	nonAlnumRegex        = regexp.MustCompile(`[^A-Za-z0-9]`)
	nonDigitRegex        = regexp.MustCompile(`\D`)
)

// FloorPlanBlockExtractor cleans rows parsed from floor plan card layouts where
// the unit label carries a prefix ("Unit #1204") and the availability cell
// repeats the word ("AVAILABLE 03/01/2025").
type FloorPlanBlockExtractor struct{}

func (e *FloorPlanBlockExtractor) Name() string { return "fp_blocks" }

func (e *FloorPlanBlockExtractor) Extract(row models.RawRecord) (models.RawRecord, error) {
	out := make(models.RawRecord, len(row))
	for k, v := range row {
		out[k] = v
	}

	for k, v := range row {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch name := CanonicalName(k); name {
		case FieldUnitNumber, "unit", "unit_no":
			label := unitPrefixRegex.ReplaceAllString(s, "")
			if unit := nonAlnumRegex.ReplaceAllString(label, ""); unit != "" {
				out[k] = unit
			}
		case FieldDateAvailable, "available", "availability":
			out[k] = availablePrefixRegex.ReplaceAllString(s, "")
		}
	}
	return out, nil
}

// LeasingTableExtractor handles leasing tables that price by term and show
// "Call for pricing" or similar placeholders for units without a listed rent.
// A placeholder is left as-is so the row fails coercion instead of being stored
// with a zero price.
type LeasingTableExtractor struct{}

func (e *LeasingTableExtractor) Name() string { return "leasing_table" }

func (e *LeasingTableExtractor) Extract(row models.RawRecord) (models.RawRecord, error) {
	out := make(models.RawRecord, len(row))
	for k, v := range row {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		// "Starting at $2,450 / 12 mo" → "$2,450"
		if name := CanonicalName(k); name == FieldPrice || name == "rent" || name == "monthly_rent" || name == "starting_at" {
			if idx := strings.Index(s, "/"); idx >= 0 {
				s = s[:idx]
			}
			s = strings.TrimSpace(strings.TrimPrefix(strings.ToLower(s), "starting at"))
		}
		out[k] = strings.TrimSpace(s)
	}
	return out, nil
}
