package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apt_scrooper/models"
)

func TestGetExtractor(t *testing.T) {
	for _, name := range []string{"", "passthrough", "fp_blocks", "leasing_table"} {
		ext, err := GetExtractor(name)
		require.NoError(t, err, name)
		assert.NotNil(t, ext)
	}

	_, err := GetExtractor("apify")
	assert.ErrorContains(t, err, "unknown field extractor")
}

func TestFloorPlanBlockExtractor(t *testing.T) {
	in := models.RawRecord{
		"Unit":      "Unit #1204",
		"Available": "AVAILABLE 03/01/2025",
		"Bed/Bath":  "2/2",
	}

	out, err := (&FloorPlanBlockExtractor{}).Extract(in)
	require.NoError(t, err)

	assert.Equal(t, "1204", out["Unit"])
	assert.Equal(t, "03/01/2025", out["Available"])
	assert.Equal(t, "2/2", out["Bed/Bath"])
	assert.Equal(t, "Unit #1204", in["Unit"], "input row must not change")
}

func TestLeasingTableExtractor(t *testing.T) {
	in := models.RawRecord{
		"Rent": "Starting at $2,450 / 12 mo",
		"Unit": " 305 ",
		"Beds": 2,
	}

	out, err := (&LeasingTableExtractor{}).Extract(in)
	require.NoError(t, err)

	assert.Equal(t, "$2,450", out["Rent"])
	assert.Equal(t, "305", out["Unit"])
	assert.Equal(t, 2, out["Beds"])
}

func TestLeasingTableExtractor_PlaceholderFailsCoercion(t *testing.T) {
	rows := []models.RawRecord{{
		"Unit":  "305",
		"Beds":  "2",
		"Baths": "2",
		"Sq Ft": "1,100",
		"Rent":  "Call for pricing",
	}}

	_, err := Normalize(rows, &LeasingTableExtractor{}, nil)
	var tce *TypeCoercionError
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, FieldPrice, tce.Field)
}

func TestFloorPlanBlockExtractor_Normalizes(t *testing.T) {
	rows := []models.RawRecord{{
		"Unit":      "Unit #1204",
		"Bed/Bath":  "1 Bed / 1 Bath",
		"Sq Ft":     "745 SQ. FT.",
		"Rent":      "$2,010",
		"Available": "Available: Now",
	}}

	got, err := Normalize(rows, &FloorPlanBlockExtractor{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1204", got[0].UnitNumber)
	assert.Equal(t, 745, got[0].SquareFeet)
	assert.Equal(t, "Now", got[0].DateAvailable)
}

func TestFloorPlanBlockExtractor_UnitLabels(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"Unit #1204", "1204"},
		{"Unit #12A", "12A"},
		{"Unit #12B", "12B"},
		{"unit 0801", "0801"},
		{"Apt. PH-3", "PH3"},
		{"No. 7C", "7C"},
		{"#410", "410"},
		{"North 5", "North5"},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			out, err := (&FloorPlanBlockExtractor{}).Extract(models.RawRecord{"Unit": tt.label})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["Unit"])
		})
	}
}
