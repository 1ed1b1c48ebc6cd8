package scraper

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err, "fixture %s", name)
	return data
}

func lyricBuilding() *config.BuildingConfig {
	return &config.BuildingConfig{
		ID:   "lyric",
		Name: "The Lyric",
		URL:  "https://lyric.example.com/floor-plans",
		Page: config.PageConfig{Format: "table", Container: "#floor-plans"},
	}
}

func blocksBuilding() *config.BuildingConfig {
	return &config.BuildingConfig{
		ID:        "450k",
		Name:      "450 K Street",
		URL:       "https://450k.example.com/availability",
		Source:    SourceBrowser,
		Extractor: "fp_blocks",
		Page: config.PageConfig{
			Format:    "blocks",
			Container: "div.fp_lists",
			Block:     "div.fp_block",
			Fields: map[string]string{
				"unit":      "p:nth-of-type(1)",
				"bed_bath":  "p:nth-of-type(2)",
				"sq_ft":     "p:nth-of-type(3)",
				"rent":      "p:nth-of-type(4)",
				"available": "p:nth-of-type(5)",
			},
		},
		Schema: config.SchemaConfig{Composites: map[string]string{"bed_bath": "+"}},
	}
}

func TestParsePage_Table(t *testing.T) {
	rows, err := parsePage(lyricBuilding(), bytes.NewReader(loadFixture(t, "lyric_table.html")))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, models.RawRecord{
		"UNIT":      "301",
		"BED/BATH":  "Studio / 1",
		"SQ FT **":  "512",
		"RENT *":    "$1,875",
		"AVAILABLE": "Now",
	}, rows[0])
	assert.Equal(t, "1204", rows[1]["UNIT"])
	assert.Equal(t, "1 / 1.5", rows[2]["BED/BATH"])
}

func TestParsePage_Blocks(t *testing.T) {
	rows, err := parsePage(blocksBuilding(), bytes.NewReader(loadFixture(t, "fp_blocks.html")))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, models.RawRecord{
		"unit":      "Unit #0801",
		"bed_bath":  "1 Bed + 1 Bath",
		"sq_ft":     "690 sq. ft.",
		"rent":      "$2,145",
		"available": "AVAILABLE 03/15/2025",
	}, rows[0])
}

func TestParsePage_ErrorMarker(t *testing.T) {
	_, err := parsePage(lyricBuilding(), bytes.NewReader(loadFixture(t, "unavailable.html")))

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "lyric", se.BuildingID)
	assert.Contains(t, se.Reason, "Unable to load apartments")
}

func TestParsePage_ConfiguredErrorMarker(t *testing.T) {
	b := lyricBuilding()
	b.ErrorMarkers = []string{"Pricing subject to change"}

	_, err := parsePage(b, bytes.NewReader(loadFixture(t, "lyric_table.html")))

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, "Pricing subject to change")
}

func TestParsePage_MissingContainer(t *testing.T) {
	b := lyricBuilding()
	b.Page.Container = "#units"

	_, err := parsePage(b, bytes.NewReader(loadFixture(t, "lyric_table.html")))

	var se *SourceError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Reason, `"#units" not found`)
}

func selection(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc.Selection
}

func TestParseTable_HeaderFromFirstRow(t *testing.T) {
	rows, err := ParseTable(selection(t, `
		<table>
			<tr><td>Apt</td><td>Beds</td><td>Baths</td><td>Size</td><td>Rent</td></tr>
			<tr><td>2B</td><td>2</td><td>1</td><td>900</td><td>$2,000</td><td>extra</td></tr>
			<tr></tr>
			<tr><td>3C</td><td>1</td></tr>
		</table>`))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, models.RawRecord{"Apt": "2B", "Beds": "2", "Baths": "1", "Size": "900", "Rent": "$2,000"}, rows[0])
	// short rows keep only the cells they have
	assert.Equal(t, models.RawRecord{"Apt": "3C", "Beds": "1"}, rows[1])
}

func TestParseTable_DuplicateHeader(t *testing.T) {
	_, err := ParseTable(selection(t, `
		<table>
			<thead><tr><th>Unit</th><th>Rent</th><th>Rent</th></tr></thead>
			<tbody><tr><td>1</td><td>$1</td><td>$2</td></tr></tbody>
		</table>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate table header "Rent"`)
}

func TestParseTable_NoTable(t *testing.T) {
	_, err := ParseTable(selection(t, `<div>no units</div>`))
	assert.Error(t, err)
}

func TestParseBlocks_MissingSelectorLeavesFieldAbsent(t *testing.T) {
	rows, err := ParseBlocks(selection(t, `
		<div class="fp_block"><span class="unit">101</span></div>
		<div class="fp_block"><span class="unit">102</span><span class="rent">$1,500</span></div>`),
		"div.fp_block", map[string]string{"unit": ".unit", "rent": ".rent"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, models.RawRecord{"unit": "101"}, rows[0])
	assert.Equal(t, models.RawRecord{"unit": "102", "rent": "$1,500"}, rows[1])
}

func TestParseBlocks_RequiresSelectors(t *testing.T) {
	_, err := ParseBlocks(selection(t, `<div></div>`), "", map[string]string{"unit": ".unit"})
	assert.Error(t, err)

	_, err = ParseBlocks(selection(t, `<div></div>`), "div", nil)
	assert.Error(t, err)
}
