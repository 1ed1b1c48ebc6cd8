package scraper

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

// Shown by leasing widgets when their backend is down. The page still
// returns 200 with an empty listing.
var defaultErrorMarkers = []string{
	"Unable to load apartments at this time",
}

// parsePage turns a building page into raw rows according to its page config
func parsePage(b *config.BuildingConfig, r io.Reader) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "parse html", Err: err}
	}

	text := doc.Text()
	markers := make([]string, 0, len(defaultErrorMarkers)+len(b.ErrorMarkers))
	markers = append(markers, defaultErrorMarkers...)
	markers = append(markers, b.ErrorMarkers...)
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, marker) {
			return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: fmt.Sprintf("page reports %q", marker)}
		}
	}

	scope := doc.Selection
	if b.Page.Container != "" {
		scope = doc.Find(b.Page.Container).First()
		if scope.Length() == 0 {
			return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: fmt.Sprintf("container %q not found", b.Page.Container)}
		}
	}

	var rows []models.RawRecord
	switch b.Page.Format {
	case "", "table":
		rows, err = ParseTable(scope)
	case "blocks":
		rows, err = ParseBlocks(scope, b.Page.Block, b.Page.Fields)
	default:
		err = fmt.Errorf("unknown page format: %s", b.Page.Format)
	}
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "extract rows", Err: err}
	}
	return rows, nil
}

// ParseTable reads the first table in scope. Headers come from thead, or from
// the first row when there is no thead. Cells are keyed by their header text.
func ParseTable(scope *goquery.Selection) ([]models.RawRecord, error) {
	table := scope
	if goquery.NodeName(scope) != "table" {
		table = scope.Find("table").First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("no table found")
	}

	headerRow := table.Find("thead tr").First()
	body := table.Find("tr").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered("thead").Length() == 0
	})
	if headerRow.Length() == 0 {
		headerRow = body.First()
		body = body.Slice(1, goquery.ToEnd)
	}
	if headerRow.Length() == 0 {
		return nil, fmt.Errorf("table has no header row")
	}

	var headers []string
	seen := make(map[string]bool)
	headerRow.Find("th, td").Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, cellText(s))
	})
	for _, h := range headers {
		if h == "" {
			continue
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate table header %q", h)
		}
		seen[h] = true
	}

	rows := make([]models.RawRecord, 0, body.Length())
	body.Each(func(_ int, tr *goquery.Selection) {
		cells := tr.Find("td, th")
		if cells.Length() == 0 {
			return
		}
		row := make(models.RawRecord, len(headers))
		cells.Each(func(i int, td *goquery.Selection) {
			if i >= len(headers) || headers[i] == "" {
				return
			}
			row[headers[i]] = cellText(td)
		})
		rows = append(rows, row)
	})
	return rows, nil
}

// ParseBlocks reads one row per block element. fields maps each raw field
// name to a selector evaluated inside the block; a selector that matches
// nothing leaves the field absent.
func ParseBlocks(scope *goquery.Selection, block string, fields map[string]string) ([]models.RawRecord, error) {
	if block == "" {
		return nil, fmt.Errorf("block selector is required")
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no block fields configured")
	}

	var rows []models.RawRecord
	scope.Find(block).Each(func(_ int, blk *goquery.Selection) {
		row := make(models.RawRecord, len(fields))
		for name, selector := range fields {
			match := blk.Find(selector).First()
			if match.Length() == 0 {
				continue
			}
			row[name] = cellText(match)
		}
		rows = append(rows, row)
	})
	return rows, nil
}

func cellText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
