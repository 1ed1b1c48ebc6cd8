package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

const maxPageBytes = 8 << 20

// HTTPSource fetches server-rendered building pages with a plain GET
type HTTPSource struct {
	client *http.Client
	logger *zap.Logger
}

func NewHTTPSource(client *http.Client, logger *zap.Logger) *HTTPSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSource{client: client, logger: logger}
}

func (s *HTTPSource) Name() string { return SourceHTTP }

func (s *HTTPSource) Fetch(ctx context.Context, b *config.BuildingConfig) ([]models.RawRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "create request", Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "fetch", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: fmt.Sprintf("unexpected status: %d", resp.StatusCode)}
	}

	s.logger.Debug("page fetched",
		zap.String("building", b.ID),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "read body", Err: err}
	}
	// a truncated page would parse as a short listing
	if len(body) > maxPageBytes {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "page exceeds size limit"}
	}

	return parsePage(b, bytes.NewReader(body))
}
