package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"apt_scrooper/config"
	"apt_scrooper/models"
)

// BrowserSource renders building pages in Chromium for sites that build the
// unit list client-side. One browser is shared by every building and pages
// are fetched one at a time.
type BrowserSource struct {
	mu          sync.Mutex
	headful     bool
	timeout     time.Duration
	logger      *zap.Logger
	pw          *playwright.Playwright
	browser     playwright.Browser
	initialized bool
}

func NewBrowserSource(cfg config.ScraperConfig, logger *zap.Logger) *BrowserSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &BrowserSource{
		headful: cfg.Headful,
		timeout: timeout,
		logger:  logger,
	}
}

func (s *BrowserSource) Name() string { return SourceBrowser }

// ensureBrowser starts playwright on first use. Callers hold s.mu.
func (s *BrowserSource) ensureBrowser() error {
	if s.initialized {
		return nil
	}

	var err error
	s.pw, err = playwright.Run()
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	s.browser, err = s.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(!s.headful),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		s.pw.Stop()
		s.pw = nil
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	s.initialized = true
	return nil
}

func (s *BrowserSource) Fetch(ctx context.Context, b *config.BuildingConfig) ([]models.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "cancelled", Err: err}
	}
	if err := s.ensureBrowser(); err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "browser", Err: err}
	}

	page, err := s.browser.NewPage()
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "new page", Err: err}
	}
	defer page.Close()

	_, err = page.Goto(b.URL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(s.timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "navigate", Err: err}
	}

	if b.Browser.ScrollPx > 0 {
		if _, err := page.Evaluate(fmt.Sprintf(`window.scrollBy(0, %d)`, b.Browser.ScrollPx)); err != nil {
			s.logger.Debug("scroll failed", zap.String("building", b.ID), zap.Error(err))
		}
	}

	if b.Browser.LoadMore != "" {
		if err := clickLoadMore(page.Locator(b.Browser.LoadMore).First()); err != nil {
			return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "load more", Err: err}
		}
	}

	if b.Browser.WaitMS > 0 {
		page.WaitForTimeout(float64(b.Browser.WaitMS))
	}

	if err := ctx.Err(); err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "cancelled", Err: err}
	}

	content, err := page.Content()
	if err != nil {
		return nil, &SourceError{BuildingID: b.ID, URL: b.URL, Reason: "read content", Err: err}
	}

	return parsePage(b, strings.NewReader(content))
}

type loadMoreButton interface {
	IsVisible(options ...playwright.LocatorIsVisibleOptions) (bool, error)
	Click(options ...playwright.LocatorClickOptions) error
}

// clickLoadMore expands the listing when the button is shown. A shown button
// that cannot be clicked leaves a partial listing, so it is an error.
func clickLoadMore(btn loadMoreButton) error {
	visible, err := btn.IsVisible()
	if err != nil {
		return fmt.Errorf("check visibility: %w", err)
	}
	if !visible {
		return nil
	}
	if err := btn.Click(); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (s *BrowserSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		s.browser.Close()
		s.browser = nil
	}
	if s.pw != nil {
		s.pw.Stop()
		s.pw = nil
	}
	s.initialized = false
}
