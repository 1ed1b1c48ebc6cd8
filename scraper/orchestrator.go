package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"apt_scrooper/config"
	"apt_scrooper/httputil"
	"apt_scrooper/models"
	"apt_scrooper/normalize"
	"apt_scrooper/reconcile"
	"apt_scrooper/services"
	"apt_scrooper/storage"
)

// RunRecorder keeps the operational history of reconciliation passes
type RunRecorder interface {
	CreateRun(run *models.ScrapeRun) (int64, error)
	UpdateRun(run *models.ScrapeRun) error
	Log(runID *int64, level models.LogLevel, message, buildingID string) error
	UpdateBuildingStats(buildingID string) error
}

// Archiver stores the raw rows of a pass before normalization
type Archiver interface {
	Put(ctx context.Context, buildingID string, passID uuid.UUID, at time.Time, rows []models.RawRecord) (string, error)
}

// pipeline is everything needed to turn one building's page into a batch
type pipeline struct {
	building  *config.BuildingConfig
	source    string
	extractor normalize.FieldExtractor
	schema    *normalize.Schema

	// one pass per building at a time, whoever triggers it
	passMu sync.Mutex
}

type Orchestrator struct {
	cfg        *config.Config
	store      storage.UnitStore
	runs       RunRecorder
	reconciler *services.ReconcileService
	archive    Archiver
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu        sync.RWMutex
	sources   map[string]Source
	pipelines map[string]*pipeline
	paused    bool
}

// NewOrchestrator builds a pipeline per configured building. runs may be nil.
func NewOrchestrator(cfg *config.Config, store storage.UnitStore, runs RunRecorder, clients *httputil.Clients, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.Scraper.DelayMS > 0 {
		limit = rate.Every(time.Duration(cfg.Scraper.DelayMS) * time.Millisecond)
	}

	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		runs:       runs,
		reconciler: services.NewReconcileService(store, cfg.Store, logger),
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger.With(zap.String("component", "orchestrator")),
		sources:    make(map[string]Source),
		pipelines:  make(map[string]*pipeline),
	}

	for id, b := range cfg.Buildings {
		p, err := newPipeline(b)
		if err != nil {
			return nil, fmt.Errorf("building %s: %w", id, err)
		}
		o.pipelines[id] = p

		if _, ok := o.sources[p.source]; ok {
			continue
		}
		switch p.source {
		case SourceHTTP:
			if clients == nil {
				return nil, fmt.Errorf("building %s: http source needs an http client", id)
			}
			o.sources[SourceHTTP] = NewHTTPSource(clients.Scraping, logger)
		case SourceBrowser:
			o.sources[SourceBrowser] = NewBrowserSource(cfg.Scraper, logger)
		default:
			return nil, fmt.Errorf("building %s: unknown source %q", id, p.source)
		}
	}

	return o, nil
}

func newPipeline(b *config.BuildingConfig) (*pipeline, error) {
	extractor, err := normalize.GetExtractor(b.Extractor)
	if err != nil {
		return nil, err
	}

	schema := normalize.DefaultSchema().WithRenames(b.Schema.RenameMap)
	for field, delimiter := range b.Schema.Composites {
		schema = schema.WithComposite(field, delimiter)
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	source := b.Source
	if source == "" {
		source = SourceHTTP
	}

	return &pipeline{building: b, source: source, extractor: extractor, schema: schema}, nil
}

// SetSource replaces the source registered under name
func (o *Orchestrator) SetSource(name string, src Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[name] = src
}

// SetArchive enables raw capture archiving
func (o *Orchestrator) SetArchive(a Archiver) {
	o.archive = a
}

// BuildingIDs returns the configured buildings in stable order
func (o *Orchestrator) BuildingIDs() []string {
	ids := make([]string, 0, len(o.pipelines))
	for id := range o.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunAll reconciles every building, at most cfg.Scraper.Workers at a time.
// A failing building does not stop the others; all failures are joined.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	if o.IsPaused() {
		o.logger.Info("scraper is paused, skipping run")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(max(o.cfg.Scraper.Workers, 1))

	var mu sync.Mutex
	var errs []error
	for _, id := range o.BuildingIDs() {
		g.Go(func() error {
			if _, err := o.RunBuilding(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

// RunBuilding runs one full pass for a building: fetch, normalize, assemble,
// reconcile. The stored state is only touched by the final transactional apply.
// Concurrent calls for the same building wait for the running pass to finish.
func (o *Orchestrator) RunBuilding(ctx context.Context, buildingID string) (*services.ReconcileResult, error) {
	p, ok := o.pipelines[buildingID]
	if !ok {
		return nil, fmt.Errorf("unknown building: %s", buildingID)
	}
	b := p.building

	p.passMu.Lock()
	defer p.passMu.Unlock()

	o.mu.RLock()
	src, ok := o.sources[p.source]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no %s source for building: %s", p.source, buildingID)
	}

	passID := uuid.New()
	run := &models.ScrapeRun{
		PassID:     passID.String(),
		BuildingID: buildingID,
		StartedAt:  time.Now(),
		Status:     models.RunStatusRunning,
	}
	o.startRun(run)

	logger := o.logger.With(zap.String("building", buildingID), zap.String("pass", run.PassID))
	logger.Info("starting pass", zap.String("source", src.Name()), zap.String("url", b.URL))

	defer o.finishRun(run)

	fail := func(stage string, err error) (*services.ReconcileResult, error) {
		err = fmt.Errorf("%s: %w", stage, err)
		run.Status = models.RunStatusFailed
		run.ErrorMessage = err.Error()
		logger.Error("pass failed", zap.String("stage", stage), zap.Error(err))
		o.log(run, models.LogLevelError, err.Error())
		return nil, err
	}

	if err := o.store.UpsertBuilding(ctx, &models.Building{ID: b.ID, Name: b.Name, URL: b.URL}); err != nil {
		return fail("register building", err)
	}

	if err := o.limiter.Wait(ctx); err != nil {
		return fail("rate limit", err)
	}

	rows, err := src.Fetch(ctx, b)
	if err != nil {
		return fail("fetch", err)
	}
	logger.Debug("rows fetched", zap.Int("rows", len(rows)))

	o.archiveRows(ctx, logger, b.ID, passID, run.StartedAt, rows)

	records, err := normalize.Normalize(rows, p.extractor, p.schema)
	if err != nil {
		var tc *normalize.TypeCoercionError
		if errors.As(err, &tc) {
			logger.Error("type coercion failed",
				zap.Int("row", tc.Row),
				zap.String("field", tc.Field),
				zap.Any("raw", tc.Raw),
			)
		}
		return fail("normalize", err)
	}

	batch, err := reconcile.Assemble(records, b.ID, reconcile.AssembleOptions{
		MinExpected: b.MinExpected(),
		PassID:      passID,
		ScrapedAt:   run.StartedAt,
	})
	if err != nil {
		return fail("assemble", err)
	}
	run.UnitsFound = len(batch.Records)

	result, err := o.reconciler.Reconcile(ctx, batch)
	if err != nil {
		return fail("reconcile", err)
	}

	run.Status = models.RunStatusCompleted
	run.NewUnits = result.Plan.NewUnits
	run.TotalUnits = result.TotalUnits
	run.RowsWritten = result.Applied.RowsWritten
	run.RowsDeactivated = result.Applied.RowsDeactivated

	logger.Info("building reconciled",
		zap.Int("units", run.UnitsFound),
		zap.Int("new", run.NewUnits),
		zap.Int("deactivated", len(result.Plan.ToDeactivate)),
		zap.Int("rows_written", run.RowsWritten),
		zap.Int("rows_deactivated", run.RowsDeactivated),
		zap.Int("attempts", result.Attempts),
	)
	o.log(run, models.LogLevelInfo, fmt.Sprintf("Reconciled %d units: %d new, %d written, %d deactivated",
		run.UnitsFound, run.NewUnits, run.RowsWritten, run.RowsDeactivated))

	return result, nil
}

// archiveRows keeps the raw capture. A failed upload never fails the pass.
func (o *Orchestrator) archiveRows(ctx context.Context, logger *zap.Logger, buildingID string, passID uuid.UUID, at time.Time, rows []models.RawRecord) {
	if o.archive == nil {
		return
	}
	key, err := o.archive.Put(ctx, buildingID, passID, at, rows)
	if err != nil {
		logger.Warn("raw archive failed", zap.Error(err))
		return
	}
	logger.Debug("raw rows archived", zap.String("key", key))
}

func (o *Orchestrator) startRun(run *models.ScrapeRun) {
	if o.runs == nil {
		return
	}
	id, err := o.runs.CreateRun(run)
	if err != nil {
		o.logger.Warn("failed to create run record", zap.String("building", run.BuildingID), zap.Error(err))
		return
	}
	run.ID = id
}

func (o *Orchestrator) finishRun(run *models.ScrapeRun) {
	now := time.Now()
	run.FinishedAt = &now
	if o.runs == nil || run.ID == 0 {
		return
	}
	if err := o.runs.UpdateRun(run); err != nil {
		o.logger.Warn("failed to update run record", zap.Int64("run", run.ID), zap.Error(err))
	}
	if err := o.runs.UpdateBuildingStats(run.BuildingID); err != nil {
		o.logger.Warn("failed to update building stats", zap.String("building", run.BuildingID), zap.Error(err))
	}
}

func (o *Orchestrator) log(run *models.ScrapeRun, level models.LogLevel, message string) {
	if o.runs == nil {
		return
	}
	var runID *int64
	if run.ID != 0 {
		runID = &run.ID
	}
	if err := o.runs.Log(runID, level, message, run.BuildingID); err != nil {
		o.logger.Warn("failed to write scrape log", zap.Error(err))
	}
}

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdScrapeNow:
		return o.RunAll(ctx)
	case models.CmdScrapeBuilding:
		params, err := cmd.ParseParams()
		if err != nil {
			return fmt.Errorf("invalid params: %w", err)
		}
		if params.Building == "" {
			return fmt.Errorf("%s needs a building", cmd.Command)
		}
		_, err = o.RunBuilding(ctx, params.Building)
		return err
	case models.CmdPause:
		o.Pause()
		return nil
	case models.CmdResume:
		o.Resume()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
}

func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
	o.logger.Info("scraper paused")
}

func (o *Orchestrator) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
	o.logger.Info("scraper resumed")
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.paused
}

// Close releases sources holding external processes
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, src := range o.sources {
		if c, ok := src.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
