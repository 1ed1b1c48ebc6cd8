package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"apt_scrooper/config"
	"apt_scrooper/models"
	"apt_scrooper/reconcile"
	"apt_scrooper/storage"
)

// ReconcileService turns a scrape batch into stored state for one building
type ReconcileService struct {
	store     storage.UnitStore
	logger    *zap.Logger
	txTimeout time.Duration
	retries   int
	backoff   time.Duration
}

// NewReconcileService creates a new ReconcileService
func NewReconcileService(store storage.UnitStore, cfg config.StoreConfig, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 30 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &ReconcileService{
		store:     store,
		logger:    logger.With(zap.String("component", "reconcile")),
		txTimeout: cfg.TxTimeout,
		retries:   cfg.Retries,
		backoff:   cfg.RetryBackoff,
	}
}

// ReconcileResult contains the outcome of reconciling one batch
type ReconcileResult struct {
	Plan       *models.ReconciliationPlan
	Applied    models.AppliedResult
	TotalUnits int // stored units for the building after the pass
	Attempts   int
}

// Reconcile reads the stored key set, computes the plan and applies it under
// the transaction timeout. Only StoreUnavailableError is retried, with linear
// backoff; every attempt re-reads the key set.
func (s *ReconcileService) Reconcile(ctx context.Context, batch *models.ScrapeBatch) (*ReconcileResult, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retries+1; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt-1) * s.backoff
			s.logger.Warn("store unavailable, retrying",
				zap.String("building", batch.BuildingID),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("reconcile %s: %w", batch.BuildingID, lastErr)
			case <-time.After(wait):
			}
		}

		result, err := s.attempt(ctx, batch)
		if err == nil {
			result.Attempts = attempt
			return result, nil
		}
		if !storage.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reconcile %s: giving up after %d attempts: %w", batch.BuildingID, s.retries+1, lastErr)
}

func (s *ReconcileService) attempt(ctx context.Context, batch *models.ScrapeBatch) (*ReconcileResult, error) {
	txCtx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	existing, err := s.store.ExistingUnitNumbers(txCtx, batch.BuildingID)
	if err != nil {
		return nil, fmt.Errorf("load existing units: %w", err)
	}

	plan := reconcile.Reconcile(batch, existing)

	applied, err := s.store.Apply(txCtx, plan)
	if err != nil {
		return nil, fmt.Errorf("apply plan: %w", err)
	}

	s.logger.Debug("plan applied",
		zap.String("building", plan.BuildingID),
		zap.String("pass", plan.PassID.String()),
		zap.Int("upserts", len(plan.Upserts)),
		zap.Int("to_deactivate", len(plan.ToDeactivate)),
		zap.Int("rows_written", applied.RowsWritten),
		zap.Int("rows_deactivated", applied.RowsDeactivated),
	)

	return &ReconcileResult{
		Plan:       plan,
		Applied:    *applied,
		TotalUnits: len(existing) + plan.NewUnits,
	}, nil
}
