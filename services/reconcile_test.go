package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apt_scrooper/config"
	"apt_scrooper/models"
	"apt_scrooper/reconcile"
	"apt_scrooper/storage"
)

// flakyStore fails the first n Apply calls with the given error
type flakyStore struct {
	*storage.MemoryStore
	failures int
	err      error
	applies  int
}

func (f *flakyStore) Apply(ctx context.Context, plan *models.ReconciliationPlan) (*models.AppliedResult, error) {
	f.applies++
	if f.applies <= f.failures {
		return nil, f.err
	}
	return f.MemoryStore.Apply(ctx, plan)
}

func newFlaky(t *testing.T, failures int, err error) *flakyStore {
	t.Helper()
	mem := storage.NewMemoryStore()
	require.NoError(t, mem.UpsertBuilding(context.Background(), &models.Building{ID: "lyric"}))
	return &flakyStore{MemoryStore: mem, failures: failures, err: err}
}

func batch(t *testing.T, numbers ...string) *models.ScrapeBatch {
	t.Helper()
	records := make([]models.UnitRecord, 0, len(numbers))
	for _, n := range numbers {
		records = append(records, models.UnitRecord{UnitNumber: n, Bedrooms: 1, Bathrooms: 1, SquareFeet: 650, Price: 1700})
	}
	b, err := reconcile.Assemble(records, "lyric", reconcile.AssembleOptions{})
	require.NoError(t, err)
	return b
}

func storeConfig(retries int) config.StoreConfig {
	return config.StoreConfig{TxTimeout: time.Second, Retries: retries, RetryBackoff: time.Millisecond}
}

func TestReconcileService_AppliesPlan(t *testing.T) {
	store := newFlaky(t, 0, nil)
	svc := NewReconcileService(store, storeConfig(0), nil)
	ctx := context.Background()

	res, err := svc.Reconcile(ctx, batch(t, "101", "102"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Applied.RowsWritten)
	assert.Equal(t, 2, res.Plan.NewUnits)
	assert.Equal(t, 2, res.TotalUnits)
	assert.Equal(t, 1, res.Attempts)

	res, err = svc.Reconcile(ctx, batch(t, "102", "103"))
	require.NoError(t, err)
	assert.Equal(t, []string{"101"}, res.Plan.ToDeactivate)
	assert.Equal(t, 1, res.Applied.RowsWritten)
	assert.Equal(t, 1, res.Applied.RowsDeactivated)
	assert.Equal(t, 3, res.TotalUnits)
}

func TestReconcileService_RetriesUnavailable(t *testing.T) {
	unavailable := &storage.StoreUnavailableError{Op: "commit", Err: errors.New("connection reset")}
	store := newFlaky(t, 2, unavailable)
	svc := NewReconcileService(store, storeConfig(2), nil)

	res, err := svc.Reconcile(context.Background(), batch(t, "101"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, store.applies)
}

func TestReconcileService_GivesUpAfterRetries(t *testing.T) {
	unavailable := &storage.StoreUnavailableError{Op: "commit", Err: errors.New("connection reset")}
	store := newFlaky(t, 5, unavailable)
	svc := NewReconcileService(store, storeConfig(1), nil)

	_, err := svc.Reconcile(context.Background(), batch(t, "101"))
	require.Error(t, err)
	assert.True(t, storage.IsRetryable(err))
	assert.Equal(t, 2, store.applies)
}

func TestReconcileService_NeverRetriesConstraintViolation(t *testing.T) {
	violation := &storage.ConstraintViolationError{BuildingID: "lyric", UnitNumber: "101", Constraint: "check"}
	store := newFlaky(t, 5, violation)
	svc := NewReconcileService(store, storeConfig(3), nil)

	_, err := svc.Reconcile(context.Background(), batch(t, "101"))

	var cv *storage.ConstraintViolationError
	require.ErrorAs(t, err, &cv)
	assert.Equal(t, "101", cv.UnitNumber)
	assert.Equal(t, 1, store.applies)
}

func TestReconcileService_StopsRetryingWhenCancelled(t *testing.T) {
	unavailable := &storage.StoreUnavailableError{Op: "begin", Err: errors.New("too many connections")}
	store := newFlaky(t, 5, unavailable)
	svc := NewReconcileService(store, config.StoreConfig{TxTimeout: time.Second, Retries: 3, RetryBackoff: time.Hour}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Reconcile(ctx, batch(t, "101"))
	require.Error(t, err)
	assert.Equal(t, 1, store.applies)
}
