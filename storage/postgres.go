package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"apt_scrooper/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StoreUnavailableError{Op: "ping", Err: err}
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS buildings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS units (
		building_id TEXT NOT NULL REFERENCES buildings(id),
		unit_number TEXT NOT NULL,
		bedrooms NUMERIC(3,1) NOT NULL,
		bathrooms NUMERIC(3,1) NOT NULL,
		square_feet INTEGER NOT NULL CHECK (square_feet > 0),
		price INTEGER NOT NULL CHECK (price >= 0),
		floor_plan_type TEXT NOT NULL DEFAULT '',
		date_available TEXT NOT NULL DEFAULT '',
		availability_status BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (building_id, unit_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_units_available ON units(building_id) WHERE availability_status`,
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return classifyPostgres("migrate", "", "", err)
		}
	}
	return nil
}

// =============================================================================
// Buildings
// =============================================================================

func (s *PostgresStore) UpsertBuilding(ctx context.Context, b *models.Building) error {
	query := `
		INSERT INTO buildings (id, name, url)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := s.pool.QueryRow(ctx, query, b.ID, b.Name, b.URL).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return classifyPostgres("upsert building", b.ID, "", err)
	}
	return nil
}

// =============================================================================
// Units
// =============================================================================

func (s *PostgresStore) ExistingUnitNumbers(ctx context.Context, buildingID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT unit_number FROM units WHERE building_id = $1 ORDER BY unit_number`, buildingID)
	if err != nil {
		return nil, classifyPostgres("existing units", buildingID, "", err)
	}

	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, classifyPostgres("existing units", buildingID, "", err)
	}
	return keys, nil
}

// The WHERE clause skips rows whose values are unchanged, so RowsAffected
// counts only real writes.
const pgUpsertUnit = `
	INSERT INTO units (
		building_id, unit_number, bedrooms, bathrooms, square_feet, price,
		floor_plan_type, date_available, availability_status
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (building_id, unit_number) DO UPDATE SET
		bedrooms = EXCLUDED.bedrooms,
		bathrooms = EXCLUDED.bathrooms,
		square_feet = EXCLUDED.square_feet,
		price = EXCLUDED.price,
		floor_plan_type = EXCLUDED.floor_plan_type,
		date_available = EXCLUDED.date_available,
		availability_status = EXCLUDED.availability_status,
		updated_at = NOW()
	WHERE (units.bedrooms, units.bathrooms, units.square_feet, units.price,
			units.floor_plan_type, units.date_available, units.availability_status)
		IS DISTINCT FROM
		(EXCLUDED.bedrooms, EXCLUDED.bathrooms, EXCLUDED.square_feet, EXCLUDED.price,
			EXCLUDED.floor_plan_type, EXCLUDED.date_available, EXCLUDED.availability_status)`

const pgDeactivateUnits = `
	UPDATE units SET availability_status = FALSE, updated_at = NOW()
	WHERE building_id = $1 AND unit_number = ANY($2) AND availability_status = TRUE`

func (s *PostgresStore) Apply(ctx context.Context, plan *models.ReconciliationPlan) (*models.AppliedResult, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, classifyPostgres("begin", plan.BuildingID, "", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, u := range plan.Upserts {
		batch.Queue(pgUpsertUnit,
			u.BuildingID, u.UnitNumber, u.Bedrooms, u.Bathrooms, u.SquareFeet, u.Price,
			u.FloorPlanType, u.DateAvailable, u.Available,
		)
	}
	if len(plan.ToDeactivate) > 0 {
		batch.Queue(pgDeactivateUnits, plan.BuildingID, plan.ToDeactivate)
	}

	result := &models.AppliedResult{}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for _, u := range plan.Upserts {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return nil, classifyPostgres("upsert unit", plan.BuildingID, u.UnitNumber, err)
			}
			result.RowsWritten += int(tag.RowsAffected())
		}
		if len(plan.ToDeactivate) > 0 {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return nil, classifyPostgres("deactivate units", plan.BuildingID, "", err)
			}
			result.RowsDeactivated = int(tag.RowsAffected())
		}
		if err := br.Close(); err != nil {
			return nil, classifyPostgres("close batch", plan.BuildingID, "", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPostgres("commit", plan.BuildingID, "", err)
	}
	return result, nil
}

func (s *PostgresStore) ListUnits(ctx context.Context, buildingID string) ([]models.UnitRecord, error) {
	query := `
		SELECT building_id, unit_number, bedrooms::float8, bathrooms::float8, square_feet, price,
			floor_plan_type, date_available, availability_status
		FROM units WHERE building_id = $1
		ORDER BY unit_number`

	rows, err := s.pool.Query(ctx, query, buildingID)
	if err != nil {
		return nil, classifyPostgres("list units", buildingID, "", err)
	}

	units, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.UnitRecord])
	if err != nil {
		return nil, classifyPostgres("list units", buildingID, "", err)
	}
	return units, nil
}

// classifyPostgres maps driver errors onto the store error taxonomy.
// SQLSTATE class 23 is an integrity violation; class 08, admin shutdown,
// serialization failures and statement cancellation are transient.
func classifyPostgres(op, buildingID, unitNumber string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "23"):
			constraint := pgErr.ConstraintName
			if constraint == "" {
				constraint = pgErr.Code
			}
			return &ConstraintViolationError{BuildingID: buildingID, UnitNumber: unitNumber, Constraint: constraint, Err: err}
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "57P"),
			pgErr.Code == "57014", // query_canceled
			pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "53300": // too_many_connections
			return &StoreUnavailableError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) {
		return &StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
