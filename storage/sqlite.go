package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"apt_scrooper/models"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// immediate: take the write lock at BEGIN and wait on busy_timeout for it
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS buildings (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS units (
		building_id TEXT NOT NULL REFERENCES buildings(id),
		unit_number TEXT NOT NULL,
		bedrooms REAL NOT NULL,
		bathrooms REAL NOT NULL,
		square_feet INTEGER NOT NULL CHECK (square_feet > 0),
		price INTEGER NOT NULL CHECK (price >= 0),
		floor_plan_type TEXT NOT NULL DEFAULT '',
		date_available TEXT NOT NULL DEFAULT '',
		availability_status BOOLEAN NOT NULL DEFAULT TRUE,
		first_seen_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (building_id, unit_number)
	);

	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		pass_id TEXT,
		building_id TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		units_found INTEGER DEFAULT 0,
		new_units INTEGER DEFAULT 0,
		total_units INTEGER DEFAULT 0,
		rows_written INTEGER DEFAULT 0,
		rows_deactivated INTEGER DEFAULT 0,
		error_message TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scrape_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		building_id TEXT
	);

	CREATE TABLE IF NOT EXISTS building_stats (
		building_id TEXT PRIMARY KEY,
		last_run_at DATETIME,
		last_run_status TEXT,
		total_units INTEGER,
		available_units INTEGER,
		success_rate REAL,
		avg_run_duration_sec INTEGER
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_units_available ON units(building_id, availability_status);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON scrape_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_building ON scrape_runs(building_id, started_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return classifySQLite("migrate", "", "", err)
	}
	return nil
}

// =============================================================================
// Buildings & Units
// =============================================================================

func (s *SQLiteStore) UpsertBuilding(ctx context.Context, b *models.Building) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buildings (id, name, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			updated_at = excluded.updated_at`,
		b.ID, b.Name, b.URL, now, now)
	if err != nil {
		return classifySQLite("upsert building", b.ID, "", err)
	}
	b.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ExistingUnitNumbers(ctx context.Context, buildingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT unit_number FROM units WHERE building_id = ? ORDER BY unit_number`, buildingID)
	if err != nil {
		return nil, classifySQLite("existing units", buildingID, "", err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, classifySQLite("existing units", buildingID, "", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("existing units", buildingID, "", err)
	}
	return keys, nil
}

const sqliteUpsertUnit = `
	INSERT INTO units (
		building_id, unit_number, bedrooms, bathrooms, square_feet, price,
		floor_plan_type, date_available, availability_status, first_seen_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(building_id, unit_number) DO UPDATE SET
		bedrooms = excluded.bedrooms,
		bathrooms = excluded.bathrooms,
		square_feet = excluded.square_feet,
		price = excluded.price,
		floor_plan_type = excluded.floor_plan_type,
		date_available = excluded.date_available,
		availability_status = excluded.availability_status,
		updated_at = excluded.updated_at
	WHERE units.bedrooms IS NOT excluded.bedrooms
		OR units.bathrooms IS NOT excluded.bathrooms
		OR units.square_feet IS NOT excluded.square_feet
		OR units.price IS NOT excluded.price
		OR units.floor_plan_type IS NOT excluded.floor_plan_type
		OR units.date_available IS NOT excluded.date_available
		OR units.availability_status IS NOT excluded.availability_status`

const sqliteDeactivateUnit = `
	UPDATE units SET availability_status = FALSE, updated_at = ?
	WHERE building_id = ? AND unit_number = ? AND availability_status = TRUE`

func (s *SQLiteStore) Apply(ctx context.Context, plan *models.ReconciliationPlan) (*models.AppliedResult, error) {
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQLite("begin", plan.BuildingID, "", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result := &models.AppliedResult{}

	if len(plan.Upserts) > 0 {
		upsert, err := tx.PrepareContext(ctx, sqliteUpsertUnit)
		if err != nil {
			return nil, classifySQLite("prepare upsert", plan.BuildingID, "", err)
		}
		defer upsert.Close()

		for _, u := range plan.Upserts {
			res, err := upsert.ExecContext(ctx,
				u.BuildingID, u.UnitNumber, u.Bedrooms, u.Bathrooms, u.SquareFeet, u.Price,
				u.FloorPlanType, u.DateAvailable, u.Available, now, now)
			if err != nil {
				return nil, classifySQLite("upsert unit", plan.BuildingID, u.UnitNumber, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, classifySQLite("upsert unit", plan.BuildingID, u.UnitNumber, err)
			}
			result.RowsWritten += int(n)
		}
	}

	if len(plan.ToDeactivate) > 0 {
		deactivate, err := tx.PrepareContext(ctx, sqliteDeactivateUnit)
		if err != nil {
			return nil, classifySQLite("prepare deactivate", plan.BuildingID, "", err)
		}
		defer deactivate.Close()

		for _, unit := range plan.ToDeactivate {
			res, err := deactivate.ExecContext(ctx, now, plan.BuildingID, unit)
			if err != nil {
				return nil, classifySQLite("deactivate unit", plan.BuildingID, unit, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return nil, classifySQLite("deactivate unit", plan.BuildingID, unit, err)
			}
			result.RowsDeactivated += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLite("commit", plan.BuildingID, "", err)
	}
	return result, nil
}

func (s *SQLiteStore) ListUnits(ctx context.Context, buildingID string) ([]models.UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT building_id, unit_number, bedrooms, bathrooms, square_feet, price,
			floor_plan_type, date_available, availability_status
		FROM units WHERE building_id = ? ORDER BY unit_number`, buildingID)
	if err != nil {
		return nil, classifySQLite("list units", buildingID, "", err)
	}
	defer rows.Close()

	var units []models.UnitRecord
	for rows.Next() {
		var u models.UnitRecord
		if err := rows.Scan(&u.BuildingID, &u.UnitNumber, &u.Bedrooms, &u.Bathrooms, &u.SquareFeet, &u.Price,
			&u.FloorPlanType, &u.DateAvailable, &u.Available); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// classifySQLite maps go-sqlite3 errors onto the store error taxonomy
func classifySQLite(op, buildingID, unitNumber string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return &ConstraintViolationError{
				BuildingID: buildingID,
				UnitNumber: unitNumber,
				Constraint: sqliteConstraintName(sqliteErr.ExtendedCode),
				Err:        err,
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr, sqlite3.ErrCantOpen, sqlite3.ErrInterrupt, sqlite3.ErrFull:
			return &StoreUnavailableError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return &StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sqliteConstraintName(code sqlite3.ErrNoExtended) string {
	switch code {
	case sqlite3.ErrConstraintCheck:
		return "check"
	case sqlite3.ErrConstraintForeignKey:
		return "foreign_key"
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		return "unique"
	case sqlite3.ErrConstraintNotNull:
		return "not_null"
	default:
		return "constraint"
	}
}

// =============================================================================
// Scrape Runs & Logs
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.ScrapeRun) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO scrape_runs (pass_id, building_id, started_at, status)
		VALUES (?, ?, ?, ?)`,
		run.PassID, run.BuildingID, run.StartedAt, run.Status)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.ScrapeRun) error {
	_, err := s.db.Exec(`
		UPDATE scrape_runs SET pass_id = ?, finished_at = ?, status = ?, units_found = ?,
			new_units = ?, total_units = ?, rows_written = ?, rows_deactivated = ?, error_message = ?
		WHERE id = ?`,
		run.PassID, run.FinishedAt, run.Status, run.UnitsFound,
		run.NewUnits, run.TotalUnits, run.RowsWritten, run.RowsDeactivated, run.ErrorMessage, run.ID)
	return err
}

func (s *SQLiteStore) GetRecentRuns(buildingID string, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.Query(`
		SELECT id, COALESCE(pass_id, ''), building_id, started_at, finished_at, status, units_found,
			new_units, total_units, rows_written, rows_deactivated, COALESCE(error_message, '')
		FROM scrape_runs WHERE building_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, buildingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var r models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.PassID, &r.BuildingID, &r.StartedAt, &finished, &r.Status, &r.UnitsFound,
			&r.NewUnits, &r.TotalUnits, &r.RowsWritten, &r.RowsDeactivated, &r.ErrorMessage); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, buildingID string) error {
	_, err := s.db.Exec(`
		INSERT INTO scrape_logs (run_id, timestamp, level, message, building_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now(), level, message, buildingID)
	return err
}

// UpdateBuildingStats recomputes the stats row from scrape_runs. Unit counts
// come from the latest completed run.
func (s *SQLiteStore) UpdateBuildingStats(buildingID string) error {
	_, err := s.db.Exec(`
		INSERT INTO building_stats (building_id, last_run_at, last_run_status, total_units,
			available_units, success_rate, avg_run_duration_sec)
		SELECT
			?,
			(SELECT started_at FROM scrape_runs WHERE building_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			(SELECT status FROM scrape_runs WHERE building_id = ? ORDER BY started_at DESC, id DESC LIMIT 1),
			COALESCE((SELECT total_units FROM scrape_runs WHERE building_id = ? AND status = 'completed'
				ORDER BY started_at DESC, id DESC LIMIT 1), 0),
			COALESCE((SELECT units_found FROM scrape_runs WHERE building_id = ? AND status = 'completed'
				ORDER BY started_at DESC, id DESC LIMIT 1), 0),
			COALESCE((SELECT CAST(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END) AS REAL) /
				NULLIF(COUNT(*), 0) FROM scrape_runs WHERE building_id = ?), 0),
			COALESCE((SELECT CAST(ROUND(AVG((julianday(finished_at) - julianday(started_at)) * 86400)) AS INTEGER)
				FROM scrape_runs WHERE building_id = ? AND finished_at IS NOT NULL), 0)
		ON CONFLICT(building_id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			last_run_status = excluded.last_run_status,
			total_units = excluded.total_units,
			available_units = excluded.available_units,
			success_rate = excluded.success_rate,
			avg_run_duration_sec = excluded.avg_run_duration_sec`,
		buildingID, buildingID, buildingID, buildingID, buildingID, buildingID, buildingID)
	return err
}

func (s *SQLiteStore) GetBuildingStats(buildingID string) (*models.BuildingStats, error) {
	row := s.db.QueryRow(`
		SELECT building_id, last_run_at, COALESCE(last_run_status, ''), total_units, available_units,
			success_rate, avg_run_duration_sec
		FROM building_stats WHERE building_id = ?`, buildingID)

	var st models.BuildingStats
	var lastRun sql.NullTime
	err := row.Scan(&st.BuildingID, &lastRun, &st.LastRunStatus, &st.TotalUnits, &st.AvailableUnits,
		&st.SuccessRate, &st.AvgRunDurationSec)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		st.LastRunAt = &lastRun.Time
	}
	return &st, nil
}

// =============================================================================
// Commands
// =============================================================================

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params *models.CommandParams) error {
	var payload any
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	_, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`, cmd, payload, time.Now())
	return err
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at, processed_at
		FROM commands WHERE processed_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var params sql.NullString
		var processed sql.NullTime
		if err := rows.Scan(&cmd.ID, &cmd.Command, &params, &cmd.CreatedAt, &processed); err != nil {
			return nil, err
		}
		if params.Valid {
			cmd.Params = json.RawMessage(params.String)
		}
		if processed.Valid {
			cmd.ProcessedAt = &processed.Time
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now(), id)
	return err
}
