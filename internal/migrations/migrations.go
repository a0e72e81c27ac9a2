// Package migrations versions the schema of the run store.
package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add observation lookup indices",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_stress_observations_kind ON stress_observations(run_id, kind);
			CREATE INDEX IF NOT EXISTS idx_stress_observations_class ON stress_observations(run_id, error_class, error_code);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_stress_observations_kind;
			DROP INDEX IF EXISTS idx_stress_observations_class;
		`,
	},
	{
		Version: 2,
		Name:    "Add final statistic snapshots per run",
		Up: `
			CREATE TABLE IF NOT EXISTS stress_run_statistics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id INTEGER NOT NULL,
				name TEXT NOT NULL,
				implementation TEXT NOT NULL,
				entries TEXT NOT NULL,
				captured_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (run_id) REFERENCES stress_runs(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_stress_run_statistics_run_id ON stress_run_statistics(run_id);
		`,
		Down: `
			DROP TABLE IF EXISTS stress_run_statistics;
		`,
	},
	{
		Version: 3,
		Name:    "Record request size per observation",
		Up: `
			ALTER TABLE stress_observations ADD COLUMN request_size INTEGER NOT NULL DEFAULT 0;
		`,
		Down: `
			ALTER TABLE stress_observations DROP COLUMN request_size;
		`,
	},
}

// InitSchema creates the base tables.
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stress_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		generation INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		total_issued INTEGER DEFAULT 0,
		total_succeeded INTEGER DEFAULT 0,
		total_failed INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_stress_runs_started_at ON stress_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_stress_runs_status ON stress_runs(status);

	CREATE TABLE IF NOT EXISTS stress_observations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		issued INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error_class INTEGER NOT NULL DEFAULT 0,
		error_code INTEGER NOT NULL DEFAULT 0,
		latency_us INTEGER NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		response_size INTEGER DEFAULT 0,
		qtime INTEGER DEFAULT -1,
		hits INTEGER DEFAULT -1,
		worker INTEGER NOT NULL,
		error_message TEXT,
		timestamp DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES stress_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_stress_observations_run_id ON stress_observations(run_id);
	CREATE INDEX IF NOT EXISTS idx_stress_observations_timestamp ON stress_observations(run_id, timestamp);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Create migrations tracking table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}
		if err := apply(db, migration); err != nil {
			return err
		}
	}

	return nil
}

// apply runs one migration and records it in the same transaction
func apply(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		migration.Version,
		migration.Name,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// Rollback reverts applied migrations, newest first, until the schema is at target.
// The base tables from InitSchema are never dropped.
func Rollback(db *sql.DB, target int) error {
	current, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for i := len(AllMigrations) - 1; i >= 0; i-- {
		m := AllMigrations[i]
		if m.Version > current || m.Version <= target {
			continue
		}
		if err := revert(db, m); err != nil {
			return err
		}
	}
	return nil
}

func revert(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin rollback %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.Down); err != nil {
		return fmt.Errorf("failed to revert migration %d (%s): %w", m.Version, m.Name, err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
		return fmt.Errorf("failed to unrecord migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
