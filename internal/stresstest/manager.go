package stresstest

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/ksuid"

	"github.com/studiowebux/searchmeter/internal/migrations"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/types"
)

// Manager handles run persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the run database at dbPath
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite has a single writer; this also keeps ":memory:" databases on one connection
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	// Run database migrations (includes schema initialization)
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateRun inserts a run record, assigning a GUID when the run has none
func (m *Manager) CreateRun(run *Run) error {
	if run.GUID == "" {
		run.GUID = ksuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	result, err := m.db.Exec(`
		INSERT INTO stress_runs (guid, name, generation, started_at, status)
		VALUES (?, ?, ?, ?, ?)
	`, run.GUID, run.Name, run.Generation, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun updates a run record
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE stress_runs
		SET completed_at = ?, status = ?, total_issued = ?, total_succeeded = ?, total_failed = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.TotalIssued, run.TotalSucceeded, run.TotalFailed, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, err)
	}
	return nil
}

const runColumns = `id, guid, name, generation, started_at, completed_at, status,
	       COALESCE(total_issued, 0), COALESCE(total_succeeded, 0), COALESCE(total_failed, 0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.GUID, &run.Name, &run.Generation, &run.StartedAt, &completedAt,
		&run.Status, &run.TotalIssued, &run.TotalSucceeded, &run.TotalFailed)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	return scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM stress_runs WHERE id = ?`, id))
}

// GetRunByGUID retrieves a run by its GUID
func (m *Manager) GetRunByGUID(guid string) (*Run, error) {
	return scanRun(m.db.QueryRow(`SELECT `+runColumns+` FROM stress_runs WHERE guid = ?`, guid))
}

// ListRuns returns runs, most recent first
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM stress_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run together with its observations and snapshots
func (m *Manager) DeleteRun(id int64) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM stress_observations WHERE run_id = ?",
		"DELETE FROM stress_run_statistics WHERE run_id = ?",
		"DELETE FROM stress_runs WHERE id = ?",
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return fmt.Errorf("failed to delete run %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// SaveObservationsBatch saves multiple observations in a single transaction
func (m *Manager) SaveObservationsBatch(runID int64, observations []types.Observation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO stress_observations
		(run_id, kind, issued, success, error_class, error_code, latency_us, status_code, response_size,
		 request_size, qtime, hits, worker, error_message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		_, err := stmt.Exec(runID, obs.Kind.String(), obs.Issued, obs.Success,
			int(obs.Category.Class), obs.Category.Code, obs.Latency.Microseconds(),
			obs.Meta.StatusCode, obs.Meta.Size, obs.RequestSize, obs.Meta.QTime, obs.Meta.Hits,
			obs.Worker, obs.Err, obs.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}

	return tx.Commit()
}

// GetObservations retrieves all observations of a run in timestamp order
func (m *Manager) GetObservations(runID int64) ([]types.Observation, error) {
	rows, err := m.db.Query(`
		SELECT kind, issued, success, error_class, error_code, latency_us, status_code,
		       COALESCE(response_size, 0), request_size, COALESCE(qtime, -1), COALESCE(hits, -1), worker,
		       error_message, timestamp
		FROM stress_observations
		WHERE run_id = ?
		ORDER BY timestamp, id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var observations []types.Observation
	for rows.Next() {
		var (
			obs       types.Observation
			kind      string
			class     int
			latencyUs int64
			errorMsg  sql.NullString
		)
		err := rows.Scan(&kind, &obs.Issued, &obs.Success, &class, &obs.Category.Code, &latencyUs,
			&obs.Meta.StatusCode, &obs.Meta.Size, &obs.RequestSize, &obs.Meta.QTime, &obs.Meta.Hits, &obs.Worker,
			&errorMsg, &obs.Timestamp)
		if err != nil {
			return nil, err
		}
		if obs.Kind, err = types.ParseKind(kind); err != nil {
			return nil, err
		}
		obs.Category.Class = types.ErrorClass(class)
		obs.Latency = time.Duration(latencyUs) * time.Microsecond
		if errorMsg.Valid {
			obs.Err = errorMsg.String
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// CountObservations returns how many observations were stored for a run
func (m *Manager) CountObservations(runID int64) (int, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM stress_observations WHERE run_id = ?", runID).Scan(&count)
	return count, err
}

// SaveSnapshots stores the final statistic snapshots of a run
func (m *Manager) SaveSnapshots(runID int64, snapshots []statistics.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, snap := range snapshots {
		entries, err := json.Marshal(snap.Entries)
		if err != nil {
			return fmt.Errorf("failed to encode statistic %s: %w", snap.Name, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO stress_run_statistics (run_id, name, implementation, entries)
			VALUES (?, ?, ?, ?)
		`, runID, snap.Name, snap.Implementation, string(entries)); err != nil {
			return fmt.Errorf("failed to save statistic %s: %w", snap.Name, err)
		}
	}
	return tx.Commit()
}

// GetSnapshots retrieves the statistic snapshots stored for a run
func (m *Manager) GetSnapshots(runID int64) ([]statistics.Snapshot, error) {
	rows, err := m.db.Query(`
		SELECT name, implementation, entries
		FROM stress_run_statistics
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []statistics.Snapshot
	for rows.Next() {
		var (
			snap    statistics.Snapshot
			entries string
		)
		if err := rows.Scan(&snap.Name, &snap.Implementation, &entries); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(entries), &snap.Entries); err != nil {
			return nil, fmt.Errorf("failed to decode statistic %s: %w", snap.Name, err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// runWriter persists observations into one run
type runWriter struct {
	manager *Manager
	runID   func() int64
}

func (w *runWriter) WriteObservations(observations []types.Observation) error {
	id := w.runID()
	if id == 0 {
		return fmt.Errorf("%w: no active run to record observations into", ErrInvalidState)
	}
	return w.manager.SaveObservationsBatch(id, observations)
}

// Writer returns an ObservationWriter bound to runID
func (m *Manager) Writer(runID int64) statistics.ObservationWriter {
	return &runWriter{manager: m, runID: func() int64 { return runID }}
}
