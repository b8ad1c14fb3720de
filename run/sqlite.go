package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite, persisting the run
// ledger as a table of (run-id, task, subagent, status, created-at,
// updated-at, timings JSON), per spec §6's persisted layout.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the run ledger database at dsn. Pass the
// same dsn the artifact SQLiteStore's index.db uses to colocate the run
// ledger and artifact index in one file, or a distinct path to keep them
// separate.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("run: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run: sqlite pragmas: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS council_runs (
		id TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		providers TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'running',
		timings TEXT NOT NULL DEFAULT '{}',
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("run: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, r Record) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.UpdatedAt = r.CreatedAt
	if r.Status == "" {
		r.Status = StatusRunning
	}
	providers, err := json.Marshal(r.Providers)
	if err != nil {
		return fmt.Errorf("run: marshal providers: %w", err)
	}
	timings, err := json.Marshal(r.Timings)
	if err != nil {
		return fmt.Errorf("run: marshal timings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO council_runs (id, task, role, mode, providers, status, timings, failure_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Task, r.Role, r.Mode, string(providers), string(r.Status), string(timings), r.FailureReason, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("run: create: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, role, mode, providers, status, timings, failure_reason, created_at, updated_at
		 FROM council_runs WHERE id = ?`, runID)
	return scanRecord(row)
}

func (s *SQLiteStore) Touch(ctx context.Context, runID, phase string, elapsed time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("run: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var timingsJSON string
	if err := tx.QueryRowContext(ctx, `SELECT timings FROM council_runs WHERE id = ?`, runID).Scan(&timingsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("run: touch lookup: %w", err)
	}
	timings := Timings{}
	if timingsJSON != "" {
		_ = json.Unmarshal([]byte(timingsJSON), &timings)
	}
	timings[phase] = elapsed
	encoded, err := json.Marshal(timings)
	if err != nil {
		return fmt.Errorf("run: marshal timings: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE council_runs SET timings = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now(), runID,
	); err != nil {
		return fmt.Errorf("run: touch update: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Transition(ctx context.Context, runID string, status Status, failureReason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE council_runs SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		string(status), failureReason, time.Now(), runID,
	)
	if err != nil {
		return fmt.Errorf("run: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("run: transition rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListRunning(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, role, mode, providers, status, timings, failure_reason, created_at, updated_at
		 FROM council_runs WHERE status = ?`, string(StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("run: list running: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	r, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func scanRecordRows(rows *sql.Rows) (Record, error) {
	return scanInto(rows)
}

func scanInto(row scanner) (Record, error) {
	var (
		r                       Record
		providersJSON, timings  string
		status                  string
	)
	if err := row.Scan(&r.RunID, &r.Task, &r.Role, &r.Mode, &providersJSON, &status, &timings, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("run: scan: %w", err)
	}
	r.Status = Status(status)
	if providersJSON != "" {
		_ = json.Unmarshal([]byte(providersJSON), &r.Providers)
	}
	r.Timings = Timings{}
	if timings != "" {
		_ = json.Unmarshal([]byte(timings), &r.Timings)
	}
	if len(r.Timings) == 0 {
		r.Timings = nil
	}
	return r, nil
}
