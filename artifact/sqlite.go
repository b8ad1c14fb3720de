package artifact

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no cgo)
// for the run/artifact index tables and a content-addressed blob directory
// under root for payload bytes, per spec §6's persisted layout.
type SQLiteStore struct {
	db   *sql.DB
	root string
}

// NewSQLiteStore opens or creates the index database at <root>/index.db and
// ensures the blob directory exists.
func NewSQLiteStore(root string) (*SQLiteStore, error) {
	if root == "" {
		return nil, errors.New("artifact: store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create blob dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(root, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("artifact: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("artifact: sqlite pragmas: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, root: root}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'running',
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			producer TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			seq INTEGER NOT NULL,
			PRIMARY KEY (run_id, phase, producer)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id, seq)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			run_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			producer TEXT NOT NULL,
			tier TEXT NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (run_id, phase, producer, tier)
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("artifact: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Put(ctx context.Context, runID string, phase Phase, producer string, payload []byte) (Artifact, error) {
	hash := Hash(payload)

	var existingHash string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM artifacts WHERE run_id = ? AND phase = ? AND producer = ?`,
		runID, string(phase), producer,
	).Scan(&existingHash)
	switch {
	case err == nil:
		if existingHash != hash {
			return Artifact{}, ErrHashMismatch
		}
		return s.Get1(ctx, runID, phase, producer)
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return Artifact{}, fmt.Errorf("artifact: lookup existing: %w", err)
	}

	blobPath, err := s.blobPath(hash)
	if err != nil {
		return Artifact{}, err
	}
	if _, statErr := os.Stat(blobPath); errors.Is(statErr, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
			return Artifact{}, fmt.Errorf("artifact: create blob shard: %w", err)
		}
		if err := os.WriteFile(blobPath, payload, 0o644); err != nil {
			return Artifact{}, fmt.Errorf("artifact: write blob: %w", err)
		}
	}

	createdAt := now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM artifacts WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return Artifact{}, fmt.Errorf("artifact: next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO artifacts (run_id, phase, producer, content_hash, created_at, seq) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, string(phase), producer, hash, createdAt, seq,
	); err != nil {
		return Artifact{}, fmt.Errorf("artifact: insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, status, updated_at) VALUES (?, 'running', ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		runID, createdAt,
	); err != nil {
		return Artifact{}, fmt.Errorf("artifact: touch run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Artifact{}, fmt.Errorf("artifact: commit: %w", err)
	}

	return Artifact{RunID: runID, Phase: phase, Producer: producer, ContentHash: hash, CreatedAt: createdAt}, nil
}

// Get1 re-reads the index row without the payload, used internally after a
// dedup hit to return the canonical CreatedAt.
func (s *SQLiteStore) Get1(ctx context.Context, runID string, phase Phase, producer string) (Artifact, error) {
	var hash string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash, created_at FROM artifacts WHERE run_id = ? AND phase = ? AND producer = ?`,
		runID, string(phase), producer,
	).Scan(&hash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, ErrNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: get: %w", err)
	}
	return Artifact{RunID: runID, Phase: phase, Producer: producer, ContentHash: hash, CreatedAt: createdAt}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, runID string, phase Phase, producer string) (Artifact, []byte, error) {
	art, err := s.Get1(ctx, runID, phase, producer)
	if err != nil {
		return Artifact{}, nil, err
	}
	blobPath, err := s.blobPath(art.ContentHash)
	if err != nil {
		return Artifact{}, nil, err
	}
	payload, err := os.ReadFile(blobPath)
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("artifact: read blob: %w", err)
	}
	return art, payload, nil
}

func (s *SQLiteStore) Summary(ctx context.Context, runID string, phase Phase, producer string, tier Tier) (string, error) {
	var cached string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM summaries WHERE run_id = ? AND phase = ? AND producer = ? AND tier = ?`,
		runID, string(phase), producer, string(tier),
	).Scan(&cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("artifact: summary lookup: %w", err)
	}

	_, payload, err := s.Get(ctx, runID, phase, producer)
	if err != nil {
		return "", err
	}
	text := summarize(string(payload), tier)
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (run_id, phase, producer, tier, text) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, phase, producer, tier) DO UPDATE SET text = excluded.text`,
		runID, string(phase), producer, string(tier), text,
	); err != nil {
		return "", fmt.Errorf("artifact: cache summary: %w", err)
	}
	return text, nil
}

func (s *SQLiteStore) List(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phase, producer, content_hash, created_at FROM artifacts WHERE run_id = ? ORDER BY seq ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("artifact: list: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var phase, producer, hash string
		var createdAt time.Time
		if err := rows.Scan(&phase, &producer, &hash, &createdAt); err != nil {
			return nil, fmt.Errorf("artifact: list scan: %w", err)
		}
		out = append(out, Artifact{RunID: runID, Phase: Phase(phase), Producer: producer, ContentHash: hash, CreatedAt: createdAt})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Sweep(ctx context.Context, olderThan time.Duration, markTimedOut func(context.Context, string) error) ([]string, error) {
	cutoff := now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE status = 'running' AND updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("artifact: sweep query: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("artifact: sweep scan: %w", err)
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, runID := range stale {
		if markTimedOut != nil {
			if err := markTimedOut(ctx, runID); err != nil {
				return stale, err
			}
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE runs SET status = 'timed_out', updated_at = ? WHERE id = ?`, now(), runID); err != nil {
			return stale, fmt.Errorf("artifact: sweep update: %w", err)
		}
		if _, err := s.Put(ctx, runID, PhaseSynthesis, "sweep", []byte("run timed out: no terminal transition before stale threshold")); err != nil {
			return stale, err
		}
	}
	return stale, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// blobPath derives the on-disk path for a content hash's payload, sharded
// by the hash's first two hex characters, and rejects any hash that would
// resolve outside the store root.
func (s *SQLiteStore) blobPath(hash string) (string, error) {
	if len(hash) < 4 || strings.ContainsAny(hash, `/\`) {
		return "", fmt.Errorf("artifact: invalid content hash %q", hash)
	}
	rel := filepath.Join("blobs", hash[:2], hash)
	full := filepath.Join(s.root, rel)
	cleanRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	cleanFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(cleanFull, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact: blob path %q escapes store root", rel)
	}
	return cleanFull, nil
}
