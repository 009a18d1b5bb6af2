package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vqaexplain/internal/model"
	"vqaexplain/internal/services"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages run history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// StartRun inserts run with status running. StartedAt defaults to now.
func (s *Store) StartRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs (
            id, model, protocol_path, save_path, methods, analysis_types, status, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Model,
		run.ProtocolPath,
		run.SavePath,
		joinList(run.Methods),
		joinList(run.AnalysisTypes),
		StatusRunning,
		run.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun stamps the final status, counters and optional failure of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, status Status, totals Totals, runErr error) error {
	var message any
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE runs
         SET status = ?, finished_at = ?, entries = ?, artifacts = ?, skips = ?, error_message = ?
         WHERE id = ?`,
		status,
		time.Now().UTC().Format(timeLayout),
		totals.Entries,
		totals.Artifacts,
		totals.Skips,
		message,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return services.Wrap(services.ErrNotFound, "ledger", "finish run", runID, nil)
	}
	return nil
}

// RecordPredictions stores a ranked prediction list. Rank starts at 1.
func (s *Store) RecordPredictions(ctx context.Context, runID, entryID, method, analysisType string, preds []model.Prediction) error {
	if len(preds) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin predictions tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO predictions (run_id, entry_id, method, analysis_type, rank, answer, probability)
         VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare predictions: %w", err)
	}
	defer stmt.Close()

	for i, p := range preds {
		if _, err := stmt.ExecContext(ctx, runID, entryID, method, analysisType, i+1, p.Answer, p.Probability); err != nil {
			return fmt.Errorf("insert prediction: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit predictions: %w", err)
	}
	return nil
}

// RecordArtifact stores a written artifact.
func (s *Store) RecordArtifact(ctx context.Context, runID string, a Artifact) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (run_id, entry_id, method, analysis_type, analysis_index, path)
         VALUES (?, ?, ?, ?, ?, ?)`,
		runID, a.EntryID, a.Method, a.AnalysisType, a.AnalysisIndex, a.Path,
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// RecordSkip stores a skipped entry or analysis type.
func (s *Store) RecordSkip(ctx context.Context, runID string, skip Skip) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO skips (run_id, entry_id, method, analysis_type, reason) VALUES (?, ?, ?, ?, ?)`,
		runID, skip.EntryID, nullableString(skip.Method), nullableString(skip.AnalysisType), skip.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert skip: %w", err)
	}
	return nil
}
