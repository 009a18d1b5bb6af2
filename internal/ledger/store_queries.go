package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vqaexplain/internal/services"
)

const runColumns = "id, model, protocol_path, save_path, methods, analysis_types, status, started_at, finished_at, entries, artifacts, skips, error_message"

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun fetches a run by id. A unique id prefix is accepted.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id LIMIT 2`,
		id, id+"%")
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.ID == id {
			return run, nil
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, services.Wrap(services.ErrNotFound, "ledger", "get run", id, nil)
	case 1:
		return matches[0], nil
	default:
		return nil, services.Wrap(services.ErrValidation, "ledger", "get run", "ambiguous run id prefix "+id, nil)
	}
}

// Predictions returns the recorded predictions of a run in insertion order.
func (s *Store) Predictions(ctx context.Context, runID string) ([]Prediction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, method, analysis_type, rank, answer, probability
         FROM predictions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []Prediction
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.EntryID, &p.Method, &p.AnalysisType, &p.Rank, &p.Answer, &p.Probability); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Artifacts returns the artifacts of a run in insertion order.
func (s *Store) Artifacts(ctx context.Context, runID string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, method, analysis_type, analysis_index, path
         FROM artifacts WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.EntryID, &a.Method, &a.AnalysisType, &a.AnalysisIndex, &a.Path); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Skips returns the skips of a run in insertion order.
func (s *Store) Skips(ctx context.Context, runID string) ([]Skip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, method, analysis_type, reason FROM skips WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list skips: %w", err)
	}
	defer rows.Close()

	var out []Skip
	for rows.Next() {
		var (
			skip         Skip
			method       sql.NullString
			analysisType sql.NullString
		)
		if err := rows.Scan(&skip.EntryID, &method, &analysisType, &skip.Reason); err != nil {
			return nil, fmt.Errorf("scan skip: %w", err)
		}
		skip.Method = method.String
		skip.AnalysisType = analysisType.String
		out = append(out, skip)
	}
	return out, rows.Err()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run         Run
		methods     string
		types       string
		status      string
		startedRaw  string
		finishedRaw sql.NullString
		errMessage  sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&run.Model,
		&run.ProtocolPath,
		&run.SavePath,
		&methods,
		&types,
		&status,
		&startedRaw,
		&finishedRaw,
		&run.Entries,
		&run.Artifacts,
		&run.Skips,
		&errMessage,
	); err != nil {
		return nil, err
	}
	run.Methods = splitList(methods)
	run.AnalysisTypes = splitList(types)
	run.Status = Status(status)
	run.ErrorMessage = errMessage.String
	started, err := parseTime(startedRaw)
	if err != nil {
		return nil, err
	}
	run.StartedAt = started
	if finishedRaw.Valid && finishedRaw.String != "" {
		finished, err := parseTime(finishedRaw.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &finished
	}
	return &run, nil
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.Join(fmt.Errorf("parse timestamp %q", raw), err)
	}
	return t, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
