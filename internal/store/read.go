package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/onion/internal/diag"
	"github.com/roach88/onion/internal/pipeline"
)

const runColumns = `id, seq, manifest, mode, order_json, status, error`

// ReadRuns returns every run ordered by seq ASC, id ASC.
//
// Returns an empty slice (not nil) if no runs exist.
func (s *Store) ReadRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.Query(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun retrieves a single run by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE id = ?
	`, id)
	return scanRun(row)
}

// ReadEvents returns the events of one run ordered by seq ASC, id ASC.
//
// Returns an empty slice (not nil) if the run has no events.
func (s *Store) ReadEvents(ctx context.Context, runID string) ([]diag.Event, error) {
	rows, err := s.Query(ctx, `
		SELECT seq, kind, middleware, error
		FROM events
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []diag.Event{}
	for rows.Next() {
		var (
			e        diag.Event
			kind, mw string
		)
		if err := rows.Scan(&e.Seq, &kind, &mw, &e.Error); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = diag.Kind(kind)
		e.Identity = pipeline.Identity(mw)
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountEvents counts stored events of one kind across all runs.
func (s *Store) CountEvents(ctx context.Context, kind diag.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE kind = ?`, string(kind)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		orderJSON string
	)
	if err := row.Scan(&run.ID, &run.Seq, &run.Manifest, &run.Mode, &orderJSON, &run.Status, &run.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(orderJSON), &run.Order); err != nil {
		return Run{}, fmt.Errorf("unmarshal order for run %s: %w", run.ID, err)
	}
	return run, nil
}
