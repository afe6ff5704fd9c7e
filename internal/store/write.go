package store

import (
	"context"
	"fmt"

	"github.com/roach88/onion/internal/canonical"
	"github.com/roach88/onion/internal/diag"
)

// Run status values.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusError   = "error"
)

// Run is one stored pipeline invocation.
type Run struct {
	ID       string   `json:"id"`
	Seq      int64    `json:"seq"`
	Manifest string   `json:"manifest"`
	Mode     string   `json:"mode"`
	Order    []string `json:"order"`
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
}

// BeginRun inserts a run in the running state and returns its seq.
// Writing the same run id twice is ignored.
func (s *Store) BeginRun(ctx context.Context, run Run) (int64, error) {
	order := run.Order
	if order == nil {
		order = []string{}
	}
	orderJSON, err := canonical.Marshal(order)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}

	mode := run.Mode
	if mode == "" {
		mode = "blocking"
	}

	seq := s.clock.Next()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, seq, manifest, mode, order_json, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		seq,
		run.Manifest,
		mode,
		string(orderJSON),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("begin run: %w", err)
	}
	return seq, nil
}

// WriteEvent appends a diagnostics event to a run and returns its seq. The
// event's own Seq is ignored; the store clock assigns one.
//
// Note: The run must exist (foreign key constraint).
func (s *Store) WriteEvent(ctx context.Context, runID string, e diag.Event) (int64, error) {
	seq := s.clock.Next()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, seq, kind, middleware, error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		runID,
		seq,
		string(e.Kind),
		string(e.Identity),
		e.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("write event: %w", err)
	}
	return seq, nil
}

// FinishRun records the outcome of a run. A nil runErr marks it ok.
func (s *Store) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusError, runErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = ? WHERE id = ?
	`, status, msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}
