package store

import (
	"context"
	"fmt"
)

// TransitionStatus performs a compare-and-set status change: the UPDATE only
// applies `WHERE status = from`, so two concurrent callers racing to take the
// same pending Execution have exactly one winner (§4.4, Testable Property 3:
// "at most one Execution of G has status running at any instant").
func (s *Store) TransitionStatus(ctx context.Context, executionID int64, from, to Status) error {
	if err := ValidateTransition(from, to); err != nil {
		return err
	}

	var args []any

	query := `UPDATE executions SET status = $1`

	args = append(args, to)

	switch to {
	case StatusRunning:
		query += `, started_at = now(), heartbeat_at = now()`
	case StatusSucceeded, StatusFailed, StatusCancelled:
		query += `, finished_at = now()`
	case StatusPending:
		query += `, retry_count = retry_count + 1, reason = NULL`
	}

	query += fmt.Sprintf(` WHERE id = $%d AND status = $%d`, len(args)+1, len(args)+2)
	args = append(args, executionID, from)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: transition status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: transition status rows affected: %w", err)
	}

	if affected == 0 {
		return ErrConflict
	}

	return nil
}

// MarkFailed transitions a running Execution to failed with a human-readable
// reason, satisfying §7's "every failure that terminates an execution must be
// written to the Execution row with a human-readable reason."
func (s *Store) MarkFailed(ctx context.Context, executionID int64, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET status = 'failed', finished_at = now(), reason = $1
		 WHERE id = $2 AND status = 'running'`,
		reason, executionID,
	)
	if err != nil {
		return fmt.Errorf("store: mark failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark failed rows affected: %w", err)
	}

	if affected == 0 {
		return ErrConflict
	}

	return nil
}

// Heartbeat refreshes a running Execution's lease so the lost-worker sweep
// (Store.ReapLostWorkers) does not reclaim it.
func (s *Store) Heartbeat(ctx context.Context, executionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE executions SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`, executionID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}

	return nil
}

// Retry transitions a failed Execution back to pending, the only legal
// failed -> pending edge, incrementing retry_count (scenario S5).
func (s *Store) Retry(ctx context.Context, executionID int64) error {
	return s.TransitionStatus(ctx, executionID, StatusFailed, StatusPending)
}

// CancelPending transitions a pending Execution to cancelled (top-level
// --timeout budget exceeded, §4.5's global failure policy).
func (s *Store) CancelPending(ctx context.Context, executionID int64) error {
	return s.TransitionStatus(ctx, executionID, StatusPending, StatusCancelled)
}
