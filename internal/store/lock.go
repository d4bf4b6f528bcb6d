package store

import (
	"context"
	"fmt"
)

// solverLockNamespace is the fixed first key of the two-integer
// pg_advisory_lock overload, distinguishing solver locks from any other
// advisory-lock use of the same database. Open Question (§9): a
// multi-orchestrator deployment would need a distributed lease instead; this
// single-host advisory lock is sufficient for v1 and is not foreclosed by a
// future lease-based Lock implementation sharing this call site.
const solverLockNamespace = 837162

// Lock acquires a session-scoped Postgres advisory lock named by key,
// blocking until held, and returns a release function. Solver passes are
// serialized against each other this way (§5: "Solver passes are serialized
// against each other via a named advisory lock; this prevents two solvers
// from inserting duplicate executions for the same group concurrently").
//
// pg_advisory_lock/pg_advisory_unlock are scoped to the Postgres session
// (physical connection) that issued them, not to s.db as a whole — s.db is a
// pool, and two ExecContext calls against it may land on two different
// connections. Acquiring on one and unlocking on another is a silent no-op
// (pg_advisory_unlock just returns false), so the lock stays held by
// whatever connection took it until the pool happens to recycle it. Lock
// therefore checks out a single *sql.Conn for the lock's entire lifetime and
// issues both statements against that same connection.
func (s *Store) Lock(ctx context.Context, key string) (func() error, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: checkout connection for advisory lock %s: %w", key, err)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, hashtext($2))`, solverLockNamespace, key); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("store: acquire advisory lock %s: %w", key, err)
	}

	release := func() error {
		defer func() { _ = conn.Close() }()

		if _, err := conn.ExecContext(context.Background(), //nolint:contextcheck // must run even if ctx was cancelled
			`SELECT pg_advisory_unlock($1, hashtext($2))`, solverLockNamespace, key); err != nil {
			return fmt.Errorf("store: release advisory lock %s: %w", key, err)
		}

		return nil
	}

	return release, nil
}
