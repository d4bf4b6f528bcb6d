package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

const connectCtxTimeout = 5 * time.Second

// defaultLeaseExpiry is how long a `running` Execution may go without a
// heartbeat before the cleanup goroutine considers its worker lost (§4.5:
// "any Execution in running whose backing worker/job is no longer alive is
// marked failed"). Executor variants are expected to heartbeat more often
// than this via Heartbeat.
const defaultLeaseExpiry = 2 * time.Minute

const defaultCleanupInterval = 30 * time.Second

// Store is a PostgreSQL-backed implementation of the execution lifecycle
// store. It owns a background cleanup goroutine that reclaims Executions
// whose worker died, started in the constructor and stopped via Close,
// mirroring the teacher's LineageStore idempotency-cleanup discipline.
type Store struct {
	db  *sql.DB
	log *slog.Logger

	leaseExpiry      time.Duration
	cleanupInterval  time.Duration
	cleanupStop      chan struct{}
	cleanupDone      chan struct{}
	cleanupOnce      sync.Once
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLeaseExpiry overrides how long a running Execution may go without a heartbeat.
func WithLeaseExpiry(d time.Duration) Option {
	return func(s *Store) { s.leaseExpiry = d }
}

// WithCleanupInterval overrides how often the lost-worker sweep runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// Open opens a PostgreSQL connection pool per cfg and performs an immediate
// health check, matching the teacher's NewConnection discipline.
func Open(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectCtxTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("store: health check failed: %w", err)
	}

	return db, nil
}

// New wraps an existing connection pool, starting the lost-worker cleanup
// goroutine. Callers must call Close to stop it.
func New(db *sql.DB, log *slog.Logger, opts ...Option) *Store {
	if log == nil {
		log = slog.Default()
	}

	s := &Store{
		db:              db,
		log:             log,
		leaseExpiry:     defaultLeaseExpiry,
		cleanupInterval: defaultCleanupInterval,
		cleanupStop:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.runCleanup()

	return s
}

// Close stops the cleanup goroutine and closes the underlying connection
// pool. Safe to call multiple times.
func (s *Store) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.cleanupStop)
		<-s.cleanupDone
	})

	return s.db.Close()
}

// runCleanup periodically reclaims Executions whose worker lease expired
// without a heartbeat, transitioning them to failed with reason "lost worker"
// (§4.5's resume guarantee, scenario S5).
func (s *Store) runCleanup() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), connectCtxTimeout)

			n, err := s.ReapLostWorkers(ctx, s.leaseExpiry)

			cancel()

			if err != nil {
				s.log.Error("store: lost-worker reap failed", slog.String("error", err.Error()))

				continue
			}

			if n > 0 {
				s.log.Info("store: reaped lost-worker executions", slog.Int("count", n))
			}
		}
	}
}

// ReapLostWorkers transitions every `running` Execution whose last heartbeat
// is older than leaseExpiry to `failed` with reason "lost worker".
func (s *Store) ReapLostWorkers(ctx context.Context, leaseExpiry time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = 'failed', finished_at = now(), reason = 'lost worker'
		 WHERE status = 'running' AND heartbeat_at < now() - $1::interval`,
		leaseExpiry.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: reap lost workers: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reap lost workers rows affected: %w", err)
	}

	return int(affected), nil
}

// HealthCheck verifies the underlying database connection is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx) //nolint:wrapcheck
}
