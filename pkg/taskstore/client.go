package taskstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// ErrTransient wraps a connection or availability error from the task
// store, distinguishing it from a logic failure.
var ErrTransient = errors.New("task store transient error")

// IsTransient reports whether err originated from a connection or
// availability failure rather than from query logic.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

func classify(err error) error {
	if err == nil || errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var netErr net.Error
	var pgErr *pgconn.PgError
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.As(err, &pgErr) && (pgErr.Code == "57P03" || pgErr.Code == "08000" || pgErr.Code == "08006") {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// Advisory lock names mapped to the fixed int64 ids the original
// implementation's pulpcore.constants module declares.
const (
	lockScheduling     int64 = 1
	lockWorkerCleanup  int64 = 2
	lockTaskMetrics    int64 = 3
)

var advisoryLockIDs = map[string]int64{
	"SCHEDULING":     lockScheduling,
	"WORKER_CLEANUP": lockWorkerCleanup,
	"TASK_METRICS":   lockTaskMetrics,
}

// Client is the Postgres-backed task and worker registry.
type Client interface {
	WaitingTasks(ctx context.Context, limit int, excludeIDs []string) ([]*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	SetTaskFailed(ctx context.Context, id, errMsg string) error
	UpsertWorker(ctx context.Context, name string, versions map[string]string) error
	TouchWorker(ctx context.Context, name string) error
	DeleteWorker(ctx context.Context, name string) error
	MissingWorkers(ctx context.Context, ttl time.Duration) ([]*types.Worker, error)
	CountLiveWorkers(ctx context.Context, ttl time.Duration) (int, error)
	CountTasksNotFinalOlderThan(ctx context.Context, age time.Duration) (int, error)
	DispatchScheduledTasks(ctx context.Context, now time.Time) (int, error)
	WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (ran bool, err error)
	Close()
}

// PostgresClient implements Client on top of pgx/pgxpool.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// Connect dials dsn and returns a ready Client.
func Connect(ctx context.Context, dsn string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: connect: %w", classify(err))
	}
	return &PostgresClient{pool: pool}, nil
}

func (c *PostgresClient) Close() {
	c.pool.Close()
}

func (c *PostgresClient) WaitingTasks(ctx context.Context, limit int, excludeIDs []string) ([]*types.Task, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT t.id, t.name, t.state, t.created_at, t.reserved_resources,
		       t.immediate, t.versions, d.name
		FROM task t
		LEFT JOIN domain d ON d.id = t.domain_id
		WHERE t.state = 'WAITING' AND NOT (t.id = ANY($1))
		ORDER BY t.created_at ASC
		LIMIT $2
	`, excludeIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("taskstore: waiting tasks: %w", classify(err))
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t := &types.Task{}
		if err := rows.Scan(&t.ID, &t.Name, &t.State, &t.CreatedAt,
			&t.ReservedResources, &t.Immediate, &t.Versions, &t.DomainName); err != nil {
			return nil, fmt.Errorf("taskstore: scan waiting task: %w", classify(err))
		}
		tasks = append(tasks, t)
	}
	return tasks, classify(rows.Err())
}

func (c *PostgresClient) GetTask(ctx context.Context, id string) (*types.Task, error) {
	t := &types.Task{}
	err := c.pool.QueryRow(ctx, `
		SELECT t.id, t.name, t.state, t.created_at, t.reserved_resources,
		       t.immediate, t.versions, d.name
		FROM task t
		LEFT JOIN domain d ON d.id = t.domain_id
		WHERE t.id = $1
	`, id).Scan(&t.ID, &t.Name, &t.State, &t.CreatedAt, &t.ReservedResources,
		&t.Immediate, &t.Versions, &t.DomainName)
	if err != nil {
		return nil, fmt.Errorf("taskstore: get task %q: %w", id, classify(err))
	}
	return t, nil
}

// SetTaskFailed is a no-op if the task is already in a final state.
func (c *PostgresClient) SetTaskFailed(ctx context.Context, id, errMsg string) error {
	_, err := c.pool.Exec(ctx, `
		UPDATE task SET state = 'FAILED', error = $2
		WHERE id = $1 AND state NOT IN ('COMPLETED', 'FAILED', 'CANCELED', 'SKIPPED')
	`, id, errMsg)
	return classify(err)
}

func (c *PostgresClient) UpsertWorker(ctx context.Context, name string, versions map[string]string) error {
	_, err := c.pool.Exec(ctx, `
		INSERT INTO worker (name, app_type, last_heartbeat, versions)
		VALUES ($1, 'worker', now(), $2)
		ON CONFLICT (name) DO UPDATE SET last_heartbeat = now(), versions = $2
	`, name, versions)
	return classify(err)
}

func (c *PostgresClient) TouchWorker(ctx context.Context, name string) error {
	tag, err := c.pool.Exec(ctx, `UPDATE worker SET last_heartbeat = now() WHERE name = $1`, name)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("taskstore: worker %q no longer registered", name)
	}
	return nil
}

func (c *PostgresClient) DeleteWorker(ctx context.Context, name string) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM worker WHERE name = $1`, name)
	return classify(err)
}

func (c *PostgresClient) MissingWorkers(ctx context.Context, ttl time.Duration) ([]*types.Worker, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT name, app_type, last_heartbeat, versions FROM worker
		WHERE last_heartbeat < $1
	`, time.Now().Add(-ttl))
	if err != nil {
		return nil, fmt.Errorf("taskstore: missing workers: %w", classify(err))
	}
	defer rows.Close()

	var workers []*types.Worker
	for rows.Next() {
		w := &types.Worker{}
		if err := rows.Scan(&w.Name, &w.AppType, &w.LastHeartbeat, &w.Versions); err != nil {
			return nil, fmt.Errorf("taskstore: scan missing worker: %w", classify(err))
		}
		workers = append(workers, w)
	}
	return workers, classify(rows.Err())
}

// CountLiveWorkers counts workers whose heartbeat is still within ttl,
// matching the online()/app_type='worker' filter the pacer and queue-depth
// gauge expect — a row left behind by a not-yet-reaped stale worker doesn't
// count as live.
func (c *PostgresClient) CountLiveWorkers(ctx context.Context, ttl time.Duration) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `
		SELECT count(*) FROM worker
		WHERE app_type = 'worker' AND last_heartbeat >= $1
	`, time.Now().Add(-ttl)).Scan(&n)
	return n, classify(err)
}

func (c *PostgresClient) CountTasksNotFinalOlderThan(ctx context.Context, age time.Duration) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `
		SELECT count(*) FROM task
		WHERE state IN ('WAITING', 'RUNNING') AND created_at < $1
	`, time.Now().Add(-age)).Scan(&n)
	return n, classify(err)
}

func (c *PostgresClient) DispatchScheduledTasks(ctx context.Context, now time.Time) (int, error) {
	return dispatchScheduledTasks(ctx, c.queryerFromContext(ctx), now)
}

// queryerFromContext returns the transaction installed by WithAdvisoryLock,
// if ctx was derived from one, falling back to the pool otherwise.
func (c *PostgresClient) queryerFromContext(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return c.pool
}

// WithAdvisoryLock opens a transaction, attempts
// SELECT pg_try_advisory_xact_lock(0, lock_id) non-blocking, and only
// invokes fn if acquired. The transaction (and the advisory lock with it)
// ends when fn returns, matching the original exclusive() decorator's
// scope exactly.
func (c *PostgresClient) WithAdvisoryLock(ctx context.Context, name string, fn func(ctx context.Context) error) (bool, error) {
	lockID, ok := advisoryLockIDs[name]
	if !ok {
		return false, fmt.Errorf("taskstore: unknown advisory lock %q", name)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return false, classify(err)
	}
	defer tx.Rollback(ctx)

	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(0, $1)`, lockID).Scan(&acquired); err != nil {
		return false, classify(err)
	}
	if !acquired {
		return false, nil
	}

	txCtx := withTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		return true, err
	}
	return true, classify(tx.Commit(ctx))
}

type txKey struct{}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}
