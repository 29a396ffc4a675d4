package taskstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robfig/cron/v3"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// dispatchScheduledTasks consumes due rows from task_schedule, enqueues a
// WAITING task for each, and advances next_dispatch_at to the schedule's
// next occurrence after now.
//
// The schedule table and its due-dispatch semantics were not present in the
// retrieved original source, so the cron-expression interpretation here is
// this implementation's own choice (recorded as an Open Question decision).
func dispatchScheduledTasks(ctx context.Context, q queryer, now time.Time) (int, error) {
	rows, err := q.Query(ctx, `
		SELECT name, task_name, dispatch_interval, next_dispatch_at
		FROM task_schedule
		WHERE next_dispatch_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("taskstore: query due schedules: %w", classify(err))
	}

	var due []*types.TaskSchedule
	for rows.Next() {
		s := &types.TaskSchedule{}
		if err := rows.Scan(&s.Name, &s.TaskName, &s.DispatchInterval, &s.NextDispatchAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("taskstore: scan schedule: %w", classify(err))
		}
		due = append(due, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classify(err)
	}

	dispatched := 0
	for _, s := range due {
		schedule, err := cronParser.Parse(s.DispatchInterval)
		if err != nil {
			return dispatched, fmt.Errorf("taskstore: schedule %q has invalid cron expression %q: %w", s.Name, s.DispatchInterval, err)
		}

		if _, err := q.Exec(ctx, `
			INSERT INTO task (id, name, state, created_at, reserved_resources, immediate, versions)
			VALUES (gen_random_uuid(), $1, 'WAITING', now(), '{}', false, '{}')
		`, s.TaskName); err != nil {
			return dispatched, fmt.Errorf("taskstore: enqueue scheduled task %q: %w", s.TaskName, classify(err))
		}

		next := schedule.Next(now)
		if _, err := q.Exec(ctx, `
			UPDATE task_schedule SET next_dispatch_at = $2 WHERE name = $1
		`, s.Name, next); err != nil {
			return dispatched, fmt.Errorf("taskstore: advance schedule %q: %w", s.Name, classify(err))
		}

		dispatched++
	}

	return dispatched, nil
}

// queryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// dispatchScheduledTasks run either standalone or inside WithAdvisoryLock's
// transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
