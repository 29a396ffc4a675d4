/*
Package taskstore is the Postgres-backed task and worker registry.

It offers the bounded waiting-task query the fetcher polls, idempotent
task-failure updates, worker heartbeat upsert/touch/delete, and
WithAdvisoryLock — a transactional wrapper around
pg_try_advisory_xact_lock(0, id) that housekeeping uses to guarantee at most
one worker performs a given cleanup/scheduling/metrics activity per tick.
The advisory lock auto-releases when the wrapped transaction ends, whether
committed or rolled back.
*/
package taskstore
