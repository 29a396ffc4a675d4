/*
Package housekeeping implements Beat, the one function every wake of the
child supervisor and the idle-sleep pacer calls. Beat gates its own work on
wall-clock elapsed since the last heartbeat, then — at their respective
intervals — prunes the ignored-task list, reaps missing peer workers under
the WORKER_CLEANUP advisory lock, dispatches due schedules under SCHEDULING,
and records the queue-depth gauge under TASK_METRICS. At most one live
worker performs each activity per tick; the rest find their advisory lock
attempt denied and move on.
*/
package housekeeping
