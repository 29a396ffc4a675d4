/*
Package types defines the core data structures shared by the task worker.

It has no dependencies on any other package in this module: lockservice,
taskstore, housekeeping, executor, and worker all import types, never the
reverse.

# Core Types

  - Task: a unit of work pulled from the task store, carrying its reserved
    resource list (exclusive unless "shared:"-prefixed), version requirements,
    and immediate/deferred execution mode.
  - TaskState: WAITING, RUNNING, COMPLETED, FAILED, CANCELED, SKIPPED.
  - Worker: a registry row identifying a live worker process by name, with
    its last heartbeat and declared module versions.
  - TaskSchedule: a periodic-dispatch definition (cron expression plus next
    due time) consumed by housekeeping.

# Resource strings

A resource is just a name. Reserved resources are stored on the task as a
flat string list; ExclusiveAndSharedResources splits that list into the two
sets the resource lock protocol needs, stripping the "shared:" prefix.
*/
package types
