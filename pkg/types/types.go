package types

import (
	"strings"
	"time"
)

// Task represents a single unit of work pulled from the task store.
//
// ReservedResources is an ordered list of resource names; an entry prefixed
// with "shared:" requests shared (reader) access to that resource, any other
// entry requests exclusive access.
type Task struct {
	ID                string
	Name              string // executor registry key; opaque to the core
	State             TaskState
	CreatedAt         time.Time
	ReservedResources []string
	Immediate         bool
	Versions          map[string]string // module -> minimum semver
	DomainName        string
	Error             string

	// LockedExclusive/LockedShared record which resources this process is
	// currently holding on behalf of the task, so that the supervisor releases
	// exactly those when the task exits. Populated by the fetcher once
	// RLP.Acquire succeeds; never persisted to the task store. Peer cleanup
	// does not read them: it recomputes the resources from ReservedResources.
	LockedExclusive []string
	LockedShared    []string
}

// ExclusiveAndSharedResources splits ReservedResources into exclusive and
// shared resource names, stripping the "shared:" prefix from the latter.
func (t *Task) ExclusiveAndSharedResources() (exclusive, shared []string) {
	for _, r := range t.ReservedResources {
		if name, ok := strings.CutPrefix(r, "shared:"); ok {
			shared = append(shared, name)
		} else {
			exclusive = append(exclusive, r)
		}
	}
	return exclusive, shared
}

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskWaiting   TaskState = "WAITING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskCanceled  TaskState = "CANCELED"
	TaskSkipped   TaskState = "SKIPPED"
)

// IsFinal reports whether the state is terminal.
func (s TaskState) IsFinal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCanceled, TaskSkipped:
		return true
	default:
		return false
	}
}

// Worker is a registry row for a live or recently-live worker process.
type Worker struct {
	Name          string
	AppType       string // always "worker" for this process type
	LastHeartbeat time.Time
	Versions      map[string]string
}

// TaskSchedule is a periodic-dispatch definition consumed by housekeeping.
type TaskSchedule struct {
	Name             string
	TaskName         string
	DispatchInterval string // cron expression
	NextDispatchAt   time.Time
}
