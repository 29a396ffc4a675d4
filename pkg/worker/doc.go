/*
Package worker is the task worker's main control loop: WorkerContext wires
together the lock service, task store, housekeeping beater, and executor
registry, and Run drives the fetch → supervise → sleep cycle until shutdown
is requested. fetcher.go implements the task fetcher, supervisor.go the
child process supervisor, lifecycle.go the signal-driven shutdown
controller, pacer.go the idle-sleep backoff, and identity.go version
compatibility checks; worker.go registers and deregisters the worker row.
*/
package worker
