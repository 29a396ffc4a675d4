/*
Package log wraps zerolog with the component/context loggers used across
the worker: WithComponent, WithWorkerName, WithTaskID. Initialize once via
Init before any other package logs.
*/
package log
