/*
Package metrics defines and registers the Prometheus metrics this worker
exposes: queue depth and live-worker gauges sampled by housekeeping, and
per-task counters/histograms recorded by the supervisor around each child
run. Handler serves them for scraping; Timer is the shared start/observe
helper used by both housekeeping and the supervisor.
*/
package metrics
