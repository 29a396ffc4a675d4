/*
Package lockservice wraps a Redis-backed lock store with the primitives the
rest of the worker needs: the claim lock (one key per task), the resource
lock protocol (all-or-nothing acquisition of a task's reserved resources),
and the raw key/value/set operations housekeeping uses to clean up after a
missing peer.
*/
package lockservice
