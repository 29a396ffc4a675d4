package lockservice

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// acquireScript implements the all-or-nothing check-then-set exactly: scan
// every exclusive resource for a conflicting exclusive owner or any shared
// owner, then every shared resource for a conflicting exclusive owner, and
// only on a clean pass does it write. KEYS carries four blocks in order: the
// exclusive keys of the exclusive resources, the shared keys of the exclusive
// resources, the exclusive keys of the shared resources, and the shared keys
// of the shared resources. ARGV[1] is the worker name, ARGV[2] is the number
// of exclusive resources, and ARGV[3:] are the resource names (exclusive
// first, then shared), returned as the blocker on a conflict.
var acquireScript = redis.NewScript(`
local nExclusive = tonumber(ARGV[2])
local worker = ARGV[1]

for i = 1, nExclusive do
	local exKey = KEYS[i]
	local shKey = KEYS[nExclusive + i]
	if redis.call("exists", exKey) == 1 then
		return {ARGV[2 + i]}
	end
	if redis.call("scard", shKey) > 0 then
		return {ARGV[2 + i]}
	end
end

local nShared = (#KEYS - 2 * nExclusive) / 2
for i = 1, nShared do
	local exKey = KEYS[2 * nExclusive + i]
	if redis.call("exists", exKey) == 1 then
		return {ARGV[2 + nExclusive + i]}
	end
end

for i = 1, nExclusive do
	redis.call("set", KEYS[i], worker)
end
for i = 1, nShared do
	local shKey = KEYS[2 * nExclusive + nShared + i]
	redis.call("sadd", shKey, worker)
end

return {}
`)

// releaseScript releases every exclusive and shared resource owned by
// worker, tolerating resources it never held. Used when the caller is the
// owner itself; peer cleanup uses the non-atomic two-step instead, since it
// acts on behalf of a worker that is not the caller.
var releaseScript = redis.NewScript(`
local nExclusive = tonumber(ARGV[2])
local worker = ARGV[1]

for i = 1, nExclusive do
	local exKey = KEYS[i]
	if redis.call("get", exKey) == worker then
		redis.call("del", exKey)
	end
end

local nShared = #KEYS - nExclusive
for i = 1, nShared do
	local shKey = KEYS[nExclusive + i]
	redis.call("srem", shKey, worker)
	if redis.call("scard", shKey) == 0 then
		redis.call("del", shKey)
	end
end

return 1
`)

// ResourceLock implements the resource lock protocol: atomic all-or-nothing
// acquisition of a task's reserved resources, and tolerant release.
type ResourceLock struct {
	client Client
}

// NewResourceLock returns a ResourceLock backed by client.
func NewResourceLock(client Client) *ResourceLock {
	return &ResourceLock{client: client}
}

// Acquire attempts to lock every resource in exclusive and shared for
// worker. exclusive and shared must already be sorted by the caller — the
// script relies on a deterministic acquisition order across callers to
// avoid deadlock. On success it returns a nil blocker slice; on failure it
// returns the resource names that blocked acquisition and no lock state is
// left behind.
func (r *ResourceLock) Acquire(ctx context.Context, exclusive, shared []string, worker string) (blocked []string, err error) {
	if !sort.StringsAreSorted(exclusive) || !sort.StringsAreSorted(shared) {
		return nil, fmt.Errorf("lockservice: Acquire requires sorted resource lists")
	}

	keys := make([]string, 0, 2*len(exclusive)+2*len(shared))
	for _, e := range exclusive {
		keys = append(keys, ExclusiveKey(e))
	}
	for _, e := range exclusive {
		keys = append(keys, SharedKey(e))
	}
	for _, s := range shared {
		keys = append(keys, ExclusiveKey(s))
	}
	for _, s := range shared {
		keys = append(keys, SharedKey(s))
	}

	args := make([]any, 0, 2+len(exclusive)+len(shared))
	args = append(args, worker, len(exclusive))
	for _, e := range exclusive {
		args = append(args, e)
	}
	for _, s := range shared {
		args = append(args, s)
	}

	res, err := r.client.RunScript(ctx, acquireScript, keys, args...)
	if err != nil {
		return nil, err
	}

	items, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("lockservice: unexpected acquire script result %T", res)
	}
	for _, item := range items {
		if s, ok := item.(string); ok {
			blocked = append(blocked, s)
		}
	}
	return blocked, nil
}

// ReleaseAtomic releases every resource in exclusive and shared that worker
// owns, in a single script evaluation. Used by the owner releasing its own
// locks.
func (r *ResourceLock) ReleaseAtomic(ctx context.Context, exclusive, shared []string, worker string) error {
	keys := make([]string, 0, len(exclusive)+len(shared))
	for _, e := range exclusive {
		keys = append(keys, ExclusiveKey(e))
	}
	for _, s := range shared {
		keys = append(keys, SharedKey(s))
	}
	args := []any{worker, len(exclusive)}
	_, err := r.client.RunScript(ctx, releaseScript, keys, args...)
	return err
}

// Release releases every resource in exclusive and shared that worker owns,
// using the non-atomic two-step form: compareAndDelete per exclusive
// resource, sRem-then-maybe-delete per shared resource. This form tolerates
// partial ownership and is used by peer cleanup, which acts on behalf of a
// worker other than the caller and cannot assume it holds every lock it is
// asked to release.
func (r *ResourceLock) Release(ctx context.Context, exclusive, shared []string, worker string) error {
	for _, e := range exclusive {
		if _, err := r.client.CompareAndDelete(ctx, ExclusiveKey(e), worker); err != nil {
			return fmt.Errorf("lockservice: release exclusive %q: %w", e, err)
		}
	}
	for _, s := range shared {
		key := SharedKey(s)
		if err := r.client.SRem(ctx, key, worker); err != nil {
			return fmt.Errorf("lockservice: release shared %q: %w", s, err)
		}
		n, err := r.client.SCard(ctx, key)
		if err != nil {
			return fmt.Errorf("lockservice: scard shared %q: %w", s, err)
		}
		if n == 0 {
			if err := r.client.Delete(ctx, key); err != nil {
				return fmt.Errorf("lockservice: delete empty shared set %q: %w", s, err)
			}
		}
	}
	return nil
}
