package lockservice

import (
	"context"
	"time"
)

// ClaimTTL is the safety-net expiry on a task claim lock: long enough that
// normal processing always releases it first, short enough that a crashed
// worker's claim eventually frees the task even if peer cleanup misses it.
const ClaimTTL = 24 * time.Hour

// ClaimLock implements the claim protocol: a single cheap round trip that
// lets competing workers fail fast on a task another worker already owns,
// before paying for the more expensive resource lock protocol.
type ClaimLock struct {
	client Client
}

// NewClaimLock returns a ClaimLock backed by client.
func NewClaimLock(client Client) *ClaimLock {
	return &ClaimLock{client: client}
}

// TryClaim attempts to claim taskID for worker. Returns false if another
// worker already holds the claim.
func (c *ClaimLock) TryClaim(ctx context.Context, taskID, worker string) (bool, error) {
	return c.client.SetIfAbsent(ctx, ClaimKey(taskID), worker, ClaimTTL)
}

// Release releases taskID's claim if worker is still its owner.
func (c *ClaimLock) Release(ctx context.Context, taskID, worker string) error {
	_, err := c.client.CompareAndDelete(ctx, ClaimKey(taskID), worker)
	return err
}

// Owner returns the current claim owner, if any.
func (c *ClaimLock) Owner(ctx context.Context, taskID string) (string, bool, error) {
	return c.client.Get(ctx, ClaimKey(taskID))
}
