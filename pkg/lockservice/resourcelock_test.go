package lockservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceLockAcquireAllOrNothing(t *testing.T) {
	ctx := context.Background()
	client := NewFakeClient()
	rl := NewResourceLock(client)

	blocked, err := rl.Acquire(ctx, []string{"repo-a"}, nil, "worker-1")
	require.NoError(t, err)
	assert.Empty(t, blocked)

	blocked, err = rl.Acquire(ctx, []string{"repo-a", "repo-b"}, nil, "worker-2")
	require.NoError(t, err)
	require.Equal(t, []string{"repo-a"}, blocked)

	_, held, err := client.Get(ctx, ExclusiveKey("repo-b"))
	require.NoError(t, err)
	assert.False(t, held, "repo-b must not be locked after a failed all-or-nothing acquire")
}

func TestResourceLockSharedNonExclusive(t *testing.T) {
	ctx := context.Background()
	client := NewFakeClient()
	rl := NewResourceLock(client)

	blocked, err := rl.Acquire(ctx, nil, []string{"repo-a"}, "worker-1")
	require.NoError(t, err)
	assert.Empty(t, blocked)

	blocked, err = rl.Acquire(ctx, nil, []string{"repo-a"}, "worker-2")
	require.NoError(t, err)
	assert.Empty(t, blocked, "two shared holders of the same resource should both succeed")

	blocked, err = rl.Acquire(ctx, []string{"repo-a"}, nil, "worker-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"repo-a"}, blocked, "exclusive must block behind an existing shared holder")
}

func TestResourceLockReleaseThenReacquire(t *testing.T) {
	ctx := context.Background()
	client := NewFakeClient()
	rl := NewResourceLock(client)

	_, err := rl.Acquire(ctx, []string{"repo-a"}, nil, "worker-1")
	require.NoError(t, err)

	require.NoError(t, rl.Release(ctx, []string{"repo-a"}, nil, "worker-1"))

	blocked, err := rl.Acquire(ctx, []string{"repo-a"}, nil, "worker-2")
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestResourceLockReleaseAtomicSharedEmptiesSet(t *testing.T) {
	ctx := context.Background()
	client := NewFakeClient()
	rl := NewResourceLock(client)

	_, err := rl.Acquire(ctx, nil, []string{"repo-a"}, "worker-1")
	require.NoError(t, err)

	require.NoError(t, rl.ReleaseAtomic(ctx, nil, []string{"repo-a"}, "worker-1"))

	n, err := client.SCard(ctx, SharedKey("repo-a"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestResourceLockAcquireRequiresSortedInput(t *testing.T) {
	ctx := context.Background()
	rl := NewResourceLock(NewFakeClient())

	_, err := rl.Acquire(ctx, []string{"repo-b", "repo-a"}, nil, "worker-1")
	assert.Error(t, err)
}
