package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

func TestRegistryDispatchRunsRegisteredHandler(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("sync-repo", func(ctx context.Context, task *types.Task, workDir string) error {
		called = true
		assert.Equal(t, "task-1", task.ID)
		assert.NotEmpty(t, workDir)
		return nil
	})

	err := reg.Dispatch(context.Background(), &types.Task{ID: "task-1", Name: "sync-repo"}, "/tmp/work")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRegistryDispatchUnknownNameReturnsErrNoHandler(t *testing.T) {
	reg := NewRegistry()

	err := reg.Dispatch(context.Background(), &types.Task{ID: "task-1", Name: "unknown"}, "/tmp/work")
	require.Error(t, err)

	var noHandler *ErrNoHandler
	require.True(t, errors.As(err, &noHandler))
	assert.Equal(t, "unknown", noHandler.TaskName)
}

func TestRegistryRegisterOverwritesPreviousHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register("sync-repo", func(ctx context.Context, task *types.Task, workDir string) error {
		return errors.New("old handler")
	})
	reg.Register("sync-repo", func(ctx context.Context, task *types.Task, workDir string) error {
		return nil
	})

	err := reg.Dispatch(context.Background(), &types.Task{Name: "sync-repo"}, "/tmp/work")
	assert.NoError(t, err)
}
