package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

func TestIsCompatibleNoVersionsRequired(t *testing.T) {
	task := &types.Task{}
	ok, err := IsCompatible(task, map[string]string{"core": "1.0.0"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsCompatibleWorkerMeetsMinimum(t *testing.T) {
	task := &types.Task{Versions: map[string]string{"core": "1.2.0"}}
	ok, err := IsCompatible(task, map[string]string{"core": "1.5.0"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsCompatibleWorkerBelowMinimum(t *testing.T) {
	task := &types.Task{Versions: map[string]string{"core": "2.0.0"}}
	ok, err := IsCompatible(task, map[string]string{"core": "1.5.0"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsCompatibleModuleNotDeclared(t *testing.T) {
	task := &types.Task{Versions: map[string]string{"plugin-x": "1.0.0"}}
	ok, err := IsCompatible(task, map[string]string{"core": "1.5.0"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsCompatibleInvalidSemverIsError(t *testing.T) {
	task := &types.Task{Versions: map[string]string{"core": "not-a-version"}}
	_, err := IsCompatible(task, map[string]string{"core": "1.5.0"})
	assert.Error(t, err)
}
