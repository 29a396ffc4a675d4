package worker

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// IsCompatible reports whether this worker can run task, given the
// versions this worker declares at startup. A task is incompatible if any
// module it declares is either absent on the worker or present at a lower
// semver than the task requires.
func IsCompatible(task *types.Task, workerVersions map[string]string) (bool, error) {
	for module, minVersion := range task.Versions {
		declared, ok := workerVersions[module]
		if !ok {
			return false, nil
		}

		required, err := semver.NewVersion(minVersion)
		if err != nil {
			return false, fmt.Errorf("worker: task declares invalid version %q for module %q: %w", minVersion, module, err)
		}
		have, err := semver.NewVersion(declared)
		if err != nil {
			return false, fmt.Errorf("worker: worker declares invalid version %q for module %q: %w", declared, module, err)
		}

		if have.LessThan(required) {
			return false, nil
		}
	}
	return true, nil
}
