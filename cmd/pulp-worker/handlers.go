package main

import (
	"context"

	"github.com/pulp/pulp-service-sub000/pkg/executor"
	"github.com/pulp/pulp-service-sub000/pkg/types"
)

// newHandlerRegistry builds the task-name -> Handler registry. Task payload
// execution is opaque to the core worker loop; real deployments register
// their own handlers here. noop is the only handler every deployment of
// this binary gets for free, useful for exercising the claim/fetch/fork
// path without a real workload.
func newHandlerRegistry() *executor.Registry {
	r := executor.NewRegistry()
	r.Register("noop", noopHandler)
	return r
}

func noopHandler(ctx context.Context, task *types.Task, workDir string) error {
	return nil
}
