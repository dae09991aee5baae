// Package decision runs one decision: every declared task is built before
// any of them is submitted, so a configuration mistake never leaves half a
// task graph on the scheduler.
package decision

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"decision/internal/submit"
	"decision/internal/taskgraph"
	"decision/pkg/model"
)

type Decision struct {
	builder     *taskgraph.Builder
	submitter   submit.Submitter
	parallelism int
	logger      *zap.Logger
}

type Option func(*Decision)

// WithParallelism submits up to n tasks at once. The default is 1.
func WithParallelism(n int) Option {
	return func(d *Decision) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Decision) { d.logger = l }
}

// New takes a builder fresh for this run; its name bookkeeping is the run's.
func New(builder *taskgraph.Builder, submitter submit.Submitter, opts ...Option) *Decision {
	d := &Decision{
		builder:     builder,
		submitter:   submitter,
		parallelism: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Build validates every spec. It fails on the first invalid one.
func (d *Decision) Build(specs []taskgraph.TaskSpec) ([]*taskgraph.TaskDescriptor, error) {
	descriptors := make([]*taskgraph.TaskDescriptor, 0, len(specs))
	for _, spec := range specs {
		desc, err := d.builder.Build(spec)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	d.logger.Info("task graph built", zap.Int("tasks", len(descriptors)), zap.Stringer("state", model.TaskBuilt))
	return descriptors, nil
}

// Run builds all specs, then submits them. Handles are returned in
// declaration order. The first error of either phase aborts the run.
func (d *Decision) Run(ctx context.Context, specs []taskgraph.TaskSpec) ([]submit.Handle, error) {
	descriptors, err := d.Build(specs)
	if err != nil {
		return nil, err
	}

	handles := make([]submit.Handle, len(descriptors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.parallelism)

	for i, desc := range descriptors {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// An earlier submission may have failed while this one waited for a slot.
			if err := gctx.Err(); err != nil {
				return err
			}
			h, err := d.submitter.Submit(gctx, desc)
			if err != nil {
				return err
			}
			handles[i] = h
			d.logger.Debug("task state", zap.String("task", desc.Name()), zap.Stringer("state", model.TaskSubmitted))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("decision interrupted: %w", err)
	}

	d.logger.Info("task graph submitted", zap.Int("tasks", len(handles)))
	return handles, nil
}
