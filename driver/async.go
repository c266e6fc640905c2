package driver

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/pio"
	"github.com/go-sif/piotest/sample"
	"github.com/go-sif/piotest/topology"
)

// Async splits c into dedicated I/O ranks and compute components, then has each
// component run every combination through the I/O ranks. An I/O system is
// initialized afresh for each rearranger. Collective over c. The Report of an
// I/O rank is empty; its ranks only serve requests until every component is done.
func Async(ctx context.Context, c piotest.Comm, opts Options) (*Report, error) {
	ensureDefaultOptionsValues(&opts)
	roles, err := topology.AssignRoles(c.Size(), opts.ComponentCount, opts.NumIOProcs)
	if err != nil {
		return &Report{}, err
	}
	r := &runner{
		opts:      &opts,
		plan:      NewPlan(opts.Registry, piotest.ModeAsync, opts.Rearrangers, opts.Flavors, opts.Samples),
		report:    &Report{},
		component: roles.Component(c.Rank()),
		logger:    opts.Logger,
	}
	if r.component >= 0 {
		r.logger = log.With(opts.Logger, "component", r.component)
	}
	for _, rearr := range r.plan.Rearrangers {
		if err = r.asyncPass(ctx, c, roles, rearr); err != nil {
			return r.report, err
		}
	}
	return r.report, nil
}

func (r *runner) asyncPass(ctx context.Context, c piotest.Comm, roles *topology.Roles, rearr piotest.Rearranger) (err error) {
	sys, err := pio.InitAsync(ctx, c, &pio.AsyncOptions{
		IOProcs:    roles.IO,
		Components: roles.Components,
		Rearranger: rearr,
		Logger:     r.logger,
	})
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return &errors.TopologyError{Size: c.Size(), Reason: err.Error()}
	}
	if sys == nil {
		level.Debug(r.logger).Log("msg", "I/O service finished", "rearranger", rearr)
		return nil
	}
	defer func() {
		if errors.IsFatal(err) {
			// the communicator is broken, so a collective teardown would not return
			return
		}
		if ferr := finalizeError(sys.Finalize(ctx)); ferr != nil && err == nil {
			err = ferr
		}
	}()
	d, derr := sample.Decompose(ctx, sys, r.opts.Sizes)
	for _, f := range r.plan.Flavors {
		switch {
		case !f.Available:
			r.unavailable(rearr, f)
		case derr != nil:
			if errors.IsFatal(derr) {
				return derr
			}
			if err = r.failPass(ctx, sys.Comm(), rearr, f, derr); err != nil {
				return err
			}
		default:
			if err = r.samples(ctx, sys, rearr, f, d); err != nil {
				return err
			}
		}
	}
	return nil
}
