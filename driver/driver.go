// Package driver runs the canonical samples under every storage flavor through
// the I/O library, in sync mode (one I/O system shared by every rank) or async
// mode (compute components served by dedicated I/O ranks).
package driver

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/flavor"
	"github.com/go-sif/piotest/internal/stats"
	"github.com/go-sif/piotest/pio"
	"github.com/go-sif/piotest/sample"
)

// Options configure a driver
type Options struct {
	TestName        string               // prefix of every file name (default: "piotest")
	Dir             string               // directory files are written to (default: ".")
	Rearrangers     []piotest.Rearranger // default: box and subset
	Flavors         []piotest.IOType     // default: every available flavor
	Registry        *flavor.Registry     // flavors of this build (default: flavor.Load())
	Samples         []int                // default: every sample
	Sizes           sample.Sizes
	NumIOTasks      int  // sync: ranks which also do I/O (default: all)
	Stride          int  // sync: distance between I/O ranks (default: 1)
	Base            int  // sync: first I/O rank
	ComponentCount  int  // async: number of compute components (default: 1)
	NumIOProcs      int  // async: number of dedicated I/O ranks (default: 1)
	FailUnavailable bool // count an unavailable flavor as a failure instead of skipping it
	Logger          log.Logger
	Stats           *stats.RunStatistics // optional
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.TestName == "" {
		opts.TestName = "piotest"
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.ComponentCount == 0 {
		opts.ComponentCount = 1
	}
	if opts.NumIOProcs == 0 {
		opts.NumIOProcs = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Registry == nil {
		opts.Registry = flavor.Load()
	}
	sample.EnsureDefaultSizesValues(&opts.Sizes)
}

// runner carries the state of one driver on one rank
type runner struct {
	opts      *Options
	plan      *Plan
	report    *Report
	component int
	logger    log.Logger
}

// filename returns the file of one combination. Components write distinct files.
func (r *runner) filename(rearr piotest.Rearranger, f Flavor, n int) string {
	return filepath.Join(r.opts.Dir, fmt.Sprintf("%s_%s_%s_c%d_%s_sample%d.nc", r.opts.TestName, r.plan.Mode, rearr, r.component, f.Name, n))
}

func (r *runner) result(rearr piotest.Rearranger, f Flavor, n int) piotest.TestResult {
	return piotest.TestResult{Mode: r.plan.Mode, Rearranger: rearr, Flavor: f.IOType, Sample: n, Component: r.component}
}

// record adds a result to the report, once its code is the same on every rank of c
func (r *runner) record(ctx context.Context, c piotest.Comm, res piotest.TestResult, err error) error {
	code, cerr := c.AllreduceInt(ctx, errors.Code(err), piotest.ReduceFirstNonZero)
	if cerr != nil {
		return &errors.CommError{Err: cerr}
	}
	res.Code = code
	res.Err = err
	if err == nil && code != 0 {
		res.Err = fmt.Errorf("failed on another rank with code %d", code)
	}
	r.add(c.Rank(), res)
	return nil
}

func (r *runner) add(rank int, res piotest.TestResult) {
	if r.opts.Stats != nil {
		r.opts.Stats.EndCombination(&res)
	}
	r.report.Add(res)
	switch {
	case res.Skipped:
		level.Info(r.logger).Log("msg", "skipped", "result", &res)
	case res.Passed():
		if rank == 0 {
			level.Info(r.logger).Log("msg", "passed", "result", &res)
		}
	default:
		level.Error(r.logger).Log("msg", "failed", "result", &res, "code", res.Code, "err", res.Err)
	}
}

// unavailable records every sample of a flavor which cannot run. No rank communicates.
func (r *runner) unavailable(rearr piotest.Rearranger, f Flavor) {
	for _, n := range r.plan.Samples {
		if r.opts.Stats != nil {
			r.opts.Stats.StartCombination()
		}
		res := r.result(rearr, f, n)
		res.Code = errors.EBadIOType
		res.Err = &errors.FlavorUnavailable{IOType: int(f.IOType)}
		res.Skipped = !r.opts.FailUnavailable
		r.add(0, res)
	}
}

// failPass records every sample of a pass which could not start
func (r *runner) failPass(ctx context.Context, c piotest.Comm, rearr piotest.Rearranger, f Flavor, err error) error {
	for _, n := range r.plan.Samples {
		if r.opts.Stats != nil {
			r.opts.Stats.StartCombination()
		}
		if rerr := r.record(ctx, c, r.result(rearr, f, n), err); rerr != nil {
			return rerr
		}
	}
	return nil
}

// samples creates then checks every sample of the plan under one flavor, on the
// compute ranks of sys
func (r *runner) samples(ctx context.Context, sys *pio.IOSystem, rearr piotest.Rearranger, f Flavor, d *sample.Decomps) error {
	for _, n := range r.plan.Samples {
		if r.opts.Stats != nil {
			r.opts.Stats.StartCombination()
		}
		path := r.filename(rearr, f, n)
		err := sample.Create(ctx, sys, n, f.IOType, path, d)
		if err == nil {
			err = sample.Check(ctx, sys, n, f.IOType, path, d)
		}
		if errors.IsFatal(err) {
			return err
		}
		if err = r.record(ctx, sys.Comm(), r.result(rearr, f, n), err); err != nil {
			return err
		}
	}
	return nil
}

func finalizeError(err error) error {
	if err == nil {
		return nil
	}
	return &errors.FinalizationError{Reason: err.Error()}
}

// NoAsync runs every combination with one I/O system shared by every rank of c,
// initialized afresh for each rearranger and flavor. Collective over c. The
// error is only non-nil for a fatal failure, after which no combination runs.
func NoAsync(ctx context.Context, c piotest.Comm, opts Options) (*Report, error) {
	ensureDefaultOptionsValues(&opts)
	r := &runner{
		opts:   &opts,
		plan:   NewPlan(opts.Registry, piotest.ModeSync, opts.Rearrangers, opts.Flavors, opts.Samples),
		report: &Report{},
		logger: opts.Logger,
	}
	for _, rearr := range r.plan.Rearrangers {
		for _, f := range r.plan.Flavors {
			if !f.Available {
				r.unavailable(rearr, f)
				continue
			}
			if err := r.syncPass(ctx, c, rearr, f); err != nil {
				return r.report, err
			}
		}
	}
	return r.report, nil
}

func (r *runner) syncPass(ctx context.Context, c piotest.Comm, rearr piotest.Rearranger, f Flavor) (err error) {
	sys, err := pio.InitSync(ctx, c, &pio.SyncOptions{
		NumIOTasks: r.opts.NumIOTasks,
		Stride:     r.opts.Stride,
		Base:       r.opts.Base,
		Rearranger: rearr,
		Logger:     r.logger,
	})
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return r.failPass(ctx, c, rearr, f, &errors.IOError{Op: "InitSync", Code: errors.Code(err), Err: err})
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
	d, err := sample.Decompose(ctx, sys, r.opts.Sizes)
	if err != nil {
		if errors.IsFatal(err) {
			return err
		}
		return r.failPass(ctx, c, rearr, f, err)
	}
	return r.samples(ctx, sys, rearr, f, d)
}
