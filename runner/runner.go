// Package runner is the entry point of a test run: it establishes the worker
// pool, runs a driver on it, and reduces every result to one status which is
// the same on every rank.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/cluster"
	"github.com/go-sif/piotest/comm"
	"github.com/go-sif/piotest/driver"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/flavor"
	"github.com/go-sif/piotest/internal/stats"
	iutil "github.com/go-sif/piotest/internal/util"
	"github.com/go-sif/piotest/logging"
	"github.com/go-sif/piotest/topology"
	uuid "github.com/gofrs/uuid"
)

func loggerFor(opts *Options) log.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return logging.New(os.Stderr, logging.ParseLogLevel(opts.LogLevel))
}

// RunTestMain runs the test described by opts on every rank of world and
// returns its status: 0 if every combination passed, or else the code of the
// first failure. Collective over world; every rank returns the same status.
// The world is finalized on every path, including a failed initialization.
func RunTestMain(ctx context.Context, world piotest.Comm, opts *Options, logger log.Logger) (status int) {
	opts = CloneOptions(opts)
	ensureDefaultOptionsValues(opts)
	if logger == nil {
		logger = loggerFor(opts)
	}
	logger = logging.WithRank(logger, world.Rank())

	timer := stats.NewRunStatistics()
	// "at" is where fatal was called
	fatal := func(err error) int {
		code := errors.Code(err)
		level.Error(log.With(logger, "at", log.Caller(4))).Log("msg", "fatal error", "code", code, "err", err)
		level.Debug(logger).Log("msg", "fatal error trace", "trace", iutil.GetTrace())
		return code
	}
	if err := timer.Start(); err != nil {
		status = fatal(err)
	}

	pool, err := topology.Init(ctx, world, topology.Options{MinTasks: opts.MinTasks, MaxTasks: opts.MaxTasks, Logger: logger})
	broken := false
	defer func() {
		// the communicator cannot be trusted after a fatal communication failure
		if !broken {
			if ferr := finalize(ctx, world, pool); ferr != nil && status == 0 {
				status = fatal(ferr)
			}
		}
		if ferr := timer.Finish(); ferr != nil && status == 0 {
			status = fatal(ferr)
		}
		if opts.MetricsFile != "" {
			// metrics are informational and never change the agreed status
			if merr := timer.WriteMetrics(metricsPath(opts.MetricsFile, world.Rank(), world.Size())); merr != nil {
				level.Warn(logger).Log("msg", "failed to write metrics", "err", merr)
			}
		}
		level.Info(logger).Log("msg", "run finished", "test", opts.TestName, "status", status,
			"started", timer.GetStartTime().Format(time.RFC3339), "runtime", timer.GetRuntime(),
			"combinations", timer.GetNumCombinations(), "failed", timer.GetNumFailures(),
			"skipped", timer.GetNumSkipped(), "recentCombinationTime", timer.GetCurrentCombinationTime())
	}()
	if err != nil {
		broken = isCommError(err)
		return fatal(err)
	}

	local := status
	if pool.InTest && local == 0 {
		local = run(ctx, pool, opts, logger, timer, fatal, &broken)
	}
	if broken {
		return local
	}
	agreed, err := world.AllreduceInt(ctx, local, piotest.ReduceFirstNonZero)
	if err != nil {
		broken = true
		return fatal(&errors.CommError{Err: err})
	}
	return agreed
}

// metricsPath returns the metrics file of a rank. Ranks of a larger world write
// one file each, named like path with the rank before its extension.
func metricsPath(path string, rank int, size int) string {
	if size == 1 {
		return path
	}
	ext := filepath.Ext(path)
	return fmt.Sprintf("%s.rank%d%s", strings.TrimSuffix(path, ext), rank, ext)
}

func isCommError(err error) bool {
	return errors.IsFatal(err) && errors.Code(err) == errors.ErrMPI
}

// run drives the in-test ranks and returns their local status
func run(ctx context.Context, pool *topology.Pool, opts *Options, logger log.Logger, timer *stats.RunStatistics, fatal func(error) int, broken *bool) int {
	dopts, err := opts.driverOptions(logger)
	if err != nil {
		return fatal(err)
	}
	dopts.Stats = timer
	dopts.Registry = flavor.Load()
	drive := driver.NoAsync
	if opts.Async {
		drive = driver.Async
	}
	level.Info(logger).Log("msg", "starting test", "test", opts.TestName, "async", opts.Async, "poolSize", pool.Size,
		"flavors", dopts.Registry.Len(), "logLevel", logging.LogLevelToString(logging.ParseLogLevel(opts.LogLevel)))
	report, err := drive(ctx, pool.Comm, dopts)
	if err != nil {
		*broken = isCommError(err)
		return fatal(err)
	}
	if rerr := report.Err(); rerr != nil {
		level.Debug(logger).Log("msg", "failed combinations", "errors", iutil.FormatMultiError(rerr))
	}
	return report.Status()
}

func finalize(ctx context.Context, world piotest.Comm, pool *topology.Pool) error {
	if pool != nil {
		return pool.Finalize(ctx)
	}
	if err := world.Barrier(ctx); err != nil {
		return &errors.FinalizationError{Reason: err.Error()}
	}
	return nil
}

// RunLocal runs the test described by opts on a world of ntasks goroutines and
// returns its status. The error is only non-nil if a rank panicked.
func RunLocal(ctx context.Context, ntasks int, opts *Options) (int, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return errors.ErrAwful, err
	}
	logger := log.With(loggerFor(opts), "run", id.String())
	world := comm.NewLocalWorld(ntasks)
	defer world.Close()
	statuses := make([]int, ntasks)
	err = world.Run(ctx, iutil.SafeRankFunc(func(ctx context.Context, c piotest.Comm) error {
		statuses[c.Rank()] = RunTestMain(ctx, c, opts, logger)
		return nil
	}))
	if err != nil {
		return errors.ErrAwful, err
	}
	return statuses[0], nil
}

// RunCluster joins a world of processes connected by gRPC as the rank described
// by nodeOpts, runs the test described by opts on it and returns its status
func RunCluster(ctx context.Context, nodeOpts *cluster.NodeOptions, opts *Options) (int, error) {
	logger := loggerFor(opts)
	node, err := cluster.CreateNode(nodeOpts, logger)
	if err != nil {
		return errors.ErrInit, err
	}
	defer node.GracefulStop()
	if err = node.Start(ctx); err != nil {
		return errors.ErrInit, err
	}
	return RunTestMain(ctx, node.Comm(), opts, logger), nil
}
