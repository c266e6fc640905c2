package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/go-sif/piotest/cluster"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/flavor"
	iutil "github.com/go-sif/piotest/internal/util"
	"github.com/go-sif/piotest/runner"
	perrors "github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"
)

type arguments struct {
	command     string
	opts        *runner.Options
	local       int
	nodeOpts    *cluster.NodeOptions
	launchRanks int
	launchArgs  []string
	executable  string // launched per rank (default: this executable)
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("piotest", "Distributed correctness tests for the parallel I/O library.")

	run := app.Command("run", "Run a test, either as one rank of a cluster or as a whole local world.")
	config := run.Flag("config", "YAML file of run options; flags override it.").ExistingFile()
	local := run.Flag("local", "Run a world of this many in-process ranks instead of joining a cluster.").Default("0").Int()
	rank := run.Flag("rank", "Rank of this process in the cluster (default: $"+cluster.EnvRank+").").Default("-1").Int()
	size := run.Flag("size", "Number of processes in the cluster (default: $"+cluster.EnvSize+").").Default("0").Int()
	coordinator := run.Flag("coordinator", "host:port of rank 0 (default: $"+cluster.EnvCoordinator+").").String()
	testName := run.Flag("test-name", "Prefix of every file the test writes.").String()
	minTasks := run.Flag("min-tasks", "Smallest acceptable world.").Int()
	maxTasks := run.Flag("max-tasks", "Ranks beyond this many sit the test out.").Int()
	dimLen := run.Flag("dim-len", "x and y extents of sample 2 (repeat twice).").Ints()
	async := run.Flag("async", "Split ranks into compute components and dedicated I/O ranks.").Bool()
	componentCount := run.Flag("component-count", "Number of compute components in async mode.").Int()
	numIOProcs := run.Flag("num-io-procs", "Number of dedicated I/O ranks in async mode.").Int()
	numIOTasks := run.Flag("num-io-tasks", "Number of ranks which also do I/O in sync mode.").Int()
	stride := run.Flag("stride", "Distance between I/O ranks in sync mode.").Int()
	base := run.Flag("base", "First I/O rank in sync mode.").Int()
	rearrangers := run.Flag("rearranger", "Rearranger to test (repeatable).").Enums("box", "subset")
	flavors := run.Flag("flavor", "Storage flavor to test (repeatable).").Strings()
	dir := run.Flag("dir", "Directory for test files.").String()
	failUnavailable := run.Flag("fail-unavailable", "Fail instead of skipping a flavor which is not built in.").Bool()
	logLevel := run.Flag("log-level", "Log level.").Enum("trace", "debug", "info", "warn", "error")
	metrics := run.Flag("metrics", "Write run metrics to this file in the Prometheus text format (one file per rank).").String()

	launch := app.Command("launch", "Start a cluster of local processes, each running 'run' with the remaining arguments.")
	launchRanks := launch.Flag("ranks", "Number of processes to start.").Required().Int()
	launchArgs := launch.Arg("args", "Arguments passed on to 'run'.").Strings()

	app.Command("flavors", "List the storage flavors and whether this build supports them.")

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}
	res := &arguments{command: command}
	switch command {
	case "launch":
		if *launchRanks < 1 {
			return nil, perrors.Errorf("--ranks must be at least 1")
		}
		res.launchRanks = *launchRanks
		res.launchArgs = *launchArgs
		return res, nil
	case "flavors":
		return res, nil
	}

	opts := &runner.Options{}
	if *config != "" {
		if opts, err = runner.LoadOptions(*config); err != nil {
			return nil, err
		}
	}
	setString := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, v int) {
		if v != 0 {
			*dst = v
		}
	}
	setString(&opts.TestName, *testName)
	setString(&opts.Dir, *dir)
	setString(&opts.LogLevel, *logLevel)
	setString(&opts.MetricsFile, *metrics)
	setInt(&opts.MinTasks, *minTasks)
	setInt(&opts.MaxTasks, *maxTasks)
	setInt(&opts.ComponentCount, *componentCount)
	setInt(&opts.NumIOProcs, *numIOProcs)
	setInt(&opts.NumIOTasks, *numIOTasks)
	setInt(&opts.Stride, *stride)
	setInt(&opts.Base, *base)
	switch len(*dimLen) {
	case 0:
	case 2:
		opts.DimLen = [2]int{(*dimLen)[0], (*dimLen)[1]}
	default:
		return nil, perrors.Errorf("--dim-len must be given exactly twice")
	}
	if *async {
		opts.Async = true
	}
	if *failUnavailable {
		opts.FailUnavailable = true
	}
	if len(*rearrangers) > 0 {
		opts.Rearrangers = *rearrangers
	}
	if len(*flavors) > 0 {
		opts.Flavors = *flavors
	}
	res.opts = opts

	if *local > 0 {
		res.local = *local
		return res, nil
	}
	nodeOpts := &cluster.NodeOptions{}
	if err = cluster.NodeOptionsFromEnv(nodeOpts); err != nil {
		return nil, err
	}
	if *rank >= 0 {
		nodeOpts.Rank = *rank
	}
	setInt(&nodeOpts.Size, *size)
	if *coordinator != "" {
		host, port, err := net.SplitHostPort(*coordinator)
		if err != nil {
			return nil, perrors.WithMessage(err, "--coordinator")
		}
		if nodeOpts.CoordinatorPort, err = strconv.Atoi(port); err != nil {
			return nil, perrors.WithMessage(err, "--coordinator")
		}
		nodeOpts.CoordinatorHost = host
	}
	res.nodeOpts = nodeOpts
	return res, nil
}

func (a *arguments) execute(ctx context.Context, output io.Writer) (int, error) {
	switch a.command {
	case "flavors":
		for _, d := range flavor.Load().Descriptors() {
			fmt.Fprintf(output, "%d\t%-10s\tavailable=%t\n", d.IOType, d.Name, d.Available)
		}
		return 0, nil
	case "launch":
		return a.launch(ctx, output)
	}
	var (
		status int
		err    error
	)
	if a.local > 0 {
		status, err = runner.RunLocal(ctx, a.local, a.opts)
	} else {
		status, err = runner.RunCluster(ctx, a.nodeOpts, a.opts)
	}
	if err != nil {
		return status, err
	}
	fmt.Fprintf(output, "status %d\n", status)
	return status, nil
}

// syncWriter serializes the output of concurrent ranks
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// rankStatus returns the status a rank reported on its "status N" line, or else
// its exit code. A process exit code only keeps the low byte of a status.
func rankStatus(out []byte, runErr error) (int, bool) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if rest := strings.TrimPrefix(lines[i], "status "); rest != lines[i] {
			if status, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil {
				return status, true
			}
		}
	}
	if runErr == nil {
		return 0, true
	}
	var exitErr *exec.ExitError
	if perrors.As(runErr, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode(), true
	}
	return 0, false
}

// launch starts one process of this executable per rank, each joining the same
// cluster, and returns the status of the lowest rank which failed. The error is
// only non-nil if a rank could not be started or was killed.
func (a *arguments) launch(ctx context.Context, output io.Writer) (int, error) {
	self := a.executable
	if self == "" {
		var err error
		if self, err = os.Executable(); err != nil {
			return errors.ErrInit, perrors.WithMessage(err, "cannot find this executable")
		}
	}
	coordinator := os.Getenv(cluster.EnvCoordinator)
	if coordinator == "" {
		coordinator = "127.0.0.1:1643"
	}
	shared := &syncWriter{w: output}
	statuses := make([]int, a.launchRanks)
	var wg sync.WaitGroup
	errs := iutil.CreateAsyncErrorChannel()
	wg.Add(a.launchRanks)
	for rank := 0; rank < a.launchRanks; rank++ {
		var captured bytes.Buffer
		cmd := exec.CommandContext(ctx, self, append([]string{"run"}, a.launchArgs...)...)
		cmd.Env = append(os.Environ(),
			cluster.EnvRank+"="+strconv.Itoa(rank),
			cluster.EnvSize+"="+strconv.Itoa(a.launchRanks),
			cluster.EnvCoordinator+"="+coordinator,
		)
		cmd.Stdout = io.MultiWriter(&captured, shared)
		cmd.Stderr = os.Stderr
		go func(rank int) {
			defer wg.Done()
			err := cmd.Run()
			status, ok := rankStatus(captured.Bytes(), err)
			if !ok {
				errs <- perrors.WithMessagef(err, "rank %d", rank)
				return
			}
			statuses[rank] = status
		}(rank)
	}
	if err := iutil.WaitAndFetchError(&wg, errs); err != nil {
		return errors.ErrInit, err
	}
	for _, status := range statuses {
		if status != 0 {
			return status, nil
		}
	}
	return 0, nil
}

func main() {
	kingpin.Version("0.1.0")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	status, err := args.execute(context.Background(), os.Stdout)
	if err != nil {
		fmt.Println("")
		kingpin.Fatalf("%s", err)
	}
	os.Exit(status)
}
