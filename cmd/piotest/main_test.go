package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/go-sif/piotest/cluster"
	"github.com/go-sif/piotest/errors"
	"github.com/stretchr/testify/require"
)

// The launch tests run this test binary as their ranks. A rank whose number
// matches fakeRankFailEnv exits with fakeRankStatusEnv, the others with 0.
const (
	fakeRankStatusEnv = "PIOTEST_FAKE_RANK_STATUS"
	fakeRankFailEnv   = "PIOTEST_FAKE_RANK_FAIL"
	fakeRankQuietEnv  = "PIOTEST_FAKE_RANK_QUIET"
)

func TestMain(m *testing.M) {
	if code, ok := os.LookupEnv(fakeRankStatusEnv); ok {
		os.Exit(fakeRank(code))
	}
	os.Exit(m.Run())
}

func fakeRank(code string) int {
	status := 0
	if os.Getenv(cluster.EnvRank) == os.Getenv(fakeRankFailEnv) {
		status, _ = strconv.Atoi(code)
	}
	if os.Getenv(fakeRankQuietEnv) == "" {
		fmt.Printf("status %d\n", status)
	}
	return status
}

func launchFakeRanks(t *testing.T, ranks int) (int, string, error) {
	args, err := parseArgs([]string{"launch", "--ranks", strconv.Itoa(ranks)})
	require.Nil(t, err)
	args.executable = os.Args[0]
	var out bytes.Buffer
	status, err := args.execute(context.Background(), &out)
	return status, out.String(), err
}

func TestParseRunFlags(t *testing.T) {
	t.Setenv(cluster.EnvRank, "2")
	t.Setenv(cluster.EnvSize, "4")
	t.Setenv(cluster.EnvCoordinator, "10.0.0.1:1700")
	args, err := parseArgs([]string{"run", "--async", "--component-count", "2", "--dim-len", "6", "--dim-len", "3",
		"--rearranger", "subset", "--flavor", "classic", "--coordinator", "node0:1800", "--metrics", "/tmp/piotest.prom"})
	require.Nil(t, err)
	require.Equal(t, "run", args.command)
	require.True(t, args.opts.Async)
	require.Equal(t, 2, args.opts.ComponentCount)
	require.Equal(t, [2]int{6, 3}, args.opts.DimLen)
	require.Equal(t, []string{"subset"}, args.opts.Rearrangers)
	require.Equal(t, []string{"classic"}, args.opts.Flavors)
	require.Equal(t, "/tmp/piotest.prom", args.opts.MetricsFile)
	require.Equal(t, 2, args.nodeOpts.Rank)
	require.Equal(t, 4, args.nodeOpts.Size)
	require.Equal(t, "node0", args.nodeOpts.CoordinatorHost)
	require.Equal(t, 1800, args.nodeOpts.CoordinatorPort)

	_, err = parseArgs([]string{"run", "--dim-len", "6"})
	require.NotNil(t, err)
	_, err = parseArgs([]string{"launch"})
	require.NotNil(t, err)
}

func TestFlavorsCommand(t *testing.T) {
	args, err := parseArgs([]string{"flavors"})
	require.Nil(t, err)
	var out bytes.Buffer
	status, err := args.execute(context.Background(), &out)
	require.Nil(t, err)
	require.Equal(t, 0, status)
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "\n"), 4)
	require.Contains(t, out.String(), "classic")
}

func TestRunLocalCommand(t *testing.T) {
	dir := t.TempDir()
	args, err := parseArgs([]string{"run", "--local", "3", "--flavor", "classic", "--dir", dir, "--log-level", "error"})
	require.Nil(t, err)
	var out bytes.Buffer
	status, err := args.execute(context.Background(), &out)
	require.Nil(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, "status 0\n", out.String())
	matches, err := filepath.Glob(filepath.Join(dir, "*.nc"))
	require.Nil(t, err)
	require.Len(t, matches, 6)
}

func TestLaunchPassingRanks(t *testing.T) {
	t.Setenv(fakeRankStatusEnv, "1109")
	t.Setenv(fakeRankFailEnv, "none")
	status, out, err := launchFakeRanks(t, 3)
	require.Nil(t, err)
	require.Equal(t, 0, status)
	require.Equal(t, 3, strings.Count(out, "status 0\n"))
}

func TestLaunchReportsStatusOfFailedRank(t *testing.T) {
	t.Setenv(fakeRankStatusEnv, strconv.Itoa(errors.ErrCheck))
	t.Setenv(fakeRankFailEnv, "1")
	status, out, err := launchFakeRanks(t, 3)
	require.Nil(t, err)
	require.Equal(t, errors.ErrCheck, status)
	require.Contains(t, out, fmt.Sprintf("status %d\n", errors.ErrCheck))

	// the status is the same on a second run
	again, _, err := launchFakeRanks(t, 3)
	require.Nil(t, err)
	require.Equal(t, status, again)
}

func TestLaunchFallsBackToExitCode(t *testing.T) {
	t.Setenv(fakeRankStatusEnv, "3")
	t.Setenv(fakeRankFailEnv, "0")
	t.Setenv(fakeRankQuietEnv, "1")
	status, _, err := launchFakeRanks(t, 2)
	require.Nil(t, err)
	require.Equal(t, 3, status)
}

func TestLaunchMissingExecutable(t *testing.T) {
	args, err := parseArgs([]string{"launch", "--ranks", "2"})
	require.Nil(t, err)
	args.executable = filepath.Join(t.TempDir(), "missing")
	var out bytes.Buffer
	status, err := args.execute(context.Background(), &out)
	require.NotNil(t, err)
	require.Equal(t, errors.ErrInit, status)
}

func TestRankStatus(t *testing.T) {
	status, ok := rankStatus([]byte("starting\nstatus -255\n"), nil)
	require.True(t, ok)
	require.Equal(t, -255, status)
	status, ok = rankStatus(nil, nil)
	require.True(t, ok)
	require.Equal(t, 0, status)
	_, ok = rankStatus(nil, fmt.Errorf("exec: not started"))
	require.False(t, ok)
}
