package driver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/comm"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/flavor"
	"github.com/go-sif/piotest/pio"
	"github.com/go-sif/piotest/sample"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type driverFunc func(ctx context.Context, c piotest.Comm, opts Options) (*Report, error)

// runAll runs a driver on every rank of a local world, returning each rank's Report
func runAll(t *testing.T, size int, drive driverFunc, opts Options) ([]*Report, error) {
	world := comm.NewLocalWorld(size)
	defer world.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	reports := make([]*Report, size)
	var lock sync.Mutex
	err := world.Run(ctx, func(ctx context.Context, c piotest.Comm) error {
		report, err := drive(ctx, c, opts)
		lock.Lock()
		reports[c.Rank()] = report
		lock.Unlock()
		return err
	})
	return reports, err
}

func requireClassic(t *testing.T) {
	if !pio.Available(piotest.IOTypeNetCDF) {
		t.Skip("classic flavor not built")
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	a := NewPlan(flavor.Load(), piotest.ModeSync, nil, nil, nil)
	b := NewPlan(flavor.Load(), piotest.ModeSync, nil, nil, nil)
	require.Equal(t, a, b)
	require.Equal(t, []int{0, 1, 2}, a.Samples)
	require.Equal(t, []piotest.Rearranger{piotest.RearrBox, piotest.RearrSubset}, a.Rearrangers)
	for _, f := range a.Flavors {
		require.True(t, f.Available)
	}
	require.Len(t, a.Steps(), 2*len(a.Flavors)*3)
	steps := a.Steps()
	if len(steps) > 1 {
		require.Equal(t, 0, steps[0].Sample)
		require.Equal(t, 1, steps[1].Sample)
	}
}

func TestPlanKeepsRequestedUnavailableFlavors(t *testing.T) {
	p := NewPlan(flavor.Load(), piotest.ModeAsync, []piotest.Rearranger{piotest.RearrBox}, []piotest.IOType{99, piotest.IOTypeNetCDF}, []int{1})
	require.Len(t, p.Flavors, 2)
	require.Equal(t, piotest.IOTypeNetCDF, p.Flavors[0].IOType)
	require.Equal(t, "classic", p.Flavors[0].Name)
	require.Equal(t, piotest.IOType(99), p.Flavors[1].IOType)
	require.False(t, p.Flavors[1].Available)
}

func TestPlanFollowsRegistry(t *testing.T) {
	registry := flavor.New([]flavor.Descriptor{
		{IOType: piotest.IOTypeNetCDF4P, Name: "parallel4", Available: true},
		{IOType: piotest.IOTypeNetCDF, Name: "classic", Available: false},
		{IOType: piotest.IOTypePNetCDF, Name: "pnetcdf", Available: true},
	})
	p := NewPlan(registry, piotest.ModeSync, nil, nil, nil)
	require.Equal(t, []Flavor{
		{IOType: piotest.IOTypePNetCDF, Name: "pnetcdf", Available: true},
		{IOType: piotest.IOTypeNetCDF4P, Name: "parallel4", Available: true},
	}, p.Flavors)

	p = NewPlan(registry, piotest.ModeSync, nil, []piotest.IOType{piotest.IOTypeNetCDF, piotest.IOTypeNetCDF4P}, nil)
	require.Equal(t, []Flavor{
		{IOType: piotest.IOTypeNetCDF4P, Name: "parallel4", Available: true},
		{IOType: piotest.IOTypeNetCDF, Name: "classic", Available: false},
	}, p.Flavors)
}

func TestNoAsyncSkipsFlavorsMissingFromRegistry(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	registry := flavor.New([]flavor.Descriptor{{IOType: piotest.IOTypeNetCDF, Name: "classic", Available: false}})
	reports, err := runAll(t, 2, NoAsync, Options{
		Dir:      t.TempDir(),
		Flavors:  []piotest.IOType{piotest.IOTypeNetCDF},
		Registry: registry,
		Samples:  []int{0},
	})
	require.Nil(t, err)
	for _, report := range reports {
		passed, failed, skipped := report.Counts()
		require.Equal(t, 0, passed+failed)
		require.Equal(t, 2, skipped)
		require.Equal(t, 0, report.Status())
	}
}

func TestNoAsync(t *testing.T) {
	requireClassic(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	reports, err := runAll(t, 4, NoAsync, Options{
		Dir:        t.TempDir(),
		Flavors:    []piotest.IOType{piotest.IOTypeNetCDF},
		NumIOTasks: 2,
		Stride:     2,
	})
	require.Nil(t, err)
	for _, report := range reports {
		require.Equal(t, 0, report.Status())
		require.Nil(t, report.Err())
		passed, failed, skipped := report.Counts()
		require.Equal(t, 6, passed)
		require.Equal(t, 0, failed+skipped)
		require.Equal(t, reports[0].Results[5].Sample, report.Results[5].Sample)
	}
}

func TestNoAsyncEveryFlavor(t *testing.T) {
	reports, err := runAll(t, 3, NoAsync, Options{
		Dir:   t.TempDir(),
		Sizes: sample.Sizes{DimLen1: 5, XDimLen: 7, YDimLen: 2, NumRecords: 2},
	})
	require.Nil(t, err)
	want := 2 * len(NewPlan(flavor.Load(), piotest.ModeSync, nil, nil, nil).Flavors) * sample.Count
	for _, report := range reports {
		require.Len(t, report.Results, want)
		require.Equal(t, 0, report.Status(), "%v", report.Err())
	}
}

func TestAsync(t *testing.T) {
	requireClassic(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	reports, err := runAll(t, 5, Async, Options{
		Dir:            t.TempDir(),
		Flavors:        []piotest.IOType{piotest.IOTypeNetCDF},
		ComponentCount: 2,
		NumIOProcs:     1,
	})
	require.Nil(t, err)
	require.Empty(t, reports[0].Results)
	for rank, report := range reports[1:] {
		require.Len(t, report.Results, 6)
		require.Equal(t, 0, report.Status(), "%v", report.Err())
		for _, res := range report.Results {
			require.Equal(t, piotest.ModeAsync, res.Mode)
			require.Equal(t, rank/2, res.Component)
		}
	}
}

func TestUnavailableFlavor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	opts := Options{Dir: t.TempDir(), Flavors: []piotest.IOType{99}, Rearrangers: []piotest.Rearranger{piotest.RearrBox}}
	reports, err := runAll(t, 2, NoAsync, opts)
	require.Nil(t, err)
	for _, report := range reports {
		_, failed, skipped := report.Counts()
		require.Equal(t, 3, skipped)
		require.Equal(t, 0, failed)
		require.Equal(t, 0, report.Status())
	}

	opts.FailUnavailable = true
	reports, err = runAll(t, 2, NoAsync, opts)
	require.Nil(t, err)
	for _, report := range reports {
		require.Equal(t, errors.EBadIOType, report.Status())
		require.NotNil(t, report.Err())
	}
}

func TestFailuresAreRecordedAndRunContinues(t *testing.T) {
	requireClassic(t)
	reports, err := runAll(t, 2, NoAsync, Options{
		Dir:     t.TempDir(),
		Flavors: []piotest.IOType{piotest.IOTypeNetCDF},
		// sample 1 cannot be decomposed, so no sample of the pass can run
		Sizes: sample.Sizes{DimLen1: -1},
	})
	require.Nil(t, err)
	for _, report := range reports {
		require.Len(t, report.Results, 6)
		require.Equal(t, errors.ErrWrong, report.Status())
		_, failed, _ := report.Counts()
		require.Equal(t, 6, failed)
	}
}

func TestBadTopologyIsFatal(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	_, err := runAll(t, 4, Async, Options{Dir: t.TempDir(), ComponentCount: 3, NumIOProcs: 2})
	require.NotNil(t, err)
	require.Equal(t, errors.ErrInit, errors.Code(err))
}

func TestFileNamesAreDistinct(t *testing.T) {
	opts := Options{TestName: "t"}
	ensureDefaultOptionsValues(&opts)
	r := &runner{opts: &opts, plan: NewPlan(flavor.Load(), piotest.ModeAsync, nil, nil, nil)}
	seen := make(map[string]bool)
	for component := 0; component < 2; component++ {
		r.component = component
		for _, step := range r.plan.Steps() {
			name := r.filename(step.Rearranger, step.Flavor, step.Sample)
			require.False(t, seen[name], name)
			seen[name] = true
		}
	}
	require.Equal(t, "t_async_box_c1_classic_sample2.nc", r.filename(piotest.RearrBox, Flavor{Name: "classic"}, 2))
}
