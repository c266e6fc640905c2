package stats

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/stretchr/testify/require"
)

func TestStartFinish(t *testing.T) {
	rs := NewRunStatistics()
	require.Equal(t, errors.ErrGPTL, errors.Code(rs.Finish()))
	require.Nil(t, rs.Start())
	require.Equal(t, errors.ErrGPTL, errors.Code(rs.Start()))
	require.Nil(t, rs.Finish())
	require.NotNil(t, rs.Finish())
	runtime := rs.GetRuntime()
	require.Equal(t, runtime, rs.GetRuntime())
}

func TestCombinations(t *testing.T) {
	rs := NewRunStatistics()
	require.Nil(t, rs.Start())
	for _, r := range []*piotest.TestResult{
		{Mode: piotest.ModeSync, Flavor: piotest.IOTypeNetCDF, Sample: 0},
		{Mode: piotest.ModeSync, Flavor: piotest.IOTypeNetCDF, Sample: 1, Code: errors.ErrCheck},
		{Mode: piotest.ModeAsync, Flavor: piotest.IOTypePNetCDF, Sample: 2, Code: errors.EBadIOType, Skipped: true},
	} {
		rs.StartCombination()
		rs.EndCombination(r)
	}
	require.Nil(t, rs.Finish())
	require.Equal(t, int64(3), rs.GetNumCombinations())
	require.Equal(t, int64(1), rs.GetNumFailures())
	require.Equal(t, int64(1), rs.GetNumSkipped())

	families, err := rs.Registry().Gather()
	require.Nil(t, err)
	counts := make(map[string]float64)
	for _, f := range families {
		if f.GetName() != "piotest_combinations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "result" {
					counts[l.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{"passed": 1, "failed": 1, "skipped": 1}, counts)
}

func TestCurrentCombinationTime(t *testing.T) {
	rs := NewRunStatistics()
	require.Equal(t, time.Duration(0), rs.GetCurrentCombinationTime())
	require.Nil(t, rs.Start())
	require.False(t, rs.GetStartTime().IsZero())
	rs.StartCombination()
	time.Sleep(10 * time.Millisecond)
	rs.EndCombination(&piotest.TestResult{Mode: piotest.ModeSync})
	// one combination so far, so the average is its own time
	require.GreaterOrEqual(t, rs.GetCurrentCombinationTime(), 10*time.Millisecond)
}

func TestWriteMetrics(t *testing.T) {
	rs := NewRunStatistics()
	require.Nil(t, rs.Start())
	rs.StartCombination()
	rs.EndCombination(&piotest.TestResult{Mode: piotest.ModeAsync, Flavor: piotest.IOTypeNetCDF, Sample: 1})
	require.Nil(t, rs.Finish())

	path := filepath.Join(t.TempDir(), "piotest.prom")
	require.Nil(t, rs.WriteMetrics(path))
	data, err := ioutil.ReadFile(path)
	require.Nil(t, err)
	require.Contains(t, string(data), `piotest_combinations_total{mode="async",result="passed"} 1`)
	require.Contains(t, string(data), "piotest_combination_duration_seconds_count")

	err = rs.WriteMetrics(filepath.Join(t.TempDir(), "missing", "piotest.prom"))
	require.Equal(t, errors.ErrGPTL, errors.Code(err))
}
