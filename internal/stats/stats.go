package stats

import (
	"fmt"
	"time"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const statisticRollingWindows = 5

// RunStatistics times a test run and each combination within it. Timings are
// informational and never decide whether a run passed.
type RunStatistics struct {
	started                 bool
	finished                bool
	startTime               time.Time
	totalRuntime            int64
	combinations            int64
	failures                int64
	skipped                 int64
	recentRuntimes          []int64 // for rolling average of recent combination times
	recentRuntimesHead      int
	recentRuntimesLen       int
	currentCombinationStart time.Time
	registry                *prometheus.Registry
	combinationDuration     *prometheus.HistogramVec
	combinationResults      *prometheus.CounterVec
}

// NewRunStatistics creates RunStatistics with their own metrics registry, so
// that many runs may coexist in one process
func NewRunStatistics() *RunStatistics {
	rs := &RunStatistics{
		registry: prometheus.NewRegistry(),
		combinationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "piotest",
			Name:      "combination_duration_seconds",
			Help:      "Time spent creating and checking one sample under one flavor.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"mode", "flavor", "sample"}),
		combinationResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "piotest",
			Name:      "combinations_total",
			Help:      "Combinations run, by result.",
		}, []string{"mode", "result"}),
	}
	rs.registry.MustRegister(rs.combinationDuration, rs.combinationResults)
	return rs
}

// Start triggers statistics tracking. Starting twice is an error.
func (rs *RunStatistics) Start() error {
	if rs.started {
		return &errors.InstrumentationError{Reason: "timer already started"}
	}
	rs.started = true
	rs.startTime = time.Now()
	rs.recentRuntimes = make([]int64, statisticRollingWindows)
	return nil
}

// Finish completes statistics tracking
func (rs *RunStatistics) Finish() error {
	if !rs.started {
		return &errors.InstrumentationError{Reason: "timer finished before it started"}
	}
	if rs.finished {
		return &errors.InstrumentationError{Reason: "timer already finished"}
	}
	rs.finished = true
	rs.totalRuntime = time.Since(rs.startTime).Nanoseconds()
	return nil
}

// StartCombination tracks the beginning of a combination
func (rs *RunStatistics) StartCombination() {
	rs.currentCombinationStart = time.Now()
}

// EndCombination tracks the end of a combination
func (rs *RunStatistics) EndCombination(r *piotest.TestResult) {
	elapsed := time.Since(rs.currentCombinationStart)
	if rs.recentRuntimes != nil {
		rs.recentRuntimes[rs.recentRuntimesHead] = elapsed.Nanoseconds()
		rs.recentRuntimesHead = (rs.recentRuntimesHead + 1) % len(rs.recentRuntimes)
		if rs.recentRuntimesLen < len(rs.recentRuntimes) {
			rs.recentRuntimesLen++
		}
	}
	rs.combinations++
	result := "passed"
	switch {
	case r.Skipped:
		rs.skipped++
		result = "skipped"
	case !r.Passed():
		rs.failures++
		result = "failed"
	}
	rs.combinationDuration.WithLabelValues(string(r.Mode), fmt.Sprint(int(r.Flavor)), fmt.Sprint(r.Sample)).Observe(elapsed.Seconds())
	rs.combinationResults.WithLabelValues(string(r.Mode), result).Inc()
}

// GetStartTime returns the start time of the run
func (rs *RunStatistics) GetStartTime() time.Time {
	return rs.startTime
}

// GetRuntime returns the running time of the run
func (rs *RunStatistics) GetRuntime() time.Duration {
	if rs.finished {
		return time.Duration(rs.totalRuntime)
	}
	if !rs.started {
		return 0
	}
	return time.Since(rs.startTime)
}

// GetNumCombinations returns the number of combinations run so far
func (rs *RunStatistics) GetNumCombinations() int64 {
	return rs.combinations
}

// GetNumFailures returns the number of combinations which failed so far
func (rs *RunStatistics) GetNumFailures() int64 {
	return rs.failures
}

// GetNumSkipped returns the number of combinations skipped so far
func (rs *RunStatistics) GetNumSkipped() int64 {
	return rs.skipped
}

// GetCurrentCombinationTime returns a rolling average of recent combination times
func (rs *RunStatistics) GetCurrentCombinationTime() time.Duration {
	if rs.recentRuntimesLen == 0 {
		return 0
	}
	var total int64
	for _, d := range rs.recentRuntimes {
		total += d
	}
	return time.Duration(total / int64(rs.recentRuntimesLen))
}

// Registry returns the metrics of this run, e.g. for exposition
func (rs *RunStatistics) Registry() *prometheus.Registry {
	return rs.registry
}

// WriteMetrics writes the metrics of this run to path in the Prometheus text
// format, as read by the node exporter's textfile collector. The file is
// replaced atomically.
func (rs *RunStatistics) WriteMetrics(path string) error {
	if err := prometheus.WriteToTextfile(path, rs.registry); err != nil {
		return &errors.InstrumentationError{Reason: err.Error()}
	}
	return nil
}
