package piotest

import "fmt"

// Mode is an execution model of the I/O library
type Mode string

const (
	// ModeSync shares one I/O system across every in-test rank
	ModeSync Mode = "sync"
	// ModeAsync splits the in-test ranks into compute components and dedicated I/O ranks
	ModeAsync Mode = "async"
)

// TestResult is the outcome of one (mode, rearranger, flavor, sample) combination
type TestResult struct {
	Mode       Mode
	Rearranger Rearranger
	Flavor     IOType
	Sample     int
	Component  int   // compute component, 0 in sync mode
	Code       int   // 0 iff the combination passed
	Skipped    bool  // true iff the flavor was unavailable and skipping was permitted
	Err        error // the first error observed on this rank, if any
}

// Passed returns true iff this combination did not fail
func (r *TestResult) Passed() bool {
	return r.Code == 0
}

// String returns a short textual representation of this TestResult
func (r *TestResult) String() string {
	status := "ok"
	if r.Skipped {
		status = "skipped"
	} else if !r.Passed() {
		status = fmt.Sprintf("FAIL(%d)", r.Code)
	}
	return fmt.Sprintf("%s/%s/iotype=%d/comp=%d/sample=%d: %s", r.Mode, r.Rearranger, r.Flavor, r.Component, r.Sample, status)
}
