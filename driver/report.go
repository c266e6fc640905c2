package driver

import (
	"fmt"

	"github.com/go-sif/piotest"
	multierror "github.com/hashicorp/go-multierror"
)

// Report collects the results of a driver on one rank, in plan order
type Report struct {
	Results []piotest.TestResult
}

// Add records a result
func (r *Report) Add(res piotest.TestResult) {
	r.Results = append(r.Results, res)
}

// Status returns 0 if every combination passed or was skipped, or else the
// code of the first failure in plan order
func (r *Report) Status() int {
	for i := range r.Results {
		if !r.Results[i].Skipped && !r.Results[i].Passed() {
			return r.Results[i].Code
		}
	}
	return 0
}

// Err aggregates the failures of the Report, or returns nil if there were none
func (r *Report) Err() error {
	var merr *multierror.Error
	for i := range r.Results {
		res := &r.Results[i]
		if res.Skipped || res.Passed() {
			continue
		}
		err := res.Err
		if err == nil {
			err = fmt.Errorf("failed with code %d", res.Code)
		}
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", res, err))
	}
	return merr.ErrorOrNil()
}

// Counts returns the number of passed, failed and skipped combinations
func (r *Report) Counts() (passed int, failed int, skipped int) {
	for i := range r.Results {
		switch {
		case r.Results[i].Skipped:
			skipped++
		case r.Results[i].Passed():
			passed++
		default:
			failed++
		}
	}
	return
}
