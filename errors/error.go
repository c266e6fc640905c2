package errors

import (
	stderrors "errors"
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Status codes reported by a test run. Zero means every combination passed.
const (
	ErrCheck = 1109 // a value, type or dimension read back did not match what was written
	ErrInit  = 1110 // the worker pool could not be established
	ErrAwful = 1111 // an error with no more specific code
	ErrWrong = 1112 // a malformed shape, rank count or sample number
	ErrGPTL  = 1113 // the timing subsystem failed
	ErrMPI   = 1114 // the communicator failed, or finalization went wrong
)

// EBadIOType is the I/O library's code for an unknown or unavailable storage flavor
const EBadIOType = -255

// TestVal42 is the meaning of life, the universe, and everything
const TestVal42 = 42

// TopologyError occurs when the worker pool is too small or cannot be split
type TopologyError struct {
	Size   int
	Min    int
	Max    int
	Reason string
}

// Error returns a textual representation of this TopologyError
func (e *TopologyError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("Invalid topology for %d tasks: %s", e.Size, e.Reason)
	}
	return fmt.Sprintf("Worker pool of %d tasks is outside the required range [%d, %d]", e.Size, e.Min, e.Max)
}

// FlavorUnavailable occurs when a storage flavor is unknown or not compiled into the I/O library
type FlavorUnavailable struct {
	IOType int
	Name   string // set instead of IOType when a flavor was requested by name
}

// Error returns a textual representation of this FlavorUnavailable
func (e *FlavorUnavailable) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("Storage flavor %q is not known", e.Name)
	}
	return fmt.Sprintf("Storage flavor %d is not available", e.IOType)
}

// DecompositionRangeError occurs when a shape and rank count cannot be decomposed
type DecompositionRangeError struct {
	Shape  []int
	NTasks int
	Rank   int
	Reason string
}

// Error returns a textual representation of this DecompositionRangeError
func (e *DecompositionRangeError) Error() string {
	return fmt.Sprintf("Cannot decompose shape %v over %d tasks for rank %d: %s", e.Shape, e.NTasks, e.Rank, e.Reason)
}

// UnknownSampleError occurs when a sample number has no definition
type UnknownSampleError struct{ Sample int }

// Error returns a textual representation of this UnknownSampleError
func (e *UnknownSampleError) Error() string {
	return fmt.Sprintf("Sample %d does not exist", e.Sample)
}

// OptionError occurs when a run is configured with a value that means nothing
type OptionError struct {
	Option string
	Value  string
}

// Error returns a textual representation of this OptionError
func (e *OptionError) Error() string {
	return fmt.Sprintf("Invalid value %q for option %s", e.Value, e.Option)
}

// IOError wraps a failure surfaced by the I/O library
type IOError struct {
	Op   string
	Code int
	Err  error
}

// Error returns a textual representation of this IOError
func (e *IOError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %v", e.Op, e.Code, e.Err)
}

// Unwrap returns the library error
func (e *IOError) Unwrap() error {
	return e.Err
}

// VerificationMismatch occurs when data read back differs from what was written
type VerificationMismatch struct {
	Sample int
	What   string // the variable, dimension or attribute being checked
	Index  int64  // offending global index, or -1 for metadata
	Want   interface{}
	Got    interface{}
}

// Error returns a textual representation of this VerificationMismatch
func (e *VerificationMismatch) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("Sample %d: %s mismatch: expected %v, got %v", e.Sample, e.What, e.Want, e.Got)
	}
	return fmt.Sprintf("Sample %d: %s[%d] mismatch: expected %v, got %v", e.Sample, e.What, e.Index, e.Want, e.Got)
}

// FinalizationError occurs when the worker pool or instrumentation cannot be torn down
type FinalizationError struct{ Reason string }

// Error returns a textual representation of this FinalizationError
func (e *FinalizationError) Error() string {
	return fmt.Sprintf("Finalization failed: %s", e.Reason)
}

// InstrumentationError occurs when run timing is started twice, or finished before it started
type InstrumentationError struct{ Reason string }

// Error returns a textual representation of this InstrumentationError
func (e *InstrumentationError) Error() string {
	return fmt.Sprintf("Instrumentation failed: %s", e.Reason)
}

// CommError occurs when the communicator itself fails, e.g. a rank disappears or the run is cancelled
type CommError struct{ Err error }

// Error returns a textual representation of this CommError
func (e *CommError) Error() string {
	return fmt.Sprintf("Communication failed: %v", e.Err)
}

// Unwrap returns the underlying communicator error
func (e *CommError) Unwrap() error {
	return e.Err
}

// coder is implemented by library errors which carry their own status code
type coder interface {
	ErrorCode() int
}

// Code maps an error to the status code a test run reports for it.
// For an aggregate, the first error decides.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var merr *multierror.Error
	if stderrors.As(err, &merr) && len(merr.Errors) > 0 {
		return Code(merr.Errors[0])
	}
	var (
		topo   *TopologyError
		flavor *FlavorUnavailable
		decomp *DecompositionRangeError
		sample *UnknownSampleError
		option *OptionError
		ioErr  *IOError
		check  *VerificationMismatch
		final  *FinalizationError
		commE  *CommError
		instr  *InstrumentationError
		c      coder
	)
	switch {
	case stderrors.As(err, &topo):
		return ErrInit
	case stderrors.As(err, &flavor):
		return EBadIOType
	case stderrors.As(err, &decomp), stderrors.As(err, &sample), stderrors.As(err, &option):
		return ErrWrong
	case stderrors.As(err, &check):
		return ErrCheck
	case stderrors.As(err, &final), stderrors.As(err, &commE):
		return ErrMPI
	case stderrors.As(err, &instr):
		return ErrGPTL
	case stderrors.As(err, &ioErr):
		if ioErr.Code == EBadIOType {
			return EBadIOType
		}
		if ioErr.Code != 0 {
			return ioErr.Code
		}
		return ErrAwful
	case stderrors.As(err, &c):
		return c.ErrorCode()
	default:
		return ErrAwful
	}
}

// IsFatal returns true for errors which mean the coordination substrate itself is broken
func IsFatal(err error) bool {
	var (
		topo  *TopologyError
		final *FinalizationError
		commE *CommError
	)
	return stderrors.As(err, &topo) || stderrors.As(err, &final) || stderrors.As(err, &commE)
}

// IsFlavorUnavailable returns true if err reports an unknown or unavailable storage flavor
func IsFlavorUnavailable(err error) bool {
	var flavor *FlavorUnavailable
	if stderrors.As(err, &flavor) {
		return true
	}
	var ioErr *IOError
	return stderrors.As(err, &ioErr) && ioErr.Code == EBadIOType
}
