// Package sample defines the canonical datasets a test pass writes under each
// storage flavor and reads back. Every function here is collective over the
// compute tasks of an IOSystem: tasks never branch on data they alone hold, so
// a mismatch seen by one task does not change the sequence of calls.
package sample

import (
	"context"
	stderrors "errors"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/decomp"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/pio"
	multierror "github.com/hashicorp/go-multierror"
)

// Count is the number of canonical samples
const Count = 3

// Value is the canonical value stored at a global index
func Value(gidx int64) int64 {
	return 2*gidx + 1
}

// Sizes are the extents of the decomposed samples
type Sizes struct {
	DimLen1    int // length of the sample 1 dimension (default: 8)
	XDimLen    int // first decomposed axis of sample 2 (default: 4)
	YDimLen    int // second axis of sample 2, never split (default: 3)
	NumRecords int // records appended to sample 2 (default: 3)
}

// EnsureDefaultSizesValues fills in any unset extent
func EnsureDefaultSizesValues(sizes *Sizes) {
	if sizes.DimLen1 == 0 {
		sizes.DimLen1 = 8
	}
	if sizes.XDimLen == 0 {
		sizes.XDimLen = 4
	}
	if sizes.YDimLen == 0 {
		sizes.YDimLen = 3
	}
	if sizes.NumRecords == 0 {
		sizes.NumRecords = 3
	}
}

// Decomps holds the decompositions the samples are bound to on one compute task
type Decomps struct {
	Sizes   Sizes
	Sample1 *pio.Decomp
	Sample2 *pio.Decomp
}

// Decompose builds and registers the decompositions of samples 1 and 2 for the calling compute task
func Decompose(ctx context.Context, sys *pio.IOSystem, sizes Sizes) (*Decomps, error) {
	EnsureDefaultSizesValues(&sizes)
	res := &Decomps{Sizes: sizes}
	for _, target := range []struct {
		shape []int
		dst   **pio.Decomp
	}{
		{[]int{sizes.DimLen1}, &res.Sample1},
		{[]int{sizes.XDimLen, sizes.YDimLen}, &res.Sample2},
	} {
		m, err := decomp.Build(target.shape, sys.CompSize(), sys.CompRank())
		if err != nil {
			return nil, err
		}
		d, err := sys.InitDecomp(ctx, m.Shape, m.Indices)
		if err != nil {
			return nil, ioError("InitDecomp", err)
		}
		*target.dst = d
	}
	return res, nil
}

// Create writes sample n to filename under a storage flavor
func Create(ctx context.Context, sys *pio.IOSystem, n int, iotype piotest.IOType, filename string, d *Decomps) error {
	switch n {
	case 0:
		return CreateSample0(ctx, sys, iotype, filename)
	case 1:
		return CreateSample1(ctx, sys, iotype, filename, d)
	case 2:
		return CreateSample2(ctx, sys, iotype, filename, d)
	default:
		return &errors.UnknownSampleError{Sample: n}
	}
}

// Check reads sample n back from filename and verifies it
func Check(ctx context.Context, sys *pio.IOSystem, n int, iotype piotest.IOType, filename string, d *Decomps) error {
	switch n {
	case 0:
		return CheckSample0(ctx, sys, iotype, filename)
	case 1:
		return CheckSample1(ctx, sys, iotype, filename, d)
	case 2:
		return CheckSample2(ctx, sys, iotype, filename, d)
	default:
		return &errors.UnknownSampleError{Sample: n}
	}
}

type coder interface {
	ErrorCode() int
}

// ioError wraps a library failure. Communicator failures pass through so they stay fatal.
func ioError(op string, err error) error {
	if err == nil || errors.IsFatal(err) {
		return err
	}
	code := errors.ErrAwful
	var c coder
	if stderrors.As(err, &c) {
		code = c.ErrorCode()
	}
	return &errors.IOError{Op: op, Code: code, Err: err}
}

func checkAvailable(iotype piotest.IOType) error {
	if !pio.Available(iotype) {
		return &errors.FlavorUnavailable{IOType: int(iotype)}
	}
	return nil
}

// create opens a new file and runs define then write on it. The file is always
// closed, and removed if anything failed, so a partial file never survives.
func create(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, define func(f *pio.File) error, write func(f *pio.File) error) error {
	if err := checkAvailable(iotype); err != nil {
		return err
	}
	f, err := sys.CreateFile(ctx, iotype, filename, pio.ModeClobber)
	if err != nil {
		return ioError("CreateFile", err)
	}
	err = define(f)
	if err == nil {
		err = ioError("EndDef", f.EndDef(ctx))
	}
	if err == nil {
		err = write(f)
	}
	if errors.IsFatal(err) {
		return err
	}
	if cerr := ioError("Close", f.Close(ctx)); cerr != nil {
		if errors.IsFatal(cerr) {
			return cerr
		}
		err = appendError(err, cerr)
	}
	if err != nil {
		if derr := ioError("DeleteFile", sys.DeleteFile(ctx, iotype, filename)); derr != nil {
			err = appendError(err, derr)
		}
	}
	return err
}

// check opens filename read-only and runs verify on it, always closing the file
func check(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, verify func(f *pio.File, v *verifier) error) error {
	if err := checkAvailable(iotype); err != nil {
		return err
	}
	f, err := sys.OpenFile(ctx, iotype, filename, false)
	if err != nil {
		return ioError("OpenFile", err)
	}
	v := &verifier{}
	err = verify(f, v)
	if errors.IsFatal(err) {
		return err
	}
	if cerr := ioError("Close", f.Close(ctx)); cerr != nil {
		if errors.IsFatal(cerr) {
			return cerr
		}
		err = appendError(err, cerr)
	}
	if err != nil {
		return err
	}
	return v.err
}

// appendError keeps the first error first, so its code is the one reported
func appendError(err error, next error) error {
	if err == nil {
		return next
	}
	var merr *multierror.Error
	if stderrors.As(err, &merr) {
		return multierror.Append(merr, next)
	}
	return multierror.Append(err, next)
}

// verifier records the first mismatch observed by this task
type verifier struct {
	err error
}

func (v *verifier) expect(sample int, what string, index int64, want interface{}, got interface{}) {
	if v.err == nil && want != got {
		v.err = &errors.VerificationMismatch{Sample: sample, What: what, Index: index, Want: want, Got: got}
	}
}
