package sample

import (
	"context"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio"
)

// Names of sample 1, which has one decomposed int variable
const (
	Dim1       = "dim_sample_1"
	Var1       = "var_sample_1"
	sample1Tag = 1
)

// CreateSample1 writes sample 1: Value(gidx) at every index of a 1D int variable
// of Sizes.DimLen1 elements, each task writing the indices of its decomposition
func CreateSample1(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, d *Decomps) error {
	varid := -1
	define := func(f *pio.File) error {
		dimid, err := f.DefDim(ctx, Dim1, d.Sizes.DimLen1)
		if err != nil {
			return ioError("DefDim", err)
		}
		varid, err = f.DefVar(ctx, Var1, pio.Int, []int{dimid})
		return ioError("DefVar", err)
	}
	write := func(f *pio.File) error {
		indices := d.Sample1.Indices()
		values := make([]int32, len(indices))
		for i, gidx := range indices {
			values[i] = int32(Value(gidx))
		}
		return ioError("WriteDarray", f.WriteDarray(ctx, varid, d.Sample1, 0, values))
	}
	return create(ctx, sys, iotype, filename, define, write)
}

// CheckSample1 verifies the dimension, type and every value of sample 1
func CheckSample1(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, d *Decomps) error {
	return check(ctx, sys, iotype, filename, func(f *pio.File, v *verifier) error {
		ndims, nvars, _, unlimdim := f.Inquire()
		v.expect(sample1Tag, "dimension count", -1, 1, ndims)
		v.expect(sample1Tag, "variable count", -1, 1, nvars)
		v.expect(sample1Tag, "unlimited dimension", -1, -1, unlimdim)
		dimid, err := f.InqDimID(Dim1)
		if err != nil {
			return ioError("InqDimID", err)
		}
		_, length, err := f.InqDim(dimid)
		if err != nil {
			return ioError("InqDim", err)
		}
		v.expect(sample1Tag, Dim1, -1, d.Sizes.DimLen1, length)
		varid, err := f.InqVarID(Var1)
		if err != nil {
			return ioError("InqVarID", err)
		}
		_, typ, dimids, err := f.InqVar(varid)
		if err != nil {
			return ioError("InqVar", err)
		}
		v.expect(sample1Tag, Var1+" type", -1, pio.Int, typ)
		v.expect(sample1Tag, Var1+" dimensions", -1, 1, len(dimids))
		if typ != pio.Int || length != d.Sizes.DimLen1 {
			// every task holds the same header, so all of them stop here
			return nil
		}
		values, err := f.ReadDarray(ctx, varid, d.Sample1, 0)
		if err != nil {
			return ioError("ReadDarray", err)
		}
		got := values.([]int32)
		for i, gidx := range d.Sample1.Indices() {
			v.expect(sample1Tag, Var1, gidx, int32(Value(gidx)), got[i])
		}
		return nil
	})
}
