package sample

import (
	"context"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio"
)

// Names of sample 2, which has a decomposed double variable along an unlimited dimension
const (
	DimTime    = "time"
	DimX       = "x"
	DimY       = "y"
	Var2       = "var_sample_2"
	sample2Tag = 2
)

// sample2Value is the canonical value of element gidx of record rec
func sample2Value(sizes Sizes, rec int, gidx int64) float64 {
	return float64(Value(int64(rec)*int64(sizes.XDimLen*sizes.YDimLen) + gidx))
}

// CreateSample2 writes sample 2: Sizes.NumRecords records of a (time, x, y)
// double variable, appended one at a time with a Sync after each
func CreateSample2(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, d *Decomps) error {
	varid := -1
	define := func(f *pio.File) error {
		dimids := make([]int, 3)
		for i, dim := range []struct {
			name string
			len  int
		}{
			{DimTime, 0},
			{DimX, d.Sizes.XDimLen},
			{DimY, d.Sizes.YDimLen},
		} {
			var err error
			if dimids[i], err = f.DefDim(ctx, dim.name, dim.len); err != nil {
				return ioError("DefDim", err)
			}
		}
		var err error
		varid, err = f.DefVar(ctx, Var2, pio.Double, dimids)
		return ioError("DefVar", err)
	}
	write := func(f *pio.File) error {
		indices := d.Sample2.Indices()
		values := make([]float64, len(indices))
		for rec := 0; rec < d.Sizes.NumRecords; rec++ {
			for i, gidx := range indices {
				values[i] = sample2Value(d.Sizes, rec, gidx)
			}
			if err := f.WriteDarray(ctx, varid, d.Sample2, rec, values); err != nil {
				return ioError("WriteDarray", err)
			}
			if err := f.Sync(ctx); err != nil {
				return ioError("Sync", err)
			}
		}
		return nil
	}
	return create(ctx, sys, iotype, filename, define, write)
}

// CheckSample2 verifies the unlimited dimension, its length and every record of sample 2
func CheckSample2(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string, d *Decomps) error {
	return check(ctx, sys, iotype, filename, func(f *pio.File, v *verifier) error {
		ndims, nvars, _, unlimdim := f.Inquire()
		v.expect(sample2Tag, "dimension count", -1, 3, ndims)
		v.expect(sample2Tag, "variable count", -1, 1, nvars)
		timeid, err := f.InqDimID(DimTime)
		if err != nil {
			return ioError("InqDimID", err)
		}
		v.expect(sample2Tag, "unlimited dimension", -1, timeid, unlimdim)
		_, records, err := f.InqDim(timeid)
		if err != nil {
			return ioError("InqDim", err)
		}
		v.expect(sample2Tag, DimTime, -1, d.Sizes.NumRecords, records)
		shape := []int{d.Sizes.XDimLen, d.Sizes.YDimLen}
		for i, name := range []string{DimX, DimY} {
			dimid, err := f.InqDimID(name)
			if err != nil {
				return ioError("InqDimID", err)
			}
			_, length, err := f.InqDim(dimid)
			if err != nil {
				return ioError("InqDim", err)
			}
			v.expect(sample2Tag, name, -1, shape[i], length)
		}
		varid, err := f.InqVarID(Var2)
		if err != nil {
			return ioError("InqVarID", err)
		}
		_, typ, dimids, err := f.InqVar(varid)
		if err != nil {
			return ioError("InqVar", err)
		}
		v.expect(sample2Tag, Var2+" type", -1, pio.Double, typ)
		v.expect(sample2Tag, Var2+" dimensions", -1, 3, len(dimids))
		if v.err != nil {
			// metadata is the same on every task, so all of them stop here
			return nil
		}
		for rec := 0; rec < records; rec++ {
			values, err := f.ReadDarray(ctx, varid, d.Sample2, rec)
			if err != nil {
				return ioError("ReadDarray", err)
			}
			got := values.([]float64)
			for i, gidx := range d.Sample2.Indices() {
				v.expect(sample2Tag, Var2, int64(rec)*int64(d.Sizes.XDimLen*d.Sizes.YDimLen)+gidx, sample2Value(d.Sizes, rec, gidx), got[i])
			}
		}
		return nil
	})
}
