package sample

import (
	"context"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/pio"
)

// Names and values of sample 0, which has metadata and a scalar only
const (
	Dim0       = "dim_sample_0"
	Dim0Len    = 4
	Var0       = "var_sample_0"
	Title      = "title"
	Title0     = "piotest sample 0"
	Units      = "units"
	Units0     = "meters"
	sample0Tag = 0
)

// CreateSample0 writes sample 0: one dimension, a scalar int variable holding
// TestVal42, a global attribute and a variable attribute
func CreateSample0(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string) error {
	varid := -1
	define := func(f *pio.File) error {
		if _, err := f.DefDim(ctx, Dim0, Dim0Len); err != nil {
			return ioError("DefDim", err)
		}
		var err error
		if varid, err = f.DefVar(ctx, Var0, pio.Int, nil); err != nil {
			return ioError("DefVar", err)
		}
		if err = f.PutAtt(ctx, pio.GlobalAtt, Title, pio.Char, Title0); err != nil {
			return ioError("PutAtt", err)
		}
		return ioError("PutAtt", f.PutAtt(ctx, varid, Units, pio.Char, Units0))
	}
	write := func(f *pio.File) error {
		return ioError("PutVar", f.PutVar(ctx, varid, 0, int32(errors.TestVal42)))
	}
	return create(ctx, sys, iotype, filename, define, write)
}

// CheckSample0 verifies the metadata and scalar of sample 0
func CheckSample0(ctx context.Context, sys *pio.IOSystem, iotype piotest.IOType, filename string) error {
	return check(ctx, sys, iotype, filename, func(f *pio.File, v *verifier) error {
		ndims, nvars, natts, unlimdim := f.Inquire()
		v.expect(sample0Tag, "dimension count", -1, 1, ndims)
		v.expect(sample0Tag, "variable count", -1, 1, nvars)
		v.expect(sample0Tag, "global attribute count", -1, 1, natts)
		v.expect(sample0Tag, "unlimited dimension", -1, -1, unlimdim)
		if ndims > 0 {
			name, length, err := f.InqDim(0)
			if err != nil {
				return ioError("InqDim", err)
			}
			v.expect(sample0Tag, "dimension name", -1, Dim0, name)
			v.expect(sample0Tag, Dim0, -1, Dim0Len, length)
		}
		varid, err := f.InqVarID(Var0)
		if err != nil {
			return ioError("InqVarID", err)
		}
		_, typ, dimids, err := f.InqVar(varid)
		if err != nil {
			return ioError("InqVar", err)
		}
		v.expect(sample0Tag, Var0+" type", -1, pio.Int, typ)
		v.expect(sample0Tag, Var0+" dimensions", -1, 0, len(dimids))
		for _, att := range []struct {
			varid int
			name  string
			want  string
		}{
			{pio.GlobalAtt, Title, Title0},
			{varid, Units, Units0},
		} {
			a, err := f.GetAtt(att.varid, att.name)
			if err != nil {
				return ioError("GetAtt", err)
			}
			v.expect(sample0Tag, att.name+" type", -1, pio.Char, a.Type)
			v.expect(sample0Tag, att.name, -1, att.want, string(a.Data))
		}
		if typ != pio.Int {
			return nil
		}
		values, err := f.GetVar(ctx, varid, 0)
		if err != nil {
			return ioError("GetVar", err)
		}
		got := values.([]int32)
		v.expect(sample0Tag, Var0+" length", -1, 1, len(got))
		if len(got) == 1 {
			v.expect(sample0Tag, Var0, 0, int32(errors.TestVal42), got[0])
		}
		return nil
	})
}
