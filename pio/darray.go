package pio

import (
	"context"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio/store"
)

// Decomp maps the elements a compute task holds onto global indices of an array
// of a fixed shape. Global indices are 0-based and row-major.
type Decomp struct {
	dims    []int
	indices []int64
}

// InitDecomp validates and registers a decomposition. Collective over the
// compute tasks; if the indices of any task are invalid, every task fails.
func (s *IOSystem) InitDecomp(ctx context.Context, dims []int, indices []int64) (*Decomp, error) {
	if e := s.checkOpen("InitDecomp"); e != nil {
		return nil, e
	}
	local := validateDecomp(dims, indices)
	if err := s.agree(ctx, "InitDecomp", local); err != nil {
		return nil, err
	}
	return &Decomp{dims: append([]int(nil), dims...), indices: append([]int64(nil), indices...)}, nil
}

func validateDecomp(dims []int, indices []int64) *Error {
	n := int64(1)
	for _, d := range dims {
		if d < 1 {
			return newError(EInval, "InitDecomp", "dimension lengths %v must be positive", dims)
		}
		n *= int64(d)
	}
	seen := make(map[int64]bool, len(indices))
	for _, gidx := range indices {
		if gidx < 0 || gidx >= n {
			return newError(EInvalCoords, "InitDecomp", "index %d is outside an array of %d elements", gidx, n)
		}
		if seen[gidx] {
			return newError(EInval, "InitDecomp", "index %d appears twice", gidx)
		}
		seen[gidx] = true
	}
	return nil
}

// Len returns the number of elements held by this task
func (d *Decomp) Len() int {
	return len(d.indices)
}

// Dims returns the shape of the decomposed array
func (d *Decomp) Dims() []int {
	return append([]int(nil), d.dims...)
}

// Indices returns the global indices held by this task, in the order values are passed
func (d *Decomp) Indices() []int64 {
	return append([]int64(nil), d.indices...)
}

func sameShape(a []int, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkDarray validates a distributed array access on the compute side. Every
// check depends only on state shared by all compute tasks.
func (f *File) checkDarray(op string, varid int, rec int, write bool) *Error {
	if e := f.usable(op); e != nil {
		return e
	}
	if f.define {
		return newError(EInDefine, op, "%s is in define mode", f.path)
	}
	if write && !f.write {
		return newError(EPerm, op, "%s is open read-only", f.path)
	}
	if e := checkVar(f.hdr, op, varid); e != nil {
		return e
	}
	if rec < 0 || (!f.hdr.IsRecordVar(varid) && rec != 0) {
		return newError(EInvalCoords, op, "record %d of variable %d", rec, varid)
	}
	return nil
}

// split groups elements by the I/O task which stores them. The positions of
// each group in idx are returned too, to put read results back in order.
// Whole-variable access routes by index alone, whichever task holds the values.
func (f *File) split(idx []int64, data []byte, elemSize int, recLen int64, whole bool) ([]piece, [][]int) {
	s := f.sys
	rearr := s.rearranger
	if whole {
		rearr = piotest.RearrBox
	}
	out := make([]piece, len(s.ioRanks))
	positions := make([][]int, len(s.ioRanks))
	for i, gidx := range idx {
		k := route(rearr, f.hdr.Shards, s.comp.Rank(), gidx, recLen)
		out[k].Idx = append(out[k].Idx, gidx)
		positions[k] = append(positions[k], i)
		if data != nil {
			out[k].Data = append(out[k].Data, data[i*elemSize:(i+1)*elemSize]...)
		}
	}
	return out, positions
}

func (f *File) writeElements(ctx context.Context, op string, varid int, rec int, idx []int64, data []byte, whole bool) error {
	v := f.hdr.Vars[varid]
	out, _ := f.split(idx, data, v.Type.Size(), f.hdr.RecordLen(varid), whole)
	rep, _, err := f.sys.call(ctx, &request{Op: opWriteDarray, File: f.id, VarID: varid, Rec: rec}, out)
	if err != nil {
		return err
	}
	if rep.Code != NoErr {
		return &Error{Code: rep.Code, Op: op, Msg: rep.Msg}
	}
	if f.hdr.IsRecordVar(varid) && rec >= f.hdr.NumRecs {
		f.hdr.NumRecs = rec + 1
	}
	return nil
}

func (f *File) readElements(ctx context.Context, op string, varid int, rec int, idx []int64, whole bool) ([]byte, error) {
	v := f.hdr.Vars[varid]
	elemSize := v.Type.Size()
	out, positions := f.split(idx, nil, elemSize, f.hdr.RecordLen(varid), whole)
	rep, in, err := f.sys.call(ctx, &request{Op: opReadDarray, File: f.id, VarID: varid, Rec: rec}, out)
	if err != nil {
		return nil, err
	}
	if rep.Code != NoErr {
		return nil, &Error{Code: rep.Code, Op: op, Msg: rep.Msg}
	}
	data := make([]byte, len(idx)*elemSize)
	for k, p := range in {
		if len(p.Data) != len(positions[k])*elemSize {
			return nil, newError(EStorage, op, "I/O task %d returned %d bytes for %d elements", k, len(p.Data), len(positions[k]))
		}
		for j, pos := range positions[k] {
			copy(data[pos*elemSize:(pos+1)*elemSize], p.Data[j*elemSize:(j+1)*elemSize])
		}
	}
	return data, nil
}

// WriteDarray writes this task's elements of one record of a variable. values is a
// slice of the Go type matching the variable's type, ordered like the Decomp's indices.
// rec must be 0 for a variable without the unlimited dimension.
func (f *File) WriteDarray(ctx context.Context, varid int, d *Decomp, rec int, values interface{}) error {
	if e := f.checkDarray("WriteDarray", varid, rec, true); e != nil {
		return e
	}
	if !sameShape(d.dims, f.hdr.RecordShape(varid)) {
		return newError(EInval, "WriteDarray", "decomposition of %v does not match variable shape %v", d.dims, f.hdr.RecordShape(varid))
	}
	typ := f.hdr.Vars[varid].Type
	data, n, ok := encodeValues(typ, values)
	var local *Error
	if !ok {
		local = newError(EBadType, "WriteDarray", "%T is not a %s value", values, typ)
	} else if n != len(d.indices) {
		local = newError(EEdge, "WriteDarray", "%d values for %d indices", n, len(d.indices))
	}
	if err := f.sys.agree(ctx, "WriteDarray", local); err != nil {
		return err
	}
	return f.writeElements(ctx, "WriteDarray", varid, rec, d.indices, data, false)
}

// ReadDarray reads this task's elements of one record of a variable, ordered like the
// Decomp's indices, as a slice of the Go type matching the variable's type.
// Elements which were never written hold the type's fill value.
func (f *File) ReadDarray(ctx context.Context, varid int, d *Decomp, rec int) (interface{}, error) {
	if e := f.checkDarray("ReadDarray", varid, rec, false); e != nil {
		return nil, e
	}
	if !sameShape(d.dims, f.hdr.RecordShape(varid)) {
		return nil, newError(EInval, "ReadDarray", "decomposition of %v does not match variable shape %v", d.dims, f.hdr.RecordShape(varid))
	}
	data, err := f.readElements(ctx, "ReadDarray", varid, rec, d.indices, false)
	if err != nil {
		return nil, err
	}
	return DecodeValues(f.hdr.Vars[varid].Type, data), nil
}

// allIndices returns 0..n-1
func allIndices(n int64) []int64 {
	res := make([]int64, n)
	for i := range res {
		res[i] = int64(i)
	}
	return res
}

// PutVar writes a whole variable (one record of it, for a record variable) from the
// values of the first compute task. Every compute task must call it.
func (f *File) PutVar(ctx context.Context, varid int, rec int, values interface{}) error {
	if e := f.checkDarray("PutVar", varid, rec, true); e != nil {
		return e
	}
	typ := f.hdr.Vars[varid].Type
	recLen := f.hdr.RecordLen(varid)
	data, n, ok := encodeValues(typ, values)
	var local *Error
	if !ok {
		local = newError(EBadType, "PutVar", "%T is not a %s value", values, typ)
	} else if int64(n) != recLen {
		local = newError(EEdge, "PutVar", "%d values for a variable of %d elements", n, recLen)
	}
	if err := f.sys.agree(ctx, "PutVar", local); err != nil {
		return err
	}
	var idx []int64
	if f.sys.comp.Rank() == 0 {
		idx = allIndices(recLen)
	} else {
		data = nil
	}
	return f.writeElements(ctx, "PutVar", varid, rec, idx, data, true)
}

// GetVar reads a whole variable (one record of it, for a record variable) on every compute task
func (f *File) GetVar(ctx context.Context, varid int, rec int) (interface{}, error) {
	if e := f.checkDarray("GetVar", varid, rec, false); e != nil {
		return nil, e
	}
	data, err := f.readElements(ctx, "GetVar", varid, rec, allIndices(f.hdr.RecordLen(varid)), true)
	if err != nil {
		return nil, err
	}
	return DecodeValues(f.hdr.Vars[varid].Type, data), nil
}

// Header returns a copy of this File's metadata
func (f *File) Header() *store.Header {
	return f.hdr.Clone()
}
