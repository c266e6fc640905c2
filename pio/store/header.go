package store

import (
	"encoding/binary"
	"math"
)

// Type is the external data type of a variable or attribute
type Type int

// Supported external types, numbered as in the netCDF data model
const (
	Char   Type = 2
	Int    Type = 4
	Float  Type = 5
	Double Type = 6
	Int64  Type = 10
)

// Fill values for elements which were never written
const (
	FillChar   = 0
	FillInt    = -2147483647
	FillFloat  = float32(9.9692099683868690e+36)
	FillDouble = 9.9692099683868690e+36
	FillInt64  = -9223372036854775806
)

// Size returns the number of bytes in one element of this Type, or 0 if it is unknown
func (t Type) Size() int {
	switch t {
	case Char:
		return 1
	case Int, Float:
		return 4
	case Double, Int64:
		return 8
	default:
		return 0
	}
}

// Valid returns true for a supported Type
func (t Type) Valid() bool {
	return t.Size() > 0
}

// String returns the name of this Type
func (t Type) String() string {
	switch t {
	case Char:
		return "char"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	case Int64:
		return "int64"
	default:
		return "unknown"
	}
}

// Fill returns the little-endian encoding of this Type's fill value
func (t Type) Fill() []byte {
	buf := make([]byte, t.Size())
	switch t {
	case Int:
		fill := int32(FillInt)
		binary.LittleEndian.PutUint32(buf, uint32(fill))
	case Float:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(FillFloat))
	case Double:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(FillDouble))
	case Int64:
		fill := int64(FillInt64)
		binary.LittleEndian.PutUint64(buf, uint64(fill))
	}
	return buf
}

// Mode64BitOffset selects the 64-bit offset variant of the classic format
const Mode64BitOffset = 0x200

// Dim is a named dimension. A Len of 0 marks the unlimited (record) dimension.
type Dim struct {
	Name string
	Len  int
}

// Attribute is a named array of values, encoded little-endian
type Attribute struct {
	Name string
	Type Type
	Data []byte
}

// Var is a named, typed variable over a list of dimensions
type Var struct {
	Name   string
	Type   Type
	DimIDs []int
	Atts   []Attribute
}

// Header is the metadata of a file
type Header struct {
	Format     int // iotype which created the file
	Mode       int // creation mode flags
	Dims       []Dim
	Vars       []Var
	Atts       []Attribute
	NumRecs    int // current length of the unlimited dimension
	Shards     int // number of shards holding variable data
	Rearranger int // rearranger which assigned elements to shards
}

// Clone returns a deep copy of this Header
func (h *Header) Clone() *Header {
	res := *h
	res.Dims = append([]Dim(nil), h.Dims...)
	res.Atts = cloneAtts(h.Atts)
	if h.Vars == nil {
		return &res
	}
	res.Vars = make([]Var, len(h.Vars))
	for i, v := range h.Vars {
		res.Vars[i] = Var{
			Name:   v.Name,
			Type:   v.Type,
			DimIDs: append([]int(nil), v.DimIDs...),
			Atts:   cloneAtts(v.Atts),
		}
	}
	return &res
}

func cloneAtts(atts []Attribute) []Attribute {
	if atts == nil {
		return nil
	}
	res := make([]Attribute, len(atts))
	for i, a := range atts {
		res[i] = Attribute{Name: a.Name, Type: a.Type, Data: append([]byte(nil), a.Data...)}
	}
	return res
}

// UnlimitedDim returns the id of the unlimited dimension, or -1 if there is none
func (h *Header) UnlimitedDim() int {
	for i, d := range h.Dims {
		if d.Len == 0 {
			return i
		}
	}
	return -1
}

// DimLen returns the current length of a dimension, which for the unlimited dimension is NumRecs
func (h *Header) DimLen(dimid int) int {
	if h.Dims[dimid].Len == 0 {
		return h.NumRecs
	}
	return h.Dims[dimid].Len
}

// IsRecordVar returns true if a variable's first dimension is the unlimited dimension
func (h *Header) IsRecordVar(varid int) bool {
	v := h.Vars[varid]
	return len(v.DimIDs) > 0 && h.Dims[v.DimIDs[0]].Len == 0
}

// RecordShape returns the lengths of a variable's dimensions, excluding the record dimension
func (h *Header) RecordShape(varid int) []int {
	dimids := h.Vars[varid].DimIDs
	if h.IsRecordVar(varid) {
		dimids = dimids[1:]
	}
	shape := make([]int, len(dimids))
	for i, id := range dimids {
		shape[i] = h.Dims[id].Len
	}
	return shape
}

// RecordLen returns the number of elements in one record of a variable (1 for a scalar)
func (h *Header) RecordLen(varid int) int64 {
	n := int64(1)
	for _, l := range h.RecordShape(varid) {
		n *= int64(l)
	}
	return n
}

// FindDim returns the id of a dimension by name, or -1
func (h *Header) FindDim(name string) int {
	for i, d := range h.Dims {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// FindVar returns the id of a variable by name, or -1
func (h *Header) FindVar(name string) int {
	for i, v := range h.Vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// FindAtt returns an attribute of a variable (or of the file, for varid -1), or nil
func (h *Header) FindAtt(varid int, name string) *Attribute {
	atts := h.Atts
	if varid >= 0 {
		atts = h.Vars[varid].Atts
	}
	for i := range atts {
		if atts[i].Name == name {
			return &atts[i]
		}
	}
	return nil
}
