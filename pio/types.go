package pio

import (
	"encoding/binary"
	"math"

	"github.com/go-sif/piotest/pio/store"
)

// Type is the external data type of a variable or attribute
type Type = store.Type

// Supported external types
const (
	Char   = store.Char
	Int    = store.Int
	Float  = store.Float
	Double = store.Double
	Int64  = store.Int64
)

// Attribute is a named array of values attached to a file or variable
type Attribute = store.Attribute

// GlobalAtt addresses the attributes of the file itself rather than of a variable
const GlobalAtt = -1

// Creation mode flags
const (
	ModeClobber     = 0x0
	ModeNoClobber   = 0x4
	Mode64BitOffset = store.Mode64BitOffset
)

// encodeValues converts a slice (or single value) of the Go type matching typ
// into little-endian bytes, returning the number of elements
func encodeValues(typ Type, values interface{}) ([]byte, int, bool) {
	switch typ {
	case Char:
		switch v := values.(type) {
		case string:
			return []byte(v), len(v), true
		case []byte:
			return append([]byte(nil), v...), len(v), true
		}
	case Int:
		switch v := values.(type) {
		case int32:
			return encodeInt32s([]int32{v}), 1, true
		case []int32:
			return encodeInt32s(v), len(v), true
		}
	case Float:
		switch v := values.(type) {
		case float32:
			return encodeFloat32s([]float32{v}), 1, true
		case []float32:
			return encodeFloat32s(v), len(v), true
		}
	case Double:
		switch v := values.(type) {
		case float64:
			return encodeFloat64s([]float64{v}), 1, true
		case []float64:
			return encodeFloat64s(v), len(v), true
		}
	case Int64:
		switch v := values.(type) {
		case int64:
			return encodeInt64s([]int64{v}), 1, true
		case []int64:
			return encodeInt64s(v), len(v), true
		}
	}
	return nil, 0, false
}

// DecodeValues converts little-endian bytes into a slice of the Go type matching typ:
// string for Char, []int32 for Int, []float32 for Float, []float64 for Double and []int64 for Int64
func DecodeValues(typ Type, data []byte) interface{} {
	switch typ {
	case Char:
		return string(data)
	case Int:
		res := make([]int32, len(data)/4)
		for i := range res {
			res[i] = int32(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return res
	case Float:
		res := make([]float32, len(data)/4)
		for i := range res {
			res[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return res
	case Double:
		res := make([]float64, len(data)/8)
		for i := range res {
			res[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
		}
		return res
	case Int64:
		res := make([]int64, len(data)/8)
		for i := range res {
			res[i] = int64(binary.LittleEndian.Uint64(data[8*i:]))
		}
		return res
	default:
		return nil
	}
}

func encodeInt32s(values []int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func encodeFloat32s(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func encodeFloat64s(values []float64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func encodeInt64s(values []int64) []byte {
	buf := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[8*i:], uint64(v))
	}
	return buf
}
