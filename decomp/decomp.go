// Package decomp computes which global array elements each rank owns.
package decomp

import (
	"fmt"

	"github.com/go-sif/piotest/errors"
)

// Map is the sequence of global index positions owned by one rank.
// Positions are 0-based and row-major over Shape.
type Map struct {
	Shape   []int
	Rank    int
	NTasks  int
	Indices []int64
}

// Len returns the number of elements owned by this rank
func (m *Map) Len() int {
	return len(m.Indices)
}

// GlobalLen returns the number of elements in the whole array
func (m *Map) GlobalLen() int64 {
	return Product(m.Shape)
}

// Product multiplies the extents of shape
func Product(shape []int) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= int64(d)
	}
	return n
}

// Partition splits extent elements as evenly as possible over ntasks, returning the
// first element and element count of rank. The first extent%ntasks ranks receive one extra element.
func Partition(extent int, ntasks int, rank int) (start int, count int) {
	base := extent / ntasks
	extra := extent % ntasks
	if rank < extra {
		return rank * (base + 1), base + 1
	}
	return extra*(base+1) + (rank-extra)*base, base
}

func validate(shape []int, ntasks int, rank int) error {
	if len(shape) < 1 || len(shape) > 2 {
		return &errors.DecompositionRangeError{Shape: shape, NTasks: ntasks, Rank: rank, Reason: fmt.Sprintf("%d dimensions, expected 1 or 2", len(shape))}
	}
	for _, d := range shape {
		if d < 1 {
			return &errors.DecompositionRangeError{Shape: shape, NTasks: ntasks, Rank: rank, Reason: "extents must be positive"}
		}
	}
	if ntasks < 1 {
		return &errors.DecompositionRangeError{Shape: shape, NTasks: ntasks, Rank: rank, Reason: "at least one task is required"}
	}
	if rank < 0 || rank >= ntasks {
		return &errors.DecompositionRangeError{Shape: shape, NTasks: ntasks, Rank: rank, Reason: "rank is out of range"}
	}
	return nil
}

// Build computes the Map of rank for a 1D or 2D shape decomposed over ntasks.
// A 2D shape is split along its first axis only, so every rank owns whole rows.
// Ranks beyond the extent of the split axis receive an empty Map.
func Build(shape []int, ntasks int, rank int) (*Map, error) {
	if err := validate(shape, ntasks, rank); err != nil {
		return nil, err
	}
	rowLen := int64(1)
	if len(shape) == 2 {
		rowLen = int64(shape[1])
	}
	start, count := Partition(shape[0], ntasks, rank)
	indices := make([]int64, 0, int64(count)*rowLen)
	first := int64(start) * rowLen
	for i := int64(0); i < int64(count)*rowLen; i++ {
		indices = append(indices, first+i)
	}
	return &Map{
		Shape:   append([]int(nil), shape...),
		Rank:    rank,
		NTasks:  ntasks,
		Indices: indices,
	}, nil
}

// Lengths returns the number of elements each rank owns for a shape decomposed over ntasks
func Lengths(shape []int, ntasks int) ([]int, error) {
	if err := validate(shape, ntasks, 0); err != nil {
		return nil, err
	}
	rowLen := 1
	if len(shape) == 2 {
		rowLen = shape[1]
	}
	res := make([]int, ntasks)
	for r := range res {
		_, count := Partition(shape[0], ntasks, r)
		res[r] = count * rowLen
	}
	return res, nil
}

// Covers checks that maps own every element of shape exactly once
func Covers(maps []*Map, shape []int) error {
	total := Product(shape)
	owner := make(map[int64]int, total)
	for _, m := range maps {
		for _, idx := range m.Indices {
			if idx < 0 || idx >= total {
				return fmt.Errorf("rank %d owns index %d outside [0, %d)", m.Rank, idx, total)
			}
			if prev, dup := owner[idx]; dup {
				return fmt.Errorf("index %d is owned by ranks %d and %d", idx, prev, m.Rank)
			}
			owner[idx] = m.Rank
		}
	}
	if int64(len(owner)) != total {
		return fmt.Errorf("%d of %d indices are owned", len(owner), total)
	}
	return nil
}
