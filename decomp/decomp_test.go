package decomp

import (
	"testing"

	"github.com/go-sif/piotest/errors"
	"github.com/stretchr/testify/require"
)

func buildAll(t *testing.T, shape []int, ntasks int) []*Map {
	maps := make([]*Map, ntasks)
	for r := range maps {
		m, err := Build(shape, ntasks, r)
		require.Nil(t, err)
		maps[r] = m
	}
	return maps
}

func TestSixteenOverThree(t *testing.T) {
	maps := buildAll(t, []int{16}, 3)
	require.Equal(t, 6, maps[0].Len())
	require.Equal(t, 5, maps[1].Len())
	require.Equal(t, 5, maps[2].Len())
	require.Equal(t, []int64{0, 1, 2, 3, 4, 5}, maps[0].Indices)
	require.Equal(t, []int64{11, 12, 13, 14, 15}, maps[2].Indices)
	lengths, err := Lengths([]int{16}, 3)
	require.Nil(t, err)
	require.Equal(t, []int{6, 5, 5}, lengths)
}

func TestPartitionCompletenessAndBalance(t *testing.T) {
	shapes := [][]int{{1}, {7}, {16}, {100}, {4, 4}, {3, 5}, {10, 1}, {1, 9}}
	for _, shape := range shapes {
		for ntasks := 1; ntasks <= 12; ntasks++ {
			maps := buildAll(t, shape, ntasks)
			require.Nil(t, Covers(maps, shape), "shape %v over %d tasks", shape, ntasks)

			// the first axis is split evenly: row counts differ by at most one,
			// which is one element for a 1D shape
			rowLen := 1
			if len(shape) == 2 {
				rowLen = shape[1]
			}
			lo, hi := maps[0].Len()/rowLen, maps[0].Len()/rowLen
			for _, m := range maps {
				require.Zero(t, m.Len()%rowLen, "shape %v over %d tasks holds a partial row", shape, ntasks)
				rows := m.Len() / rowLen
				if rows < lo {
					lo = rows
				}
				if rows > hi {
					hi = rows
				}
			}
			require.LessOrEqual(t, hi-lo, 1, "shape %v over %d tasks", shape, ntasks)
		}
	}
}

func TestMoreTasksThanElements(t *testing.T) {
	maps := buildAll(t, []int{2, 3}, 4)
	require.Equal(t, []int64{0, 1, 2}, maps[0].Indices)
	require.Equal(t, []int64{3, 4, 5}, maps[1].Indices)
	require.Equal(t, 0, maps[2].Len())
	require.Equal(t, 0, maps[3].Len())
	require.NotNil(t, maps[3].Indices)
	require.Nil(t, Covers(maps, []int{2, 3}))
	require.Equal(t, int64(6), maps[3].GlobalLen())
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		shape  []int
		ntasks int
		rank   int
	}{
		{[]int{}, 1, 0},
		{[]int{2, 2, 2}, 1, 0},
		{[]int{0}, 1, 0},
		{[]int{4, -1}, 1, 0},
		{[]int{4}, 0, 0},
		{[]int{4}, 2, 2},
		{[]int{4}, 2, -1},
	}
	for _, c := range cases {
		_, err := Build(c.shape, c.ntasks, c.rank)
		require.NotNil(t, err, "%v", c)
		require.Equal(t, errors.ErrWrong, errors.Code(err))
	}
}

func TestCoversDetectsProblems(t *testing.T) {
	a := &Map{Rank: 0, Indices: []int64{0, 1}}
	b := &Map{Rank: 1, Indices: []int64{1, 2}}
	require.NotNil(t, Covers([]*Map{a, b}, []int{3}))
	c := &Map{Rank: 1, Indices: []int64{2}}
	require.NotNil(t, Covers([]*Map{a, c}, []int{4}))
	d := &Map{Rank: 1, Indices: []int64{2, 9}}
	require.NotNil(t, Covers([]*Map{a, d}, []int{3}))
	require.Nil(t, Covers([]*Map{a, c}, []int{3}))
}
