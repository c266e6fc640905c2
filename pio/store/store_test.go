package store

import (
	"encoding/binary"
	"io/ioutil"
	"math"
	"path/filepath"
	"testing"

	"github.com/go-sif/piotest"
	"github.com/stretchr/testify/require"
)

func testHeader(iotype int) *Header {
	return &Header{
		Format: iotype,
		Dims:   []Dim{{Name: "time", Len: 0}, {Name: "x", Len: 4}},
		Vars: []Var{{
			Name:   "v",
			Type:   Int,
			DimIDs: []int{0, 1},
			Atts:   []Attribute{{Name: "units", Type: Char, Data: []byte("m")}},
		}},
		Atts:    []Attribute{{Name: "title", Type: Char, Data: []byte("t")}},
		NumRecs: 2,
		Shards:  1,
	}
}

func encodeInt32s(values ...int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func TestRegistry(t *testing.T) {
	registered := Registered()
	for i := 1; i < len(registered); i++ {
		require.Less(t, registered[i-1], registered[i])
	}
	for _, iotype := range registered {
		b, ok := Lookup(iotype)
		require.True(t, ok)
		require.NotEmpty(t, b.Name())
	}
	_, ok := Lookup(-1)
	require.False(t, ok)
	if len(registered) > 0 {
		require.Panics(t, func() { Register(registered[0], nil) })
	}
}

func TestRoundTripEveryBackend(t *testing.T) {
	for _, iotype := range Registered() {
		b, _ := Lookup(iotype)
		t.Run(b.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "file.nc")
			h := testHeader(iotype)
			shards := 1
			if b.Parallel() {
				shards = 2
			}
			h.Shards = shards
			for shard := 0; shard < shards; shard++ {
				s, err := b.Create(path, shard, h)
				require.Nil(t, err)
				require.Nil(t, s.Put(0, 1, []int64{int64(shard), int64(shard + 2)}, encodeInt32s(int32(10+shard), int32(20+shard)), 4))
				require.Nil(t, s.Sync())
				require.Nil(t, s.Close())
			}
			require.True(t, Exists(path))

			fill := Int.Fill()
			for shard := 0; shard < shards; shard++ {
				s, err := b.Open(path, shard, false)
				require.Nil(t, err)
				if shard == 0 {
					got, err := s.ReadHeader()
					require.Nil(t, err)
					require.Equal(t, h, got)
				}
				data, err := s.Get(0, 1, []int64{int64(shard + 2), int64(shard), int64(3 - shard*3)}, 4, fill)
				require.Nil(t, err)
				want := append(encodeInt32s(int32(20+shard), int32(10+shard)), fill...)
				require.Equal(t, want, data)
				require.NotNil(t, s.Put(0, 0, []int64{0}, encodeInt32s(1), 4))
				require.Nil(t, s.Close())
			}

			require.Nil(t, b.Remove(path))
			require.False(t, Exists(path))
			_, err := b.Open(path, 0, false)
			require.NotNil(t, err)
		})
	}
}

func TestCreateReplacesExistingFile(t *testing.T) {
	for _, iotype := range Registered() {
		b, _ := Lookup(iotype)
		t.Run(b.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "file.nc")
			s, err := b.Create(path, 0, testHeader(iotype))
			require.Nil(t, err)
			require.Nil(t, s.Put(0, 0, []int64{1}, encodeInt32s(7), 4))
			require.Nil(t, s.Close())

			s, err = b.Create(path, 0, testHeader(iotype))
			require.Nil(t, err)
			data, err := s.Get(0, 0, []int64{1}, 4, Int.Fill())
			require.Nil(t, err)
			require.Equal(t, Int.Fill(), data)
			require.Nil(t, s.Close())
		})
	}
}

func TestSerialBackendsHaveOneShard(t *testing.T) {
	for _, iotype := range Registered() {
		b, _ := Lookup(iotype)
		if b.Parallel() {
			continue
		}
		_, err := b.Create(filepath.Join(t.TempDir(), "file.nc"), 1, testHeader(iotype))
		require.NotNil(t, err)
	}
}

func TestClassicDetectsCorruption(t *testing.T) {
	b, ok := Lookup(int(piotest.IOTypeNetCDF))
	if !ok {
		t.Skip("classic flavor not built")
	}
	path := filepath.Join(t.TempDir(), "file.nc")
	h := testHeader(int(piotest.IOTypeNetCDF))
	h.Mode = Mode64BitOffset
	s, err := b.Create(path, 0, h)
	require.Nil(t, err)
	require.Nil(t, s.Close())

	data, err := ioutil.ReadFile(path)
	require.Nil(t, err)
	require.Equal(t, "CDF\x02", string(data[:4]))

	data[10] ^= 0xff
	require.Nil(t, ioutil.WriteFile(path, data, 0644))
	_, err = b.Open(path, 0, false)
	require.NotNil(t, err)

	require.Nil(t, ioutil.WriteFile(path, []byte("not a netCDF file at all"), 0644))
	_, err = b.Open(path, 0, false)
	require.NotNil(t, err)
}

func TestClassicRejectsForeignFormat(t *testing.T) {
	b, ok := Lookup(int(piotest.IOTypeNetCDF))
	if !ok {
		t.Skip("classic flavor not built")
	}
	path := filepath.Join(t.TempDir(), "file.nc")
	s, err := b.Create(path, 0, testHeader(int(piotest.IOTypeNetCDF4C)))
	require.Nil(t, err)
	require.Nil(t, s.Close())
	_, err = b.Open(path, 0, false)
	require.NotNil(t, err)
}

func TestFillValues(t *testing.T) {
	require.Equal(t, []byte{0}, Char.Fill())
	require.Equal(t, encodeInt32s(FillInt), Int.Fill())
	require.Equal(t, int32(FillInt), int32(binary.LittleEndian.Uint32(Int.Fill())))
	require.Equal(t, int64(FillInt64), int64(binary.LittleEndian.Uint64(Int64.Fill())))
	require.Equal(t, float32(FillFloat), math.Float32frombits(binary.LittleEndian.Uint32(Float.Fill())))
	require.Equal(t, float64(FillDouble), math.Float64frombits(binary.LittleEndian.Uint64(Double.Fill())))
	require.Equal(t, 0, Type(99).Size())
	require.False(t, Type(99).Valid())
}

func TestHeaderHelpers(t *testing.T) {
	h := testHeader(1)
	require.Equal(t, 0, h.UnlimitedDim())
	require.True(t, h.IsRecordVar(0))
	require.Equal(t, []int{4}, h.RecordShape(0))
	require.Equal(t, int64(4), h.RecordLen(0))
	require.Equal(t, 2, h.DimLen(0))
	require.Equal(t, 1, h.FindDim("x"))
	require.Equal(t, -1, h.FindVar("w"))
	require.Equal(t, "units", h.FindAtt(0, "units").Name)
	require.Nil(t, h.FindAtt(-1, "units"))

	c := h.Clone()
	c.Vars[0].Atts[0].Data[0] = 'k'
	c.Dims[1].Len = 5
	require.Equal(t, byte('m'), h.Vars[0].Atts[0].Data[0])
	require.Equal(t, 4, h.Dims[1].Len)
}
