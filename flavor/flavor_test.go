package flavor

import (
	"testing"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/pio"
	"github.com/stretchr/testify/require"
)

func TestLoadIsIdempotent(t *testing.T) {
	first := Load()
	for i := 0; i < 3; i++ {
		require.Equal(t, first.IOTypes(), Load().IOTypes())
		require.Equal(t, first.Descriptors(), Load().Descriptors())
	}
	require.Equal(t, first.IOTypes(), GetIOTypes())
}

func TestDescriptorsMatchLibrary(t *testing.T) {
	r := Load()
	descriptors := r.Descriptors()
	require.Len(t, descriptors, piotest.NumFlavors)
	count := 0
	for i, d := range descriptors {
		require.Equal(t, piotest.KnownIOTypes()[i], d.IOType)
		require.Equal(t, pio.Available(d.IOType), d.Available)
		require.Equal(t, d.Available, r.Available(d.IOType))
		if d.Available {
			count++
		}
	}
	require.Equal(t, count, r.Len())
	// availability never reports a flavor the library cannot open
	for _, iotype := range r.IOTypes() {
		require.True(t, pio.Available(iotype))
	}
}

func TestOrderIsFixed(t *testing.T) {
	iotypes := GetIOTypes()
	for i := 1; i < len(iotypes); i++ {
		require.Less(t, int(iotypes[i-1]), int(iotypes[i]))
	}
}

func TestNames(t *testing.T) {
	for _, iotype := range piotest.KnownIOTypes() {
		name, err := GetIOTypeName(iotype)
		require.Nil(t, err)
		parsed, err := Parse(name)
		require.Nil(t, err)
		require.Equal(t, iotype, parsed)
	}
	name, err := GetIOTypeName(piotest.IOTypeNetCDF)
	require.Nil(t, err)
	require.Equal(t, "classic", name)

	_, err = GetIOTypeName(99)
	require.NotNil(t, err)
	require.Equal(t, errors.EBadIOType, errors.Code(err))
	_, err = Parse("hdf6")
	require.True(t, errors.IsFlavorUnavailable(err))
}

func TestFilter(t *testing.T) {
	r := Load()
	require.Equal(t, r.IOTypes(), r.Filter(nil))
	require.Empty(t, r.Filter([]piotest.IOType{99}))
	if r.Available(piotest.IOTypeNetCDF) {
		require.Equal(t, []piotest.IOType{piotest.IOTypeNetCDF}, r.Filter([]piotest.IOType{99, piotest.IOTypeNetCDF}))
	}
}

func TestNewOrdersByIOType(t *testing.T) {
	r := New([]Descriptor{
		{IOType: piotest.IOTypeNetCDF4P, Name: "parallel4", Available: true},
		{IOType: piotest.IOTypeNetCDF4C, Name: "serial4"},
		{IOType: piotest.IOTypePNetCDF, Name: "pnetcdf", Available: true},
	})
	require.Equal(t, []piotest.IOType{piotest.IOTypePNetCDF, piotest.IOTypeNetCDF4P}, r.IOTypes())
	require.Equal(t, "serial4", r.Descriptors()[1].Name)
	require.True(t, r.Available(piotest.IOTypeNetCDF4P))
	require.False(t, r.Available(piotest.IOTypeNetCDF4C))
	require.Equal(t, []piotest.IOType{piotest.IOTypeNetCDF4P}, r.Filter([]piotest.IOType{piotest.IOTypeNetCDF4P, piotest.IOTypeNetCDF4C}))
}
