// Package flavor reports which storage flavors of the I/O library this build supports.
package flavor

import (
	"sort"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/errors"
	"github.com/go-sif/piotest/pio"
)

var names = map[piotest.IOType]string{
	piotest.IOTypePNetCDF:  "pnetcdf",
	piotest.IOTypeNetCDF:   "classic",
	piotest.IOTypeNetCDF4C: "serial4",
	piotest.IOTypeNetCDF4P: "parallel4",
}

// Descriptor describes one storage flavor
type Descriptor struct {
	IOType    piotest.IOType
	Name      string
	Available bool
}

// Registry is an immutable snapshot of the storage flavors available to a run
type Registry struct {
	descriptors []Descriptor
	available   []piotest.IOType
}

// Load queries the I/O library for its storage flavors. Availability is fixed
// when the library is built, so every call returns the same result.
func Load() *Registry {
	var descriptors []Descriptor
	for _, iotype := range piotest.KnownIOTypes() {
		descriptors = append(descriptors, Descriptor{IOType: iotype, Name: names[iotype], Available: pio.Available(iotype)})
	}
	return New(descriptors)
}

// New builds a Registry from descriptors, ordered by IOType
func New(descriptors []Descriptor) *Registry {
	r := &Registry{descriptors: append([]Descriptor(nil), descriptors...)}
	sort.Slice(r.descriptors, func(i, j int) bool { return r.descriptors[i].IOType < r.descriptors[j].IOType })
	for _, d := range r.descriptors {
		if d.Available {
			r.available = append(r.available, d.IOType)
		}
	}
	return r
}

// IOTypes returns the available flavors, in iteration order
func (r *Registry) IOTypes() []piotest.IOType {
	return append([]piotest.IOType(nil), r.available...)
}

// Len returns the number of available flavors
func (r *Registry) Len() int {
	return len(r.available)
}

// Descriptors returns every known flavor, available or not
func (r *Registry) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Available returns true if iotype can be used in this build
func (r *Registry) Available(iotype piotest.IOType) bool {
	i := sort.Search(len(r.available), func(i int) bool { return r.available[i] >= iotype })
	return i < len(r.available) && r.available[i] == iotype
}

// Filter returns the available flavors among iotypes, keeping iteration order.
// An empty filter keeps every available flavor.
func (r *Registry) Filter(iotypes []piotest.IOType) []piotest.IOType {
	if len(iotypes) == 0 {
		return r.IOTypes()
	}
	want := make(map[piotest.IOType]bool, len(iotypes))
	for _, t := range iotypes {
		want[t] = true
	}
	var res []piotest.IOType
	for _, t := range r.available {
		if want[t] {
			res = append(res, t)
		}
	}
	return res
}

// GetIOTypes returns the flavors available in this build, in iteration order
func GetIOTypes() []piotest.IOType {
	return Load().IOTypes()
}

// GetIOTypeName returns the name of a known flavor, whether or not it is available
func GetIOTypeName(iotype piotest.IOType) (string, error) {
	name, ok := names[iotype]
	if !ok {
		return "", &errors.FlavorUnavailable{IOType: int(iotype)}
	}
	return name, nil
}

// Parse returns the flavor with the given name
func Parse(name string) (piotest.IOType, error) {
	for iotype, n := range names {
		if n == name {
			return iotype, nil
		}
	}
	return 0, &errors.FlavorUnavailable{Name: name}
}
