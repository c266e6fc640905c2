package piotest

// IOType identifies a storage flavor of the parallel I/O library
type IOType int

// Known storage flavors, in the order tests iterate them
const (
	IOTypePNetCDF  IOType = 1 // parallel classic format
	IOTypeNetCDF   IOType = 2 // serial classic format
	IOTypeNetCDF4C IOType = 3 // serial netCDF-4 (compressed)
	IOTypeNetCDF4P IOType = 4 // parallel netCDF-4
)

// NumFlavors is the number of storage flavors the I/O library knows about
const NumFlavors = 4

// KnownIOTypes lists every storage flavor, available or not, in iteration order
func KnownIOTypes() []IOType {
	return []IOType{IOTypePNetCDF, IOTypeNetCDF, IOTypeNetCDF4C, IOTypeNetCDF4P}
}

// Rearranger selects how the I/O library moves data between compute and I/O ranks
type Rearranger int

const (
	// RearrBox assigns contiguous blocks of the global index space to each I/O rank
	RearrBox Rearranger = 1
	// RearrSubset assigns each compute rank to a single I/O rank
	RearrSubset Rearranger = 2
)

// String returns the name of this Rearranger
func (r Rearranger) String() string {
	switch r {
	case RearrBox:
		return "box"
	case RearrSubset:
		return "subset"
	default:
		return "unknown"
	}
}
