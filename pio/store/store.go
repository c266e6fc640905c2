// Package store persists the files of the parallel I/O library. Each storage
// flavor is a Backend which registers itself at init time; a flavor whose
// build tag excludes it is simply absent from the registry.
package store

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/docker/docker/pkg/locker"
)

// Store is one shard of an open file. Serial flavors have a single shard
// owned by the first I/O task; parallel flavors have one shard per I/O task.
type Store interface {
	// WriteHeader persists the file metadata. Only shard 0 holds a header.
	WriteHeader(h *Header) error
	// ReadHeader loads the file metadata persisted by WriteHeader
	ReadHeader() (*Header, error)
	// Put stores one element of elemSize bytes per index
	Put(varid int, rec int, idx []int64, data []byte, elemSize int) error
	// Get loads one element per index, substituting fill for elements never written
	Get(varid int, rec int, idx []int64, elemSize int, fill []byte) ([]byte, error)
	// Sync flushes everything written so far to stable storage
	Sync() error
	// Close flushes and releases the shard
	Close() error
}

// Backend creates, opens and removes files of one storage flavor
type Backend interface {
	// Name returns the short flavor name, e.g. "classic"
	Name() string
	// Parallel returns true if every I/O task owns a shard of the file
	Parallel() bool
	// Create makes a new, empty shard, replacing any previous one
	Create(path string, shard int, h *Header) (Store, error)
	// Open opens an existing shard
	Open(path string, shard int, write bool) (Store, error)
	// Remove deletes a whole file, including every shard
	Remove(path string) error
}

var (
	registryLock sync.RWMutex
	registry     = make(map[int]Backend)
	pathLocks    = locker.New()
)

// Register makes a Backend available for an iotype. Registering an iotype twice panics.
func Register(iotype int, b Backend) {
	registryLock.Lock()
	defer registryLock.Unlock()
	if _, exists := registry[iotype]; exists {
		panic(fmt.Sprintf("storage flavor %d registered twice", iotype))
	}
	registry[iotype] = b
}

// Lookup returns the Backend registered for an iotype
func Lookup(iotype int) (Backend, bool) {
	registryLock.RLock()
	defer registryLock.RUnlock()
	b, ok := registry[iotype]
	return b, ok
}

// Registered lists the iotypes with a Backend, in ascending order
func Registered() []int {
	registryLock.RLock()
	defer registryLock.RUnlock()
	res := make([]int, 0, len(registry))
	for iotype := range registry {
		res = append(res, iotype)
	}
	sort.Ints(res)
	return res
}

// lockPath serializes structural changes (create, remove) to one path within this process
func lockPath(path string) func() {
	pathLocks.Lock(path)
	return func() {
		pathLocks.Unlock(path)
	}
}

// removeAll deletes path whether it is a file or a directory
func removeAll(path string) error {
	defer lockPath(path)()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("unable to remove %s: %v", path, err)
	}
	return nil
}

// Exists returns true if something is stored at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
