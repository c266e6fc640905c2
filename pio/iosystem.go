// Package pio is a compact parallel I/O library. Compute tasks hand pieces of
// distributed arrays to a subset of tasks, the I/O tasks, which own the
// storage. In sync mode every task computes and some also do I/O; in async
// mode I/O tasks are dedicated and serve requests from one or more compute
// components until each of them has finalized.
package pio

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/pio/store"
)

// SyncOptions configure an I/O system shared by every task of a communicator
type SyncOptions struct {
	NumIOTasks int                // number of tasks which also do I/O (default: all)
	Stride     int                // distance between consecutive I/O tasks (default: 1)
	Base       int                // rank of the first I/O task
	Rearranger piotest.Rearranger // how data moves to I/O tasks (default: box)
	Logger     log.Logger
}

func ensureDefaultSyncOptionsValues(opts *SyncOptions, size int) error {
	if opts.NumIOTasks == 0 {
		opts.NumIOTasks = size
	}
	if opts.Stride == 0 {
		opts.Stride = 1
	}
	if opts.Rearranger == 0 {
		opts.Rearranger = piotest.RearrBox
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.NumIOTasks < 1 || opts.Stride < 1 || opts.Base < 0 {
		return newError(EInval, "InitSync", "invalid I/O layout: %d tasks, stride %d, base %d", opts.NumIOTasks, opts.Stride, opts.Base)
	}
	if last := opts.Base + (opts.NumIOTasks-1)*opts.Stride; last >= size {
		return newError(EInval, "InitSync", "I/O task %d is outside a communicator of %d tasks", last, size)
	}
	if opts.Rearranger != piotest.RearrBox && opts.Rearranger != piotest.RearrSubset {
		return newError(EInval, "InitSync", "unknown rearranger %d", opts.Rearranger)
	}
	return nil
}

// IOSystem is one task's handle on a group of compute and I/O tasks. Every
// method which takes a context is collective over the compute tasks.
type IOSystem struct {
	async      bool
	component  int
	comp       piotest.Comm // compute tasks; nil on dedicated I/O tasks
	union      piotest.Comm // compute and I/O tasks; the same as comp in sync mode
	svc        piotest.Comm // async only: carries requests to the first I/O task
	svcIORoot  int          // async only: rank of the first I/O task in svc
	ioComm     piotest.Comm // I/O tasks only
	ioRanks    []int        // union rank of each I/O task
	compRanks  []int        // union rank of each compute task
	rearranger piotest.Rearranger
	logger     log.Logger
	io         *ioState // non-nil on I/O tasks
	finalized  bool
}

// InitSync creates an I/O system over every task of comm. Collective over comm.
func InitSync(ctx context.Context, comm piotest.Comm, opts *SyncOptions) (*IOSystem, error) {
	if opts == nil {
		opts = &SyncOptions{}
	}
	if err := ensureDefaultSyncOptionsValues(opts, comm.Size()); err != nil {
		return nil, err
	}
	s := &IOSystem{
		comp:       comm,
		union:      comm,
		ioRanks:    make([]int, opts.NumIOTasks),
		compRanks:  make([]int, comm.Size()),
		rearranger: opts.Rearranger,
		logger:     opts.Logger,
	}
	ioIndex := -1
	for i := range s.ioRanks {
		s.ioRanks[i] = opts.Base + i*opts.Stride
		if s.ioRanks[i] == comm.Rank() {
			ioIndex = i
		}
	}
	for i := range s.compRanks {
		s.compRanks[i] = i
	}
	color := piotest.Undefined
	if ioIndex >= 0 {
		color = 0
	}
	ioComm, err := comm.Split(ctx, color, ioIndex)
	if err != nil {
		return nil, commError(err)
	}
	if ioComm != nil {
		s.ioComm = ioComm
		s.io = newIOState()
	}
	level.Debug(s.logger).Log("msg", "initialized sync I/O system", "ioTasks", opts.NumIOTasks, "rearranger", opts.Rearranger, "ioTask", ioIndex)
	return s, nil
}

// IsIOTask returns true if this task stores data
func (s *IOSystem) IsIOTask() bool {
	return s.io != nil
}

// NumIOTasks returns the number of I/O tasks
func (s *IOSystem) NumIOTasks() int {
	return len(s.ioRanks)
}

// Rearranger returns the rearranger of this IOSystem
func (s *IOSystem) Rearranger() piotest.Rearranger {
	return s.rearranger
}

// CompRank returns the rank of this task among the compute tasks
func (s *IOSystem) CompRank() int {
	return s.comp.Rank()
}

// CompSize returns the number of compute tasks
func (s *IOSystem) CompSize() int {
	return s.comp.Size()
}

// Comm returns the communicator of the compute tasks
func (s *IOSystem) Comm() piotest.Comm {
	return s.comp
}

// Async returns true if I/O tasks are dedicated
func (s *IOSystem) Async() bool {
	return s.async
}

// Finalize closes any file left open and releases the I/O system.
// Calling it twice returns an error.
func (s *IOSystem) Finalize(ctx context.Context) error {
	if s.finalized {
		return newError(EInval, "Finalize", "I/O system already finalized")
	}
	s.finalized = true
	if s.async {
		_, _, err := s.call(ctx, &request{Op: opFinalize}, nil)
		return err
	}
	if s.io != nil {
		s.io.closeAll(s)
	}
	return commError(s.comp.Barrier(ctx))
}

// backendFor returns the storage backend of an iotype, or EBadIOType
func backendFor(op string, iotype piotest.IOType) (store.Backend, *Error) {
	b, ok := store.Lookup(int(iotype))
	if !ok {
		return nil, newError(EBadIOType, op, "storage flavor %d is not available", iotype)
	}
	return b, nil
}

// Available returns true if a storage flavor is compiled into the library
func Available(iotype piotest.IOType) bool {
	_, ok := store.Lookup(int(iotype))
	return ok
}

// numShards returns how many I/O tasks hold a shard of a file stored by b
func (s *IOSystem) numShards(b store.Backend) int {
	if b.Parallel() {
		return len(s.ioRanks)
	}
	return 1
}

// route returns the I/O task which stores element gidx of a record of recLen elements,
// on behalf of compute task compRank
func route(rearr piotest.Rearranger, numShards int, compRank int, gidx int64, recLen int64) int {
	if numShards <= 1 {
		return 0
	}
	if rearr == piotest.RearrSubset {
		return compRank % numShards
	}
	// box: contiguous blocks, the first recLen%numShards of them one element longer
	n := int64(numShards)
	q, r := recLen/n, recLen%n
	if gidx < r*(q+1) {
		return int(gidx / (q + 1))
	}
	if q == 0 {
		return int(r)
	}
	return int(r + (gidx-r*(q+1))/q)
}

func (s *IOSystem) String() string {
	mode := piotest.ModeSync
	if s.async {
		mode = piotest.ModeAsync
	}
	return fmt.Sprintf("IOSystem(%s, %s, %d I/O tasks)", mode, s.rearranger, len(s.ioRanks))
}
