// Package topology establishes the worker pool of a test run and assigns roles to its ranks.
package topology

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/decomp"
	"github.com/go-sif/piotest/errors"
)

// Options bound the size of the worker pool
type Options struct {
	MinTasks int // the world must have at least this many ranks (default: 1)
	MaxTasks int // ranks beyond this many sit the test out (0: no limit)
	Logger   log.Logger
}

func ensureDefaultOptionsValues(opts *Options) {
	if opts.MinTasks == 0 {
		opts.MinTasks = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
}

// Pool is one rank's view of the worker pool. Ranks which are not InTest have no
// Comm; they perform no I/O and only take part in Finalize.
type Pool struct {
	World     piotest.Comm
	Comm      piotest.Comm // the in-test ranks, nil if !InTest
	Rank      int          // rank within Comm
	Size      int          // size of Comm
	InTest    bool
	finalized bool
}

// Init establishes the worker pool. Collective over world. A world smaller than
// MinTasks fails on every rank before any communication.
func Init(ctx context.Context, world piotest.Comm, opts Options) (*Pool, error) {
	ensureDefaultOptionsValues(&opts)
	size := world.Size()
	if size < opts.MinTasks || opts.MinTasks < 1 || opts.MaxTasks < 0 || (opts.MaxTasks > 0 && opts.MaxTasks < opts.MinTasks) {
		return nil, &errors.TopologyError{Size: size, Min: opts.MinTasks, Max: opts.MaxTasks}
	}
	inTest := size
	if opts.MaxTasks > 0 && opts.MaxTasks < size {
		inTest = opts.MaxTasks
	}
	color := piotest.Undefined
	if world.Rank() < inTest {
		color = 0
	}
	c, err := world.Split(ctx, color, world.Rank())
	if err != nil {
		return nil, &errors.CommError{Err: err}
	}
	p := &Pool{World: world, Comm: c, InTest: c != nil, Rank: -1}
	if p.InTest {
		p.Rank, p.Size = c.Rank(), c.Size()
	}
	level.Debug(opts.Logger).Log("msg", "worker pool established", "worldSize", size, "inTest", inTest, "member", p.InTest)
	return p, nil
}

// InitExact establishes a worker pool of exactly n ranks
func InitExact(ctx context.Context, world piotest.Comm, n int) (*Pool, error) {
	return Init(ctx, world, Options{MinTasks: n, MaxTasks: n})
}

// Finalize waits for every rank of the world, in or out of the test. It may
// only be called once.
func (p *Pool) Finalize(ctx context.Context) error {
	if p.finalized {
		return &errors.FinalizationError{Reason: "worker pool already finalized"}
	}
	p.finalized = true
	if err := p.World.Barrier(ctx); err != nil {
		return &errors.FinalizationError{Reason: err.Error()}
	}
	return nil
}

// Roles divides a pool between dedicated I/O ranks and compute components
type Roles struct {
	IO         []int
	Components [][]int
}

// AssignRoles gives the first numIOProcs ranks of a pool of size ranks the I/O
// role, and splits the rest into componentCount contiguous, balanced components
func AssignRoles(size int, componentCount int, numIOProcs int) (*Roles, error) {
	if componentCount < 1 || numIOProcs < 1 || componentCount+numIOProcs > size {
		return nil, &errors.TopologyError{
			Size:   size,
			Reason: fmt.Sprintf("cannot place %d I/O ranks and %d components", numIOProcs, componentCount),
		}
	}
	r := &Roles{IO: make([]int, numIOProcs), Components: make([][]int, componentCount)}
	for i := range r.IO {
		r.IO[i] = i
	}
	for c := range r.Components {
		start, count := decomp.Partition(size-numIOProcs, componentCount, c)
		r.Components[c] = make([]int, count)
		for i := range r.Components[c] {
			r.Components[c][i] = numIOProcs + start + i
		}
	}
	return r, nil
}

// Component returns the component of rank, or -1 for an I/O rank
func (r *Roles) Component(rank int) int {
	for c, ranks := range r.Components {
		for _, member := range ranks {
			if member == rank {
				return c
			}
		}
	}
	return -1
}

// IsIO returns true if rank is a dedicated I/O rank
func (r *Roles) IsIO(rank int) bool {
	for _, member := range r.IO {
		if member == rank {
			return true
		}
	}
	return false
}
