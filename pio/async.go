package pio

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
)

// AsyncOptions configure I/O tasks dedicated to serving one or more compute components
type AsyncOptions struct {
	IOProcs    []int   // ranks of the communicator which only do I/O
	Components [][]int // ranks of the communicator in each compute component
	Rearranger piotest.Rearranger
	Logger     log.Logger
}

func ensureDefaultAsyncOptionsValues(opts *AsyncOptions, size int) error {
	if opts.Rearranger == 0 {
		opts.Rearranger = piotest.RearrBox
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Rearranger != piotest.RearrBox && opts.Rearranger != piotest.RearrSubset {
		return newError(EInval, "InitAsync", "unknown rearranger %d", opts.Rearranger)
	}
	if len(opts.IOProcs) == 0 || len(opts.Components) == 0 {
		return newError(EInval, "InitAsync", "need at least one I/O task and one component")
	}
	seen := make(map[int]bool)
	check := func(rank int) error {
		if rank < 0 || rank >= size {
			return newError(EInval, "InitAsync", "rank %d is outside a communicator of %d tasks", rank, size)
		}
		if seen[rank] {
			return newError(EInval, "InitAsync", "rank %d has more than one role", rank)
		}
		seen[rank] = true
		return nil
	}
	for _, rank := range opts.IOProcs {
		if err := check(rank); err != nil {
			return err
		}
	}
	for c, ranks := range opts.Components {
		if len(ranks) == 0 {
			return newError(EInval, "InitAsync", "component %d is empty", c)
		}
		for _, rank := range ranks {
			if err := check(rank); err != nil {
				return err
			}
		}
	}
	return nil
}

func indexOf(ranks []int, rank int) int {
	for i, r := range ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

// InitAsync splits comm into dedicated I/O tasks and compute components.
// Collective over comm. On a compute task it returns that component's IOSystem.
// On an I/O task it runs the service loop and returns a nil IOSystem once
// every component has called Finalize. Tasks with no role return immediately.
func InitAsync(ctx context.Context, comm piotest.Comm, opts *AsyncOptions) (*IOSystem, error) {
	if err := ensureDefaultAsyncOptionsValues(opts, comm.Size()); err != nil {
		return nil, err
	}
	rank := comm.Rank()
	ioIndex := indexOf(opts.IOProcs, rank)
	component, compIndex := -1, -1
	for c, ranks := range opts.Components {
		if i := indexOf(ranks, rank); i >= 0 {
			component, compIndex = c, i
		}
	}
	nIO := len(opts.IOProcs)

	color := piotest.Undefined
	if ioIndex >= 0 {
		color = 0
	}
	ioComm, err := comm.Split(ctx, color, ioIndex)
	if err != nil {
		return nil, commError(err)
	}
	// one union communicator per component: I/O tasks first, then the component's tasks
	unions := make([]piotest.Comm, len(opts.Components))
	for c := range opts.Components {
		color, key := piotest.Undefined, 0
		if ioIndex >= 0 {
			color, key = 0, ioIndex
		} else if component == c {
			color, key = 0, nIO+compIndex
		}
		if unions[c], err = comm.Split(ctx, color, key); err != nil {
			return nil, commError(err)
		}
	}
	color = piotest.Undefined
	if component >= 0 {
		color = component
	}
	compComm, err := comm.Split(ctx, color, compIndex)
	if err != nil {
		return nil, commError(err)
	}

	newSystem := func(c int) *IOSystem {
		s := &IOSystem{
			async:      true,
			component:  c,
			union:      unions[c],
			svc:        comm,
			svcIORoot:  opts.IOProcs[0],
			ioRanks:    make([]int, nIO),
			compRanks:  make([]int, len(opts.Components[c])),
			rearranger: opts.Rearranger,
			logger:     log.With(opts.Logger, "component", c),
		}
		for i := range s.ioRanks {
			s.ioRanks[i] = i
		}
		for i := range s.compRanks {
			s.compRanks[i] = nIO + i
		}
		return s
	}

	switch {
	case component >= 0:
		s := newSystem(component)
		s.comp = compComm
		level.Debug(s.logger).Log("msg", "initialized async compute task", "ioTasks", nIO)
		return s, nil
	case ioIndex >= 0:
		systems := make([]*IOSystem, len(opts.Components))
		for c := range systems {
			systems[c] = newSystem(c)
			systems[c].ioComm = ioComm
			systems[c].io = newIOState()
		}
		return nil, serviceLoop(ctx, ioComm, comm, systems, opts.Logger)
	default:
		return nil, nil
	}
}

// serviceLoop receives requests from every component at the first I/O task,
// broadcasts each to all I/O tasks and serves it, until every component has finalized
func serviceLoop(ctx context.Context, ioComm piotest.Comm, svc piotest.Comm, systems []*IOSystem, logger log.Logger) error {
	remaining := len(systems)
	level.Debug(logger).Log("msg", "I/O service loop started", "components", remaining)
	for remaining > 0 {
		var buf []byte
		var err error
		if ioComm.Rank() == 0 {
			if _, buf, err = svc.Recv(ctx, piotest.AnySource, tagRequest); err != nil {
				return commError(err)
			}
		}
		if buf, err = ioComm.Bcast(ctx, 0, buf); err != nil {
			return commError(err)
		}
		req := &request{}
		if err = decode(buf, req); err != nil {
			return commError(err)
		}
		if req.Component < 0 || req.Component >= len(systems) || systems[req.Component].finalized {
			// a request the compute side cannot have sent; nothing to answer
			level.Error(logger).Log("msg", "dropping request", "op", req.Op, "component", req.Component)
			continue
		}
		s := systems[req.Component]
		if err = s.serve(ctx, req); err != nil {
			return err
		}
		if req.Op == opFinalize {
			s.finalized = true
			remaining--
			level.Debug(logger).Log("msg", "component finalized", "component", req.Component, "remaining", remaining)
		}
	}
	return nil
}
