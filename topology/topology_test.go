package topology

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/comm"
	"github.com/go-sif/piotest/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func runWorld(t *testing.T, size int, fn func(ctx context.Context, c piotest.Comm) error) error {
	world := comm.NewLocalWorld(size)
	defer world.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return world.Run(ctx, fn)
}

func TestTooFewTasks(t *testing.T) {
	defer goleak.VerifyNone(t)
	err := runWorld(t, 2, func(ctx context.Context, c piotest.Comm) error {
		_, err := Init(ctx, c, Options{MinTasks: 4})
		return err
	})
	require.NotNil(t, err)
	require.Equal(t, errors.ErrInit, errors.Code(err))
	require.True(t, errors.IsFatal(err))
}

func TestOversubscription(t *testing.T) {
	defer goleak.VerifyNone(t)
	var lock sync.Mutex
	members := make(map[int]int)
	err := runWorld(t, 6, func(ctx context.Context, c piotest.Comm) error {
		p, err := Init(ctx, c, Options{MinTasks: 2, MaxTasks: 4})
		if err != nil {
			return err
		}
		if p.InTest {
			if err = p.Comm.Barrier(ctx); err != nil {
				return err
			}
			lock.Lock()
			members[c.Rank()] = p.Rank
			lock.Unlock()
			if p.Size != 4 {
				return fmt.Errorf("pool of %d ranks", p.Size)
			}
		} else if p.Comm != nil {
			return fmt.Errorf("rank %d is out of the test but has a communicator", c.Rank())
		}
		return p.Finalize(ctx)
	})
	require.Nil(t, err)
	require.Equal(t, map[int]int{0: 0, 1: 1, 2: 2, 3: 3}, members)
}

func TestInitExactAndFinalizeTwice(t *testing.T) {
	defer goleak.VerifyNone(t)
	err := runWorld(t, 3, func(ctx context.Context, c piotest.Comm) error {
		p, err := InitExact(ctx, c, 3)
		if err != nil {
			return err
		}
		if !p.InTest || p.Rank != c.Rank() {
			return fmt.Errorf("rank %d placed at %d", c.Rank(), p.Rank)
		}
		if err = p.Finalize(ctx); err != nil {
			return err
		}
		if code := errors.Code(p.Finalize(ctx)); code != errors.ErrMPI {
			return fmt.Errorf("second finalize returned code %d", code)
		}
		return nil
	})
	require.Nil(t, err)
}

func TestNoUpperBound(t *testing.T) {
	defer goleak.VerifyNone(t)
	err := runWorld(t, 5, func(ctx context.Context, c piotest.Comm) error {
		p, err := Init(ctx, c, Options{})
		if err != nil {
			return err
		}
		if !p.InTest || p.Size != 5 {
			return fmt.Errorf("rank %d: pool of %d ranks", c.Rank(), p.Size)
		}
		return p.Finalize(ctx)
	})
	require.Nil(t, err)
}

func TestAssignRoles(t *testing.T) {
	r, err := AssignRoles(5, 2, 1)
	require.Nil(t, err)
	require.Equal(t, []int{0}, r.IO)
	require.Equal(t, [][]int{{1, 2}, {3, 4}}, r.Components)
	require.True(t, r.IsIO(0))
	require.Equal(t, -1, r.Component(0))
	require.Equal(t, 1, r.Component(4))

	r, err = AssignRoles(10, 3, 2)
	require.Nil(t, err)
	require.Equal(t, [][]int{{2, 3, 4}, {5, 6, 7}, {8, 9}}, r.Components)

	// roles are disjoint and exhaustive
	for size := 2; size <= 9; size++ {
		for io := 1; io < size; io++ {
			for comps := 1; comps+io <= size; comps++ {
				r, err := AssignRoles(size, comps, io)
				require.Nil(t, err)
				seen := make(map[int]bool)
				for _, rank := range r.IO {
					seen[rank] = true
				}
				for _, ranks := range r.Components {
					require.NotEmpty(t, ranks)
					for _, rank := range ranks {
						require.False(t, seen[rank])
						seen[rank] = true
					}
				}
				require.Len(t, seen, size)
			}
		}
	}

	for _, bad := range [][3]int{{4, 0, 1}, {4, 1, 0}, {4, 3, 2}} {
		_, err = AssignRoles(bad[0], bad[1], bad[2])
		require.Equal(t, errors.ErrInit, errors.Code(err))
	}
}
