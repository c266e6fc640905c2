package comm

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/go-sif/piotest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSendRecvPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	world := NewLocalWorld(2)
	defer world.Close()
	err := world.Run(context.Background(), func(ctx context.Context, c piotest.Comm) error {
		if c.Rank() == 0 {
			for i := 0; i < 10; i++ {
				if err := c.Send(ctx, 1, 7, EncodeInts(i)); err != nil {
					return err
				}
			}
			return nil
		}
		for i := 0; i < 10; i++ {
			src, buf, err := c.Recv(ctx, piotest.AnySource, 7)
			if err != nil {
				return err
			}
			vs, err := DecodeInts(buf)
			if err != nil {
				return err
			}
			if src != 0 || vs[0] != i {
				return fmt.Errorf("expected message %d from 0, got %d from %d", i, vs[0], src)
			}
		}
		return nil
	})
	require.Nil(t, err)
	require.Equal(t, 0, world.Pending())
}

func TestReservedTags(t *testing.T) {
	world := NewLocalWorld(1)
	defer world.Close()
	c := world.Comm(0)
	require.NotNil(t, c.Send(context.Background(), 0, tagBcast, nil))
	_, _, err := c.Recv(context.Background(), 0, tagBcast)
	require.NotNil(t, err)
}

func TestCollectives(t *testing.T) {
	defer goleak.VerifyNone(t)
	const size = 5
	world := NewLocalWorld(size)
	defer world.Close()
	var lock sync.Mutex
	sums := make(map[int]int)
	err := world.Run(context.Background(), func(ctx context.Context, c piotest.Comm) error {
		if err := c.Barrier(ctx); err != nil {
			return err
		}
		data, err := c.Bcast(ctx, 2, []byte("hello"))
		if err != nil {
			return err
		}
		if string(data) != "hello" {
			return fmt.Errorf("rank %d received %q", c.Rank(), data)
		}
		parts, err := c.Gather(ctx, 0, EncodeInts(c.Rank()*10))
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			for r, p := range parts {
				vs, _ := DecodeInts(p)
				if vs[0] != r*10 {
					return fmt.Errorf("gathered %d from rank %d", vs[0], r)
				}
			}
		} else if parts != nil {
			return fmt.Errorf("non-root rank %d received gathered data", c.Rank())
		}
		sum, err := c.AllreduceInt(ctx, c.Rank(), piotest.ReduceSum)
		if err != nil {
			return err
		}
		lock.Lock()
		sums[c.Rank()] = sum
		lock.Unlock()
		return c.Barrier(ctx)
	})
	require.Nil(t, err)
	for r := 0; r < size; r++ {
		require.Equal(t, 10, sums[r])
	}
	require.Equal(t, 0, world.Pending())
}

func TestReduce(t *testing.T) {
	require.Equal(t, 0, Reduce(nil, piotest.ReduceSum))
	require.Equal(t, -3, Reduce([]int{4, -3, 9}, piotest.ReduceMin))
	require.Equal(t, 9, Reduce([]int{4, -3, 9}, piotest.ReduceMax))
	require.Equal(t, 10, Reduce([]int{4, -3, 9}, piotest.ReduceSum))
	require.Equal(t, 1109, Reduce([]int{0, 1109, 1110}, piotest.ReduceFirstNonZero))
	require.Equal(t, 0, Reduce([]int{0, 0}, piotest.ReduceFirstNonZero))
}

func TestSplit(t *testing.T) {
	defer goleak.VerifyNone(t)
	const size = 6
	world := NewLocalWorld(size)
	defer world.Close()
	var lock sync.Mutex
	ranks := make(map[int][2]int)
	err := world.Run(context.Background(), func(ctx context.Context, c piotest.Comm) error {
		color := c.Rank() % 2
		if c.Rank() == 5 {
			color = piotest.Undefined
		}
		// reverse order within each color
		sub, err := c.Split(ctx, color, -c.Rank())
		if err != nil {
			return err
		}
		if color == piotest.Undefined {
			if sub != nil {
				return fmt.Errorf("undefined color produced a communicator")
			}
			return nil
		}
		lock.Lock()
		ranks[c.Rank()] = [2]int{sub.Rank(), sub.Size()}
		lock.Unlock()
		// sub communicators must be independent of each other
		total, err := sub.AllreduceInt(ctx, c.Rank(), piotest.ReduceSum)
		if err != nil {
			return err
		}
		if color == 0 && total != 0+2+4 || color == 1 && total != 1+3 {
			return fmt.Errorf("rank %d computed total %d", c.Rank(), total)
		}
		return sub.Barrier(ctx)
	})
	require.Nil(t, err)
	require.Equal(t, [2]int{2, 3}, ranks[0])
	require.Equal(t, [2]int{1, 3}, ranks[2])
	require.Equal(t, [2]int{0, 3}, ranks[4])
	require.Equal(t, [2]int{1, 2}, ranks[1])
	require.Equal(t, [2]int{0, 2}, ranks[3])
}

func TestRunCancelsOnError(t *testing.T) {
	defer goleak.VerifyNone(t)
	world := NewLocalWorld(3)
	defer world.Close()
	err := world.Run(context.Background(), func(ctx context.Context, c piotest.Comm) error {
		if c.Rank() == 1 {
			return fmt.Errorf("rank 1 failed")
		}
		// the other ranks would block forever without cancellation
		return c.Barrier(ctx)
	})
	require.EqualError(t, err, "rank 1 failed")
}

func TestPackParts(t *testing.T) {
	parts := [][]byte{[]byte("a"), nil, []byte("xyz")}
	res, err := unpackParts(packParts(parts))
	require.Nil(t, err)
	require.Len(t, res, 3)
	require.Equal(t, "a", string(res[0]))
	require.Len(t, res[1], 0)
	require.Equal(t, "xyz", string(res[2]))
	_, err = unpackParts([]byte{1})
	require.NotNil(t, err)
}
