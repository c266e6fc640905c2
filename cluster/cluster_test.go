package cluster

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/comm"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}

// starts a world of numRanks gRPC nodes on localhost
func startTestWorld(t *testing.T, numRanks int) []*Node {
	coordinatorPort := freePort(t)
	nodes := make([]*Node, numRanks)
	for rank := range nodes {
		node, err := CreateNode(&NodeOptions{
			Rank:            rank,
			Size:            numRanks,
			Host:            "127.0.0.1",
			CoordinatorHost: "127.0.0.1",
			CoordinatorPort: coordinatorPort,
			JoinTimeout:     10 * time.Second,
			RPCTimeout:      5 * time.Second,
		}, nil)
		require.Nil(t, err)
		nodes[rank] = node
	}
	var wg sync.WaitGroup
	errs := make([]error, numRanks)
	wg.Add(numRanks)
	for i := range nodes {
		go func(i int) {
			defer wg.Done()
			errs[i] = nodes[i].Start(context.Background())
		}(i)
	}
	wg.Wait()
	for i := range errs {
		require.Nil(t, errs[i], "rank %d failed to start", i)
	}
	return nodes
}

func TestClusterWorld(t *testing.T) {
	nodes := startTestWorld(t, 3)
	defer func() {
		for _, n := range nodes {
			n.GracefulStop()
		}
	}()
	require.True(t, nodes[0].IsCoordinator())
	require.False(t, nodes[1].IsCoordinator())

	var wg sync.WaitGroup
	sums := make([]int, len(nodes))
	errs := make([]error, len(nodes))
	wg.Add(len(nodes))
	for i := range nodes {
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			c := nodes[i].Comm()
			if errs[i] = c.Barrier(ctx); errs[i] != nil {
				return
			}
			sums[i], errs[i] = c.AllreduceInt(ctx, c.Rank()+1, piotest.ReduceSum)
			if errs[i] != nil {
				return
			}
			sub, err := c.Split(ctx, c.Rank()%2, 0)
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = sub.Barrier(ctx)
		}(i)
	}
	wg.Wait()
	for i := range nodes {
		require.Nil(t, errs[i])
		require.Equal(t, 6, sums[i])
	}
}

func TestNodeOptionsValidation(t *testing.T) {
	_, err := CreateNode(&NodeOptions{Rank: 0, Size: 0, CoordinatorHost: "localhost"}, nil)
	require.NotNil(t, err)
	_, err = CreateNode(&NodeOptions{Rank: 3, Size: 2, CoordinatorHost: "localhost"}, nil)
	require.NotNil(t, err)
	_, err = CreateNode(&NodeOptions{Rank: 0, Size: 2}, nil)
	require.NotNil(t, err)

	opts := &NodeOptions{Rank: 0, Size: 2, CoordinatorHost: "localhost", Port: 9999}
	node, err := CreateNode(opts, nil)
	require.Nil(t, err)
	require.True(t, node.IsCoordinator())
	require.Equal(t, 1643, opts.Port)
	require.NotEmpty(t, node.ID())
}

func TestNodeOptionsFromEnv(t *testing.T) {
	t.Setenv(EnvRank, "2")
	t.Setenv(EnvSize, "4")
	t.Setenv(EnvCoordinator, "10.0.0.1:7000")
	opts := &NodeOptions{}
	require.Nil(t, NodeOptionsFromEnv(opts))
	require.Equal(t, 2, opts.Rank)
	require.Equal(t, 4, opts.Size)
	require.Equal(t, "10.0.0.1", opts.CoordinatorHost)
	require.Equal(t, 7000, opts.CoordinatorPort)

	t.Setenv(EnvRank, "two")
	require.NotNil(t, NodeOptionsFromEnv(&NodeOptions{}))
}

func TestClusterServerRegistration(t *testing.T) {
	s := createClusterServer(2)
	ctx := context.Background()
	_, err := s.registerPeer(ctx, peerDescriptor{ID: "a", Rank: 0, Addr: "127.0.0.1:1"})
	require.Nil(t, err)
	_, err = s.registerPeer(ctx, peerDescriptor{ID: "b", Rank: 0, Addr: "127.0.0.1:2"})
	require.NotNil(t, err)
	_, err = s.registerPeer(ctx, peerDescriptor{ID: "c", Rank: 5, Addr: "127.0.0.1:3"})
	require.NotNil(t, err)

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	require.NotNil(t, s.waitForPeers(timeout))

	_, err = s.registerPeer(ctx, peerDescriptor{ID: "d", Rank: 1, Addr: "127.0.0.1:4"})
	require.Nil(t, err)
	require.Nil(t, s.waitForPeers(ctx))
	peers := s.Peers()
	require.Len(t, peers, 2)
	require.Equal(t, "a", peers[0].ID)
	require.Equal(t, "d", peers[1].ID)
}

func TestEnvelopeCodec(t *testing.T) {
	small := &comm.Envelope{Context: "world", Src: 1, Tag: 7, Data: []byte("hello")}
	data, err := encodeEnvelope(small)
	require.Nil(t, err)
	require.Equal(t, envelopePlain, data[0])
	env, err := decodeEnvelope(data)
	require.Nil(t, err)
	require.Equal(t, small, env)

	large := &comm.Envelope{Context: "world/0:1", Src: 2, Tag: 3, Data: make([]byte, 4*compressThreshold)}
	data, err = encodeEnvelope(large)
	require.Nil(t, err)
	require.Equal(t, envelopeZstd, data[0])
	require.Less(t, len(data), len(large.Data))
	env, err = decodeEnvelope(data)
	require.Nil(t, err)
	require.Equal(t, large, env)

	_, err = decodeEnvelope([]byte{9, 1, 2})
	require.NotNil(t, err)
	_, err = decodeEnvelope(nil)
	require.NotNil(t, err)
}
