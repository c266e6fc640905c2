// Package testing runs worlds of ranks connected over gRPC on localhost, for tests
// which need the cluster transport rather than the in-process one.
package testing

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/cluster"
	iutil "github.com/go-sif/piotest/internal/util"
)

// freePort asks the kernel for an unused port
func freePort() (int, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port, nil
}

// LocalRunWorld starts numRanks cluster Nodes on localhost, runs fn on the world
// communicator of each and stops them again. The first error of any rank is returned.
func LocalRunWorld(ctx context.Context, numRanks int, logger log.Logger, fn iutil.RankFunc) (err error) {
	coordinatorPort, err := freePort()
	if err != nil {
		return err
	}
	nodes := make([]*cluster.Node, numRanks)
	defer func() {
		for _, node := range nodes {
			if node != nil {
				node.GracefulStop()
			}
		}
	}()
	for rank := range nodes {
		nodes[rank], err = cluster.CreateNode(&cluster.NodeOptions{
			Rank:            rank,
			Size:            numRanks,
			Host:            "127.0.0.1",
			CoordinatorHost: "127.0.0.1",
			CoordinatorPort: coordinatorPort,
			JoinTimeout:     10 * time.Second,
			RPCTimeout:      5 * time.Second,
		}, logger)
		if err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	errors := iutil.CreateAsyncErrorChannel()
	wg.Add(numRanks)
	for _, node := range nodes {
		go func(node *cluster.Node) {
			defer wg.Done()
			if err := node.Start(ctx); err != nil {
				errors <- fmt.Errorf("failed to start rank: %w", err)
			}
		}(node)
	}
	if err = iutil.WaitAndFetchError(&wg, errors); err != nil {
		return err
	}

	// a failed rank cancels the others, which may be blocked waiting for it
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errors = iutil.CreateAsyncErrorChannel()
	wg.Add(numRanks)
	safe := iutil.SafeRankFunc(fn)
	for _, node := range nodes {
		go func(c piotest.Comm) {
			defer wg.Done()
			err := safe(ctx, c)
			if err != nil {
				cancel()
			}
			errors <- err
		}(node.Comm())
	}
	return iutil.WaitAndFetchError(&wg, errors)
}
