package cluster

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"google.golang.org/grpc/peer"
)

// clusterServer tracks which ranks have joined the world. Only the coordinator runs one.
type clusterServer struct {
	lock   sync.Mutex
	peers  map[int]peerDescriptor
	size   int
	joined chan struct{} // closed once every rank has registered
}

// createClusterServer creates a new cluster server for a world of size ranks
func createClusterServer(size int) *clusterServer {
	return &clusterServer{
		peers:  make(map[int]peerDescriptor),
		size:   size,
		joined: make(chan struct{}),
	}
}

// registerPeer registers a new rank with the cluster
func (s *clusterServer) registerPeer(ctx context.Context, d peerDescriptor) (peerDescriptor, error) {
	if d.Rank < 0 || d.Rank >= s.size {
		return d, fmt.Errorf("Rank %d is outside a world of %d ranks", d.Rank, s.size)
	}
	// fill in the host from the connection if the peer bound to all interfaces
	if host, port, err := net.SplitHostPort(d.Addr); err == nil && isUnspecified(host) {
		if p, ok := peer.FromContext(ctx); ok {
			if tcpAddr, ok := p.Addr.(*net.TCPAddr); ok {
				d.Addr = net.JoinHostPort(tcpAddr.IP.String(), port)
			}
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if existing, exists := s.peers[d.Rank]; exists && existing.ID != d.ID {
		return d, fmt.Errorf("Rank %d is already registered by node %s", d.Rank, existing.ID)
	}
	s.peers[d.Rank] = d
	if len(s.peers) == s.size {
		select {
		case <-s.joined:
		default:
			close(s.joined)
		}
	}
	return d, nil
}

// NumberOfPeers returns the current number of registered ranks
func (s *clusterServer) NumberOfPeers() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.peers)
}

// Peers retrieves the registered ranks, ordered by rank
func (s *clusterServer) Peers() []peerDescriptor {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]peerDescriptor, 0, len(s.peers))
	for _, d := range s.peers {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Rank < result[j].Rank })
	return result
}

func (s *clusterServer) waitForPeers(ctx context.Context) error {
	select {
	case <-ctx.Done():
		// Did we time out?
		return fmt.Errorf("only %d of %d ranks joined: %w", s.NumberOfPeers(), s.size, ctx.Err())
	case <-s.joined:
		return nil
	}
}

func isUnspecified(host string) bool {
	ip := net.ParseIP(host)
	return host == "" || (ip != nil && ip.IsUnspecified())
}
