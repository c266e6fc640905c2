package cluster

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-sif/piotest"
	"github.com/go-sif/piotest/comm"
	uuid "github.com/gofrs/uuid"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// maximum number of peers dialed concurrently
const maxConcurrentDials = 16

// Node is one rank of a world whose ranks are separate processes connected by gRPC.
// Rank 0 doubles as the coordinator with which every other rank registers.
type Node struct {
	id            string
	opts          *NodeOptions
	logger        log.Logger
	lifecycleLock sync.Mutex
	server        *grpc.Server
	cluster       *clusterServer
	mailbox       *comm.Mailbox
	conns         []*grpc.ClientConn
	clients       []*transportClient
	world         piotest.Comm
	serveErr      chan error
}

// CreateNode is a factory for Nodes
func CreateNode(opts *NodeOptions, logger log.Logger) (*Node, error) {
	if err := ensureDefaultNodeOptionsValues(opts); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate UUID: %v", err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	n := &Node{
		id:       id.String(),
		opts:     opts,
		logger:   log.With(logger, "node", id.String(), "rank", opts.Rank),
		mailbox:  comm.NewMailbox(),
		serveErr: make(chan error, 1),
	}
	if opts.Rank == 0 {
		n.cluster = createClusterServer(opts.Size)
	}
	return n, nil
}

// ID returns the ID of this Node
func (n *Node) ID() string {
	return n.id
}

// IsCoordinator returns true for rank 0
func (n *Node) IsCoordinator() bool {
	return n.cluster != nil
}

// Start serves this Node, joins the world and connects to every other rank.
// It returns once the world communicator is usable. Stop must be called even if Start fails.
func (n *Node) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", n.opts.connectionString())
	if err != nil {
		return fmt.Errorf("failed to listen: %v", err)
	}
	n.lifecycleLock.Lock()
	n.server = grpc.NewServer(grpc.MaxRecvMsgSize(maxMessageSize), grpc.MaxSendMsgSize(maxMessageSize))
	RegisterTransportServer(n.server, createTransportServer(n))
	server := n.server
	n.lifecycleLock.Unlock()
	go func() {
		n.serveErr <- server.Serve(lis)
	}()
	host := n.opts.Host
	if n.IsCoordinator() && isUnspecified(host) {
		host = n.opts.CoordinatorHost
	}
	self := peerDescriptor{ID: n.id, Rank: n.opts.Rank, Addr: advertisedAddr(host, lis.Addr())}
	level.Debug(n.logger).Log("msg", "serving", "addr", lis.Addr().String())

	joinCtx, cancel := context.WithTimeout(ctx, n.opts.JoinTimeout)
	defer cancel()
	var peers []peerDescriptor
	if n.IsCoordinator() {
		if _, err = n.cluster.registerPeer(joinCtx, self); err != nil {
			return err
		}
		level.Info(n.logger).Log("msg", "waiting for ranks to join", "size", n.opts.Size)
		if err = n.cluster.waitForPeers(joinCtx); err != nil {
			return err
		}
		peers = n.cluster.Peers()
	} else if peers, err = n.register(joinCtx, self); err != nil {
		return err
	}
	if len(peers) != n.opts.Size {
		return fmt.Errorf("world has %d ranks, expected %d", len(peers), n.opts.Size)
	}
	if err = n.dialPeers(ctx, peers); err != nil {
		return err
	}
	n.world = comm.NewWorldComm(n.opts.Rank, n.opts.Size, n, n.mailbox)
	level.Info(n.logger).Log("msg", "joined world", "size", n.opts.Size)
	return nil
}

// register announces this Node to the coordinator, retrying at one second intervals
func (n *Node) register(ctx context.Context, self peerDescriptor) ([]peerDescriptor, error) {
	conn, err := grpc.DialContext(ctx, n.opts.coordinatorConnectionString(),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("fail to dial: %v", err)
	}
	defer conn.Close()
	req, err := encodeGob(&self)
	if err != nil {
		return nil, err
	}
	client := newTransportClient(conn)
	for retries := 0; ; retries++ {
		res, err := client.Register(ctx, wrapperspb.Bytes(req), grpc.WaitForReady(true))
		if err == nil {
			var peers []peerDescriptor
			if err = decodeGob(res.GetValue(), &peers); err != nil {
				return nil, fmt.Errorf("malformed membership: %v", err)
			}
			return peers, nil
		}
		if retries >= n.opts.JoinRetries {
			return nil, fmt.Errorf("unable to register with coordinator: %v", err)
		}
		level.Warn(n.logger).Log("msg", "retrying registration", "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			// Wait 1 second and try again
		}
	}
}

// dialPeers opens one connection per rank of the world
func (n *Node) dialPeers(ctx context.Context, peers []peerDescriptor) error {
	conns := make([]*grpc.ClientConn, len(peers))
	errs := make([]error, len(peers))
	sem := semaphore.NewWeighted(maxConcurrentDials)
	var wg sync.WaitGroup
	for i := range peers {
		if peers[i].Rank == n.opts.Rank {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			conns[i], errs[i] = grpc.DialContext(ctx, peers[i].Addr,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)))
		}(i)
	}
	wg.Wait()
	n.lifecycleLock.Lock()
	defer n.lifecycleLock.Unlock()
	n.conns = conns
	n.clients = make([]*transportClient, len(conns))
	for i, conn := range conns {
		if errs[i] != nil {
			return fmt.Errorf("unable to connect to rank %d at %s: %v", i, peers[i].Addr, errs[i])
		}
		if conn != nil {
			n.clients[i] = newTransportClient(conn)
		}
	}
	return nil
}

// Comm returns the world communicator. Only valid after Start.
func (n *Node) Comm() piotest.Comm {
	return n.world
}

// Deliver sends an envelope to a world rank, implementing comm.Transport
func (n *Node) Deliver(ctx context.Context, dest int, env *comm.Envelope) error {
	if dest == n.opts.Rank {
		return n.mailbox.Deposit(env)
	}
	if dest < 0 || dest >= len(n.clients) || n.clients[dest] == nil {
		return fmt.Errorf("no connection to rank %d", dest)
	}
	data, err := encodeEnvelope(env)
	if err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.opts.RPCTimeout)
		defer cancel()
	}
	_, err = n.clients[dest].Deliver(ctx, wrapperspb.Bytes(data), grpc.WaitForReady(true))
	return err
}

// handleRegister registers a rank with the coordinator and blocks until the world is complete
func (n *Node) handleRegister(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	if !n.IsCoordinator() {
		return nil, fmt.Errorf("rank %d is not the coordinator", n.opts.Rank)
	}
	var d peerDescriptor
	if err := decodeGob(req.GetValue(), &d); err != nil {
		return nil, fmt.Errorf("malformed registration: %v", err)
	}
	d, err := n.cluster.registerPeer(ctx, d)
	if err != nil {
		return nil, err
	}
	level.Info(n.logger).Log("msg", "registered rank", "peer", d.ID, "peerRank", d.Rank, "addr", d.Addr)
	if err = n.cluster.waitForPeers(ctx); err != nil {
		return nil, err
	}
	res, err := encodeGob(n.cluster.Peers())
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bytes(res), nil
}

// handleDeliver deposits an incoming envelope into this Node's mailbox
func (n *Node) handleDeliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	env, err := decodeEnvelope(req.GetValue())
	if err != nil {
		return nil, err
	}
	if err = n.mailbox.Deposit(env); err != nil {
		return nil, err
	}
	return &emptypb.Empty{}, nil
}

// GracefulStop the Node, waiting for in-flight deliveries to finish
func (n *Node) GracefulStop() error {
	n.lifecycleLock.Lock()
	defer n.lifecycleLock.Unlock()
	if n.server != nil {
		n.server.GracefulStop()
		n.server = nil
		<-n.serveErr
	}
	return n.closeLocked()
}

// Stop the Node immediately
func (n *Node) Stop() error {
	n.lifecycleLock.Lock()
	defer n.lifecycleLock.Unlock()
	if n.server != nil {
		n.server.Stop()
		n.server = nil
		<-n.serveErr
	}
	return n.closeLocked()
}

func (n *Node) closeLocked() error {
	var firstErr error
	for _, conn := range n.conns {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	n.conns = nil
	n.clients = nil
	n.mailbox.Close()
	return firstErr
}

// advertisedAddr returns the address other ranks should dial to reach a listener
func advertisedAddr(host string, addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}
	return net.JoinHostPort(host, fmt.Sprint(tcpAddr.Port))
}
