package cluster

import (
	"context"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type transportServer struct {
	node *Node
}

// createTransportServer creates a new transport server for a Node
func createTransportServer(node *Node) *transportServer {
	return &transportServer{node: node}
}

// Register announces a rank to the coordinator
func (s *transportServer) Register(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return s.node.handleRegister(ctx, req)
}

// Deliver hands a message to this rank
func (s *transportServer) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	return s.node.handleDeliver(ctx, req)
}
