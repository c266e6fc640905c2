package cluster

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName    = "piotest.cluster.Transport"
	registerMethod = "/" + serviceName + "/Register"
	deliverMethod  = "/" + serviceName + "/Deliver"
	// Maximum size of a gRPC message
	maxMessageSize = 1073741824
)

// TransportServer is the server API of the cluster transport service.
// Payloads are opaque bytes encoded by this package.
type TransportServer interface {
	// Register announces a rank to the coordinator and blocks until the whole world has joined,
	// returning the membership of the world
	Register(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	// Deliver hands one message envelope to the receiving rank
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func registerHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Register(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: registerMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Register(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Register", Handler: registerHandler},
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cluster/service.go",
}

// RegisterTransportServer registers srv with a gRPC server
func RegisterTransportServer(s *grpc.Server, srv TransportServer) {
	s.RegisterService(&transportServiceDesc, srv)
}

// transportClient is the client API of the cluster transport service
type transportClient struct {
	cc grpc.ClientConnInterface
}

func newTransportClient(cc grpc.ClientConnInterface) *transportClient {
	return &transportClient{cc: cc}
}

func (c *transportClient) Register(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, registerMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *transportClient) Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, deliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
