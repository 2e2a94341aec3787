// Package ecd exposes a compute service over gRPC and provides the matching
// client transport for the remote executor.
//
// The service is described by a hand-written grpc.ServiceDesc. Its messages are
// the ones of the api package, encoded in protobuf wire format by api.Codec.
package ecd

import (
	"context"

	"github.com/ChristianMct/ecd/api"
	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully qualified name of the gRPC service.
	ServiceName = "ecd.Compute"

	computeMethod      = "/" + ServiceName + "/Compute"
	registerKeysMethod = "/" + ServiceName + "/RegisterKeys"
)

// computeHandler is the server-side interface of the gRPC service.
type computeHandler interface {
	compute(context.Context, *api.OperationRequest) (*api.OperationResult, error)
	registerKeys(context.Context, *api.RegisterKeysRequest) (*api.RegisterKeysResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*computeHandler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Compute", Handler: computeRPCHandler},
		{MethodName: "RegisterKeys", Handler: registerKeysRPCHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ecd/compute",
}

func computeRPCHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(api.OperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(computeHandler).compute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: computeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(computeHandler).compute(ctx, req.(*api.OperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func registerKeysRPCHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(api.RegisterKeysRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(computeHandler).registerKeys(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: registerKeysMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(computeHandler).registerKeys(ctx, req.(*api.RegisterKeysRequest))
	}
	return interceptor(ctx, in, info, handler)
}
