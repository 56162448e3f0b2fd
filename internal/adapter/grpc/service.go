package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "tracefund.v1.TraceService"

// TraceServiceServer is the server API for the TraceService.
// Requests and responses are JSON-shaped google.protobuf.Struct messages.
type TraceServiceServer interface {
	OpenFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LoadMoreDonations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseFeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BeginWithdrawal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmWithdrawal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelWithdrawal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetWithdrawal(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(TraceServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// TraceServiceDesc describes the TraceService for grpc.Server.RegisterService
var TraceServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TraceServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("OpenFeed", TraceServiceServer.OpenFeed),
		unary("GetFeed", TraceServiceServer.GetFeed),
		unary("LoadMoreDonations", TraceServiceServer.LoadMoreDonations),
		unary("CloseFeed", TraceServiceServer.CloseFeed),
		unary("GetBalance", TraceServiceServer.GetBalance),
		unary("BeginWithdrawal", TraceServiceServer.BeginWithdrawal),
		unary("ConfirmWithdrawal", TraceServiceServer.ConfirmWithdrawal),
		unary("CancelWithdrawal", TraceServiceServer.CancelWithdrawal),
		unary("GetWithdrawal", TraceServiceServer.GetWithdrawal),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tracefund/v1/trace_service.proto",
}

// RegisterTraceServiceServer registers srv on the gRPC server
func RegisterTraceServiceServer(s grpc.ServiceRegistrar, srv TraceServiceServer) {
	s.RegisterService(&TraceServiceDesc, srv)
}

// FullMethod returns the full RPC path of a TraceService method
func FullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(TraceServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: FullMethod(name),
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(TraceServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
