// Package rpc defines the Dashboard gRPC service shared by the backend and
// the frontend. Messages travel as google.protobuf.Struct and are mapped onto
// the dashboard types with a JSON bridge.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "healthdashboard.v1.Dashboard"

	GetDashboardMethod = "/" + ServiceName + "/GetDashboard"
	GetProfileMethod   = "/" + ServiceName + "/GetProfile"
)

// DashboardServer is the server API of the Dashboard service.
type DashboardServer interface {
	GetDashboard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetProfile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDashboardServer registers srv with s.
func RegisterDashboardServer(s grpc.ServiceRegistrar, srv DashboardServer) {
	s.RegisterService(&DashboardServiceDesc, srv)
}

// DashboardServiceDesc is the grpc.ServiceDesc for the Dashboard service.
var DashboardServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DashboardServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetDashboard",
			Handler:    getDashboardHandler,
		},
		{
			MethodName: "GetProfile",
			Handler:    getProfileHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "healthdashboard/v1/dashboard.proto",
}

func getDashboardHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).GetDashboard(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetDashboardMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DashboardServer).GetDashboard(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func getProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DashboardServer).GetProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetProfileMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DashboardServer).GetProfile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
