// Package zkiamv1 declares the zkiam.v1 gRPC services. Messages are protobuf well-known types so the
// services need no generated code.
package zkiamv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	TokenService_GetJWKS_FullMethodName               = "/zkiam.v1.TokenService/GetJWKS"
	SessionService_Validate_FullMethodName            = "/zkiam.v1.SessionService/Validate"
	AccessService_CheckPermission_FullMethodName      = "/zkiam.v1.AccessService/CheckPermission"
	AccessService_EffectivePermissions_FullMethodName = "/zkiam.v1.AccessService/EffectivePermissions"
)

// TokenServiceServer publishes the session signing keys.
type TokenServiceServer interface {
	GetJWKS(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
}

// SessionServiceServer validates session tokens for other services.
//
// The response struct carries valid, user_id, tenant_id, expires_at (unix seconds) and error.
type SessionServiceServer interface {
	Validate(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// AccessServiceServer answers permission questions about the authenticated caller.
//
// CheckPermission reads resource_type, actions (list), mode ("all" or "any") and resource_id.
type AccessServiceServer interface {
	CheckPermission(context.Context, *structpb.Struct) (*wrapperspb.BoolValue, error)
	EffectivePermissions(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

var TokenService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "zkiam.v1.TokenService",
	HandlerType: (*TokenServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetJWKS",
			Handler: unaryHandler(TokenService_GetJWKS_FullMethodName, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.(TokenServiceServer).GetJWKS(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zkiam/v1/token.proto",
}

var SessionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "zkiam.v1.SessionService",
	HandlerType: (*SessionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Validate",
			Handler: unaryHandler(SessionService_Validate_FullMethodName, func(srv any, ctx context.Context, in *wrapperspb.StringValue) (any, error) {
				return srv.(SessionServiceServer).Validate(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zkiam/v1/session.proto",
}

var AccessService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "zkiam.v1.AccessService",
	HandlerType: (*AccessServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckPermission",
			Handler: unaryHandler(AccessService_CheckPermission_FullMethodName, func(srv any, ctx context.Context, in *structpb.Struct) (any, error) {
				return srv.(AccessServiceServer).CheckPermission(ctx, in)
			}),
		},
		{
			MethodName: "EffectivePermissions",
			Handler: unaryHandler(AccessService_EffectivePermissions_FullMethodName, func(srv any, ctx context.Context, in *emptypb.Empty) (any, error) {
				return srv.(AccessServiceServer).EffectivePermissions(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zkiam/v1/access.proto",
}

func RegisterTokenServiceServer(s grpc.ServiceRegistrar, srv TokenServiceServer) {
	s.RegisterService(&TokenService_ServiceDesc, srv)
}

func RegisterSessionServiceServer(s grpc.ServiceRegistrar, srv SessionServiceServer) {
	s.RegisterService(&SessionService_ServiceDesc, srv)
}

func RegisterAccessServiceServer(s grpc.ServiceRegistrar, srv AccessServiceServer) {
	s.RegisterService(&AccessService_ServiceDesc, srv)
}

func unaryHandler[Req any](fullMethod string, call func(srv any, ctx context.Context, in *Req) (any, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv, ctx, req.(*Req))
		})
	}
}
