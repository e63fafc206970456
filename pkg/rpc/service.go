package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// AgentRPCServer is the server-side contract for the wire surface of
// spec.md §4.9. It is implemented by *Server below; the interface exists
// so the hand-built ServiceDesc can dispatch on it without a generated
// stub.
type AgentRPCServer interface {
	Discover(context.Context, *DiscoverRequest) (*DiscoverReply, error)
	Ping(context.Context, *PingRequest) (*PingReply, error)
	GetResourceStatus(context.Context, *GetResourceStatusRequest) (*GetResourceStatusReply, error)
	GetWorkloadStatus(context.Context, *GetWorkloadStatusRequest) (*GetWorkloadStatusReply, error)
	GetChannelStatus(context.Context, *GetChannelStatusRequest) (*GetChannelStatusReply, error)
	SendJoinRequest(context.Context, *JoinRequest) (*JoinReply, error)
	SendDisjoinRequest(context.Context, *JoinRequest) (*JoinReply, error)
	SendScheduleRequest(context.Context, *SendScheduleRequest) (*SendScheduleReply, error)
	SetNodeManagementAction(context.Context, *SetNodeManagementActionRequest) (*SetNodeManagementActionReply, error)
}

const serviceName = "rtrm.AgentRPC"

func methodName(m string) string { return "/" + serviceName + "/" + m }

func _AgentRPC_Discover_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DiscoverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).Discover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("Discover")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).Discover(ctx, req.(*DiscoverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_Ping_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("Ping")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_GetResourceStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetResourceStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).GetResourceStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("GetResourceStatus")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).GetResourceStatus(ctx, req.(*GetResourceStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_GetWorkloadStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetWorkloadStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).GetWorkloadStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("GetWorkloadStatus")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).GetWorkloadStatus(ctx, req.(*GetWorkloadStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_GetChannelStatus_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetChannelStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).GetChannelStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("GetChannelStatus")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).GetChannelStatus(ctx, req.(*GetChannelStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_SendJoinRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).SendJoinRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("SendJoinRequest")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).SendJoinRequest(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_SendDisjoinRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).SendDisjoinRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("SendDisjoinRequest")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).SendDisjoinRequest(ctx, req.(*JoinRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_SendScheduleRequest_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendScheduleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).SendScheduleRequest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("SendScheduleRequest")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).SendScheduleRequest(ctx, req.(*SendScheduleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRPC_SetNodeManagementAction_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetNodeManagementActionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRPCServer).SetNodeManagementAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodName("SetNodeManagementAction")}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRPCServer).SetNodeManagementAction(ctx, req.(*SetNodeManagementActionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc stub would have
// emitted from a rtrm_agent_rpc.proto; it is hand-built here because this
// module has no protoc step available (DESIGN.md).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AgentRPCServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Discover", Handler: _AgentRPC_Discover_Handler},
		{MethodName: "Ping", Handler: _AgentRPC_Ping_Handler},
		{MethodName: "GetResourceStatus", Handler: _AgentRPC_GetResourceStatus_Handler},
		{MethodName: "GetWorkloadStatus", Handler: _AgentRPC_GetWorkloadStatus_Handler},
		{MethodName: "GetChannelStatus", Handler: _AgentRPC_GetChannelStatus_Handler},
		{MethodName: "SendJoinRequest", Handler: _AgentRPC_SendJoinRequest_Handler},
		{MethodName: "SendDisjoinRequest", Handler: _AgentRPC_SendDisjoinRequest_Handler},
		{MethodName: "SendScheduleRequest", Handler: _AgentRPC_SendScheduleRequest_Handler},
		{MethodName: "SetNodeManagementAction", Handler: _AgentRPC_SetNodeManagementAction_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rtrm_agent_rpc.proto",
}
