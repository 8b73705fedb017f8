// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rpc serves rule administration over gRPC as the
// firewall.FirewallService, with messages encoded as JSON.
package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "firewall.FirewallService"

const (
	methodGetStatus  = "/" + serviceName + "/GetStatus"
	methodListRules  = "/" + serviceName + "/ListRules"
	methodCreateRule = "/" + serviceName + "/CreateRule"
	methodDeleteRule = "/" + serviceName + "/DeleteRule"
)

// FirewallServer is the server side of the service.
type FirewallServer interface {
	GetStatus(context.Context, *Empty) (*StatusResponse, error)
	ListRules(context.Context, *Empty) (*RuleListResponse, error)
	CreateRule(context.Context, *CreateRuleRequest) (*CreateRuleResponse, error)
	DeleteRule(context.Context, *DeleteRuleRequest) (*DeleteRuleResponse, error)
}

// RegisterFirewallServer attaches srv to s.
func RegisterFirewallServer(s grpc.ServiceRegistrar, srv FirewallServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FirewallServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: getStatusHandler},
		{MethodName: "ListRules", Handler: listRulesHandler},
		{MethodName: "CreateRule", Handler: createRuleHandler},
		{MethodName: "DeleteRule", Handler: deleteRuleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "firewall.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FirewallServer).GetStatus(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listRulesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServer).ListRules(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListRules}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FirewallServer).ListRules(ctx, req.(*Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func createRuleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CreateRuleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServer).CreateRule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodCreateRule}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FirewallServer).CreateRule(ctx, req.(*CreateRuleRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteRuleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DeleteRuleRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FirewallServer).DeleteRule(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDeleteRule}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FirewallServer).DeleteRule(ctx, req.(*DeleteRuleRequest))
	}
	return interceptor(ctx, in, info, handler)
}
