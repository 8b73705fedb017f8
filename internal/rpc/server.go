// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"grimm.is/flowgate/internal/ctlplane"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rules"
)

// Admin is the rule administration backend. *ctlplane.Bridge implements it.
type Admin interface {
	CreateRule(ctx context.Context, spec rules.Spec) (rules.Rule, error)
	DeleteRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context) ([]rules.Rule, error)
	Status() ctlplane.Status
}

// Server implements FirewallServer on top of an Admin.
type Server struct {
	admin  Admin
	logger *logging.Logger
	grpc   *grpc.Server
}

// NewServer creates a gRPC server with the firewall service registered.
func NewServer(admin Admin, logger *logging.Logger, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = logging.WithComponent("rpc")
	}
	s := &Server{admin: admin, logger: logger}
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.logUnary)}, opts...)
	s.grpc = grpc.NewServer(opts...)
	RegisterFirewallServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("Rule administration service listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to listen on %s", addr)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(lis) }()

	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("Graceful stop timed out, forcing")
		s.grpc.Stop()
	}
}

// GetStatus implements FirewallServer.
func (s *Server) GetStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	st := s.admin.Status()
	return &StatusResponse{Status: st.Summary(), Detail: st}, nil
}

// ListRules implements FirewallServer.
func (s *Server) ListRules(ctx context.Context, _ *Empty) (*RuleListResponse, error) {
	rs, err := s.admin.ListRules(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := &RuleListResponse{Rules: make([]RuleInfo, 0, len(rs))}
	for _, r := range rs {
		out.Rules = append(out.Rules, NewRuleInfo(r))
	}
	return out, nil
}

// CreateRule implements FirewallServer.
func (s *Server) CreateRule(ctx context.Context, req *CreateRuleRequest) (*CreateRuleResponse, error) {
	if req.Rule == nil {
		return nil, toStatus(errors.New(errors.KindValidation, "rule is required"))
	}
	r, err := s.admin.CreateRule(ctx, *req.Rule)
	if err != nil {
		return nil, toStatus(err)
	}
	return &CreateRuleResponse{
		CreatedRuleID: r.ID,
		Message:       fmt.Sprintf("rule %d created: %s %s", r.ID, r.Action, r.Key()),
	}, nil
}

// DeleteRule implements FirewallServer.
func (s *Server) DeleteRule(ctx context.Context, req *DeleteRuleRequest) (*DeleteRuleResponse, error) {
	if req.RuleID <= 0 {
		return nil, toStatus(errors.New(errors.KindValidation, "rule_id must be positive"))
	}
	if err := s.admin.DeleteRule(ctx, req.RuleID); err != nil {
		return nil, toStatus(err)
	}
	return &DeleteRuleResponse{
		DeletedRuleID: req.RuleID,
		Message:       fmt.Sprintf("rule %d deleted", req.RuleID),
	}, nil
}

func (s *Server) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("rpc",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}
