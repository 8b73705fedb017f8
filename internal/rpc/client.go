// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/rules"
)

// Client calls the firewall service. Errors carry an errors.Kind derived
// from the gRPC status code.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for addr. Extra options are appended after the
// defaults (plaintext transport, JSON codec).
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to create client for %s", addr)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// GetStatus fetches the firewall status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.conn.Invoke(ctx, methodGetStatus, &Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// ListRules fetches every rule.
func (c *Client) ListRules(ctx context.Context) ([]RuleInfo, error) {
	out := new(RuleListResponse)
	if err := c.conn.Invoke(ctx, methodListRules, &Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out.Rules, nil
}

// CreateRule submits spec and returns the server's answer.
func (c *Client) CreateRule(ctx context.Context, spec rules.Spec) (*CreateRuleResponse, error) {
	out := new(CreateRuleResponse)
	if err := c.conn.Invoke(ctx, methodCreateRule, &CreateRuleRequest{Rule: &spec}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}

// DeleteRule deletes the rule with the given id.
func (c *Client) DeleteRule(ctx context.Context, id int64) (*DeleteRuleResponse, error) {
	out := new(DeleteRuleResponse)
	if err := c.conn.Invoke(ctx, methodDeleteRule, &DeleteRuleRequest{RuleID: id}, out); err != nil {
		return nil, fromStatus(err)
	}
	return out, nil
}
