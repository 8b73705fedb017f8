// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rpc

import (
	"grimm.is/flowgate/internal/ctlplane"
	"grimm.is/flowgate/internal/rules"
)

// Empty is the request of argument-less methods.
type Empty struct{}

// StatusResponse answers GetStatus.
type StatusResponse struct {
	Status string          `json:"status"`
	Detail ctlplane.Status `json:"detail"`
}

// RuleInfo is one listed rule. Ports are decimal or "*".
type RuleInfo struct {
	ID         int64  `json:"id"`
	SourceIP   string `json:"source_ip"`
	DestIP     string `json:"dest_ip"`
	SourcePort string `json:"source_port"`
	DestPort   string `json:"dest_port"`
	Action     string `json:"action"`
	Protocol   string `json:"protocol"`
	UsageCount uint64 `json:"usage_count"`
}

// RuleListResponse answers ListRules.
type RuleListResponse struct {
	Rules []RuleInfo `json:"rules"`
}

// CreateRuleRequest carries the rule to create.
type CreateRuleRequest struct {
	Rule *rules.Spec `json:"rule"`
}

// CreateRuleResponse answers CreateRule.
type CreateRuleResponse struct {
	CreatedRuleID int64  `json:"created_rule_id"`
	Message       string `json:"message"`
}

// DeleteRuleRequest names the rule to delete.
type DeleteRuleRequest struct {
	RuleID int64 `json:"rule_id"`
}

// DeleteRuleResponse answers DeleteRule.
type DeleteRuleResponse struct {
	DeletedRuleID int64  `json:"deleted_rule_id"`
	Message       string `json:"message"`
}

// NewRuleInfo converts a rule for listing.
func NewRuleInfo(r rules.Rule) RuleInfo {
	spec := r.Spec()
	return RuleInfo{
		ID:         r.ID,
		SourceIP:   spec.SourceIP,
		DestIP:     spec.DestIP,
		SourcePort: spec.SourcePort,
		DestPort:   spec.DestPort,
		Action:     spec.Action,
		Protocol:   spec.Protocol,
		UsageCount: r.UsageCount,
	}
}
