// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks a configuration whose defaults have been applied.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Mode {
	case "inline", "observe":
		if c.Interface == "" {
			add("interface", "required in %s mode", c.Mode)
		}
	case "off":
	default:
		add("mode", "must be inline, observe or off, got %q", c.Mode)
	}
	if c.Queue < 0 || c.Queue > 65535 {
		add("queue", "must be between 0 and 65535, got %d", c.Queue)
	}
	if c.QueueLen < 1 {
		add("queue_len", "must be positive, got %d", c.QueueLen)
	}

	if ct := c.Conntrack; ct != nil {
		if ct.Capacity < 1 {
			add("conntrack.capacity", "must be positive, got %d", ct.Capacity)
		}
		if ct.Shards < 1 {
			add("conntrack.shards", "must be positive, got %d", ct.Shards)
		}
		if ct.SweepBatch < 1 {
			add("conntrack.sweep_batch", "must be positive, got %d", ct.SweepBatch)
		}
		if ct.WarnThreshold <= 0 || ct.WarnThreshold > 1 {
			add("conntrack.warn_threshold", "must be in (0, 1], got %g", ct.WarnThreshold)
		}
		checkDuration(&errs, "conntrack.tcp_established_timeout", ct.TCPEstablishedTimeout)
		checkDuration(&errs, "conntrack.tcp_transient_timeout", ct.TCPTransientTimeout)
		checkDuration(&errs, "conntrack.udp_timeout", ct.UDPTimeout)
		checkDuration(&errs, "conntrack.sweep_interval", ct.SweepInterval)
	}

	if c.Rules != nil {
		checkDuration(&errs, "rules.usage_flush_interval", c.Rules.UsageFlushInterval)
	}

	rpcOn := c.RPC != nil && c.RPC.IsEnabled()
	apiOn := c.API != nil && c.API.IsEnabled()
	if rpcOn {
		checkListen(&errs, "rpc.listen", c.RPC.Listen)
	}
	if apiOn {
		checkListen(&errs, "api.listen", c.API.Listen)
	}
	if rpcOn && apiOn && c.RPC.Listen == c.API.Listen {
		add("api.listen", "conflicts with rpc.listen %s", c.RPC.Listen)
	}

	if c.EBPF != nil && c.EBPF.Enabled && c.EBPF.MaxEntries < 1 {
		add("ebpf.max_entries", "must be positive, got %d", c.EBPF.MaxEntries)
	}

	if l := c.Log; l != nil {
		switch strings.ToLower(l.Level) {
		case "debug", "info", "warn", "warning", "error":
		default:
			add("log.level", "unknown level %q", l.Level)
		}
		if s := l.Syslog; s != nil && s.Enabled {
			if s.Host == "" {
				add("log.syslog.host", "required when syslog is enabled")
			}
			if s.Protocol != "udp" && s.Protocol != "tcp" {
				add("log.syslog.protocol", "must be udp or tcp, got %q", s.Protocol)
			}
		}
	}

	return errs
}

func checkDuration(errs *ValidationErrors, field, s string) {
	d, err := time.ParseDuration(s)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", s)})
		return
	}
	if d <= 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("must be positive, got %s", s)})
	}
}

func checkListen(errs *ValidationErrors, field, addr string) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid listen address %q", addr)})
	}
}
