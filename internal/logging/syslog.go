// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !windows && !plan9

package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"net"
	"strconv"
)

// NewSyslogWriter dials the configured syslog server.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "flowgate"
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to dial syslog %s: %w", addr, err)
	}
	return w, nil
}
