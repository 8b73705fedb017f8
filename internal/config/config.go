// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon configuration from HCL or JSON.
package config

import "time"

// Config is the top-level daemon configuration.
type Config struct {
	// Interface the dataplane attaches to. Required unless mode is "off".
	// @example: "eth1"
	Interface string `hcl:"interface,optional" json:"interface,omitempty"`
	// Attach mode.
	// @enum: inline, observe, off
	// @default: "inline"
	Mode string `hcl:"mode,optional" json:"mode,omitempty"`
	// Netfilter queue number used in inline mode.
	// @default: 100
	Queue int `hcl:"queue,optional" json:"queue,omitempty"`
	// Kernel queue length in packets.
	// @default: 4096
	QueueLen int `hcl:"queue_len,optional" json:"queue_len,omitempty"`
	// nftables table that holds the queue rule.
	// @default: "flowgate"
	NFTable string `hcl:"nft_table,optional" json:"nft_table,omitempty"`
	// SQLite database holding persisted rules.
	// @default: "/var/lib/flowgate/rules.db"
	DBPath string `hcl:"db_path,optional" json:"db_path,omitempty"`

	Conntrack *ConntrackConfig `hcl:"conntrack,block" json:"conntrack,omitempty"`
	Rules     *RulesConfig     `hcl:"rules,block" json:"rules,omitempty"`
	RPC       *RPCConfig       `hcl:"rpc,block" json:"rpc,omitempty"`
	API       *APIConfig       `hcl:"api,block" json:"api,omitempty"`
	EBPF      *EBPFConfig      `hcl:"ebpf,block" json:"ebpf,omitempty"`
	Log       *LogConfig       `hcl:"log,block" json:"log,omitempty"`
}

// ConntrackConfig sizes the connection table and tunes the sweeper.
type ConntrackConfig struct {
	// @default: 10000
	Capacity int `hcl:"capacity,optional" json:"capacity,omitempty"`
	// Rounded up to a power of two.
	// @default: 64
	Shards int `hcl:"shards,optional" json:"shards,omitempty"`
	// @default: "5m"
	TCPEstablishedTimeout string `hcl:"tcp_established_timeout,optional" json:"tcp_established_timeout,omitempty"`
	// Applies to SYN_SENT, SYN_RECEIVED and FIN_WAIT_1.
	// @default: "30s"
	TCPTransientTimeout string `hcl:"tcp_transient_timeout,optional" json:"tcp_transient_timeout,omitempty"`
	// @default: "30s"
	UDPTimeout string `hcl:"udp_timeout,optional" json:"udp_timeout,omitempty"`
	// @default: "10s"
	SweepInterval string `hcl:"sweep_interval,optional" json:"sweep_interval,omitempty"`
	// @default: 1000
	SweepBatch int `hcl:"sweep_batch,optional" json:"sweep_batch,omitempty"`
	// Occupancy ratio that triggers a warning.
	// @default: 0.9
	WarnThreshold float64 `hcl:"warn_threshold,optional" json:"warn_threshold,omitempty"`
}

// RulesConfig controls rule administration.
type RulesConfig struct {
	// Remove tracked flows covered by a deleted rule.
	// @default: false
	EvictFlowsOnDelete bool `hcl:"evict_flows_on_delete,optional" json:"evict_flows_on_delete,omitempty"`
	// How often rule hit counts are written to the database.
	// @default: "30s"
	UsageFlushInterval string `hcl:"usage_flush_interval,optional" json:"usage_flush_interval,omitempty"`
}

// RPCConfig configures the gRPC administration service.
type RPCConfig struct {
	// @default: true
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: "127.0.0.1:50051"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	// @default: true
	Enabled *bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: "127.0.0.1:8080"
	Listen string `hcl:"listen,optional" json:"listen,omitempty"`
}

// EBPFConfig configures the pinned BPF rule map mirror.
type EBPFConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional" json:"enabled,omitempty"`
	// @default: "/sys/fs/bpf/flowgate"
	PinDir string `hcl:"pin_dir,optional" json:"pin_dir,omitempty"`
	// @default: 10000
	MaxEntries int `hcl:"max_entries,optional" json:"max_entries,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// @enum: debug, info, warn, error
	// @default: "info"
	Level string `hcl:"level,optional" json:"level,omitempty"`
	// @default: false
	JSON   bool          `hcl:"json,optional" json:"json,omitempty"`
	Syslog *SyslogConfig `hcl:"syslog,block" json:"syslog,omitempty"`
}

// SyslogConfig forwards logs to a remote syslog server.
type SyslogConfig struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled,omitempty"`
	Host    string `hcl:"host,optional" json:"host,omitempty"`
	// @default: 514
	Port int `hcl:"port,optional" json:"port,omitempty"`
	// @enum: udp, tcp
	// @default: "udp"
	Protocol string `hcl:"protocol,optional" json:"protocol,omitempty"`
	// @default: "flowgate"
	Tag string `hcl:"tag,optional" json:"tag,omitempty"`
}

// Defaults.
const (
	DefaultMode               = "inline"
	DefaultQueue              = 100
	DefaultQueueLen           = 4096
	DefaultNFTable            = "flowgate"
	DefaultDBPath             = "/var/lib/flowgate/rules.db"
	DefaultCapacity           = 10000
	DefaultShards             = 64
	DefaultSweepBatch         = 1000
	DefaultWarnThreshold      = 0.9
	DefaultRPCListen          = "127.0.0.1:50051"
	DefaultAPIListen          = "127.0.0.1:8080"
	DefaultPinDir             = "/sys/fs/bpf/flowgate"
	DefaultMapEntries         = 10000
	DefaultLogLevel           = "info"
	DefaultTCPEstablished     = 5 * time.Minute
	DefaultTCPTransient       = 30 * time.Second
	DefaultUDPTimeout         = 30 * time.Second
	DefaultSweepInterval      = 10 * time.Second
	DefaultUsageFlushInterval = 30 * time.Second
)

// DefaultConfig returns a configuration with every default filled in and no
// interface set.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// applyDefaults fills every unset field.
func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = DefaultMode
	}
	if c.Queue == 0 {
		c.Queue = DefaultQueue
	}
	if c.QueueLen == 0 {
		c.QueueLen = DefaultQueueLen
	}
	if c.NFTable == "" {
		c.NFTable = DefaultNFTable
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}

	if c.Conntrack == nil {
		c.Conntrack = &ConntrackConfig{}
	}
	ct := c.Conntrack
	if ct.Capacity == 0 {
		ct.Capacity = DefaultCapacity
	}
	if ct.Shards == 0 {
		ct.Shards = DefaultShards
	}
	if ct.TCPEstablishedTimeout == "" {
		ct.TCPEstablishedTimeout = DefaultTCPEstablished.String()
	}
	if ct.TCPTransientTimeout == "" {
		ct.TCPTransientTimeout = DefaultTCPTransient.String()
	}
	if ct.UDPTimeout == "" {
		ct.UDPTimeout = DefaultUDPTimeout.String()
	}
	if ct.SweepInterval == "" {
		ct.SweepInterval = DefaultSweepInterval.String()
	}
	if ct.SweepBatch == 0 {
		ct.SweepBatch = DefaultSweepBatch
	}
	if ct.WarnThreshold == 0 {
		ct.WarnThreshold = DefaultWarnThreshold
	}

	if c.Rules == nil {
		c.Rules = &RulesConfig{}
	}
	if c.Rules.UsageFlushInterval == "" {
		c.Rules.UsageFlushInterval = DefaultUsageFlushInterval.String()
	}

	if c.RPC == nil {
		c.RPC = &RPCConfig{}
	}
	if c.RPC.Listen == "" {
		c.RPC.Listen = DefaultRPCListen
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIListen
	}

	if c.EBPF == nil {
		c.EBPF = &EBPFConfig{}
	}
	if c.EBPF.PinDir == "" {
		c.EBPF.PinDir = DefaultPinDir
	}
	if c.EBPF.MaxEntries == 0 {
		c.EBPF.MaxEntries = DefaultMapEntries
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Syslog == nil {
		c.Log.Syslog = &SyslogConfig{}
	}
	if c.Log.Syslog.Port == 0 {
		c.Log.Syslog.Port = 514
	}
	if c.Log.Syslog.Protocol == "" {
		c.Log.Syslog.Protocol = "udp"
	}
	if c.Log.Syslog.Tag == "" {
		c.Log.Syslog.Tag = "flowgate"
	}
}

// IsEnabled reports whether the RPC service should listen.
func (r *RPCConfig) IsEnabled() bool { return r == nil || r.Enabled == nil || *r.Enabled }

// IsEnabled reports whether the HTTP API should listen.
func (a *APIConfig) IsEnabled() bool { return a == nil || a.Enabled == nil || *a.Enabled }

// Timeouts returns the per-state idle timeouts. Call after Validate.
func (ct *ConntrackConfig) Timeouts() (established, transient, udp time.Duration) {
	return durationOr(ct.TCPEstablishedTimeout, DefaultTCPEstablished),
		durationOr(ct.TCPTransientTimeout, DefaultTCPTransient),
		durationOr(ct.UDPTimeout, DefaultUDPTimeout)
}

// Interval returns the sweep period.
func (ct *ConntrackConfig) Interval() time.Duration {
	return durationOr(ct.SweepInterval, DefaultSweepInterval)
}

// FlushInterval returns the usage flush period.
func (r *RulesConfig) FlushInterval() time.Duration {
	return durationOr(r.UsageFlushInterval, DefaultUsageFlushInterval)
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
