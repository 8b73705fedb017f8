// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dataplane attaches the decision engine to a network interface and
// maps its verdicts onto the host's packet hook actions.
package dataplane

import (
	"context"
	"fmt"

	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
)

// Mode selects how packets reach the engine.
type Mode string

const (
	// ModeInline enforces verdicts through an nfqueue hook.
	ModeInline Mode = "inline"
	// ModeObserve classifies a copy of every frame without enforcing.
	ModeObserve Mode = "observe"
	// ModeOff attaches nothing.
	ModeOff Mode = "off"
)

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeInline, ModeObserve, ModeOff:
		return m, nil
	case "":
		return ModeInline, nil
	}
	return "", errors.Errorf(errors.KindValidation, "unknown dataplane mode %q: must be inline, observe or off", s)
}

// Config describes the attach point.
type Config struct {
	Mode      Mode
	Interface string
	// QueueNum is the netfilter queue used in inline mode.
	QueueNum    uint16
	MaxQueueLen uint32
	// TableName is the nftables table holding the queue rule.
	TableName string
}

// DefaultConfig returns inline mode on queue 100.
func DefaultConfig() Config {
	return Config{
		Mode:        ModeInline,
		QueueNum:    100,
		MaxQueueLen: 4096,
		TableName:   "flowgate",
	}
}

// Classifier decides packets. *engine.Engine implements it.
type Classifier interface {
	Classify(frame []byte) engine.Decision
	ClassifyIPv4(pkt []byte) engine.Decision
}

// Hook is an attached packet source. Run blocks until ctx is cancelled and
// detaches before returning.
type Hook interface {
	Name() string
	Run(ctx context.Context) error
}

// New builds the hook for cfg.Mode.
func New(cfg Config, cls Classifier, hooks *metrics.Hooks, logger *logging.Logger) (Hook, error) {
	if logger == nil {
		logger = logging.WithComponent("dataplane")
	}
	if hooks == nil {
		hooks = metrics.NewHooks()
	}
	if cfg.Mode != ModeOff && cfg.Interface == "" {
		return nil, errors.New(errors.KindValidation, "dataplane interface is required")
	}

	switch cfg.Mode {
	case ModeInline:
		return newInlineHook(cfg, cls, hooks, logger), nil
	case ModeObserve:
		return newObserveHook(cfg, cls, hooks, logger), nil
	case ModeOff:
		return offHook{logger: logger}, nil
	}
	return nil, errors.Errorf(errors.KindValidation, "unknown dataplane mode %q", cfg.Mode)
}

type offHook struct {
	logger *logging.Logger
}

func (offHook) Name() string { return string(ModeOff) }

func (h offHook) Run(ctx context.Context) error {
	h.logger.Warn("Dataplane disabled, no packets are being classified")
	<-ctx.Done()
	return nil
}

func hookError(mode Mode, iface string, err error) error {
	return errors.Attr(errors.Wrap(err, errors.KindUnavailable, fmt.Sprintf("%s hook on %s failed", mode, iface)), "interface", iface)
}
