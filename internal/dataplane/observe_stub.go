// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package dataplane

import (
	"context"
	"fmt"

	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
)

type observeHook struct {
	cfg Config
}

func newObserveHook(cfg Config, _ Classifier, _ *metrics.Hooks, _ *logging.Logger) *observeHook {
	return &observeHook{cfg: cfg}
}

func (h *observeHook) Name() string { return string(ModeObserve) }

// Run returns an error on non-Linux systems.
func (h *observeHook) Run(context.Context) error {
	return hookError(ModeObserve, h.cfg.Interface, fmt.Errorf("af_packet capture is only supported on Linux"))
}
