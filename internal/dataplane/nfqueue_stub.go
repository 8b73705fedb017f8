// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux

package dataplane

import (
	"context"
	"fmt"

	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
)

type inlineHook struct {
	cfg Config
}

func newInlineHook(cfg Config, _ Classifier, _ *metrics.Hooks, _ *logging.Logger) *inlineHook {
	return &inlineHook{cfg: cfg}
}

func (h *inlineHook) Name() string { return string(ModeInline) }

// Run returns an error on non-Linux systems.
func (h *inlineHook) Run(context.Context) error {
	return hookError(ModeInline, h.cfg.Interface, fmt.Errorf("nfqueue is only supported on Linux"))
}
