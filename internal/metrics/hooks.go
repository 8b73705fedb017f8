// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hooks tracks the packet hooks the dataplane attaches.
type Hooks struct {
	Attached *prometheus.GaugeVec
	Errors   *prometheus.CounterVec
	Verdicts *prometheus.CounterVec
}

// NewHooks creates unregistered hook metrics.
func NewHooks() *Hooks {
	return &Hooks{
		Attached: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flowgate_hook_attached",
			Help: "Whether a packet hook is attached (1 for attached, 0 for detached)",
		}, []string{"mode", "interface"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgate_hook_errors_total",
			Help: "Total number of packet hook errors",
		}, []string{"mode", "error_type"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowgate_hook_verdicts_total",
			Help: "Verdicts handed back to the host packet hook, by host action",
		}, []string{"mode", "action"}),
	}
}

// Register adds the collectors to reg.
func (h *Hooks) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{h.Attached, h.Errors, h.Verdicts} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry builds a registry with the collector, the hook metrics and the
// Go runtime collectors.
func Registry(c *Collector, h *Hooks) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	if h != nil {
		if err := h.Register(reg); err != nil {
			return nil, err
		}
	}
	if err := reg.Register(prometheus.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return reg, nil
}
