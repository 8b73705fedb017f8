// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exports decision, table and dataplane counters to
// Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/rules"
)

// Sources are read on every scrape. Nil fields are skipped.
type Sources struct {
	Stats   *engine.Stats
	Conns   *conntrack.Table
	Rules   *rules.Table
	Sweeper *conntrack.Sweeper
}

// Collector reads live counters at scrape time, so the packet path never
// touches Prometheus types.
type Collector struct {
	src Sources

	decisions    *prometheus.Desc
	bytes        *prometheus.Desc
	flows        *prometheus.Desc
	flowCapacity *prometheus.Desc
	rules        *prometheus.Desc
	sweeps       *prometheus.Desc
	evicted      *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,
		decisions: prometheus.NewDesc("flowgate_decisions_total",
			"Packets classified, by verdict and reason", []string{"verdict", "reason"}, nil),
		bytes: prometheus.NewDesc("flowgate_bytes_total",
			"Bytes classified, by verdict", []string{"verdict"}, nil),
		flows: prometheus.NewDesc("flowgate_conntrack_entries",
			"Tracked flows in the connection table", nil, nil),
		flowCapacity: prometheus.NewDesc("flowgate_conntrack_capacity",
			"Connection table capacity", nil, nil),
		rules: prometheus.NewDesc("flowgate_rules",
			"Rules in the live rule table", nil, nil),
		sweeps: prometheus.NewDesc("flowgate_sweeps_total",
			"Expiration sweeps completed", nil, nil),
		evicted: prometheus.NewDesc("flowgate_conntrack_evicted_total",
			"Flows evicted by the expiration sweeper", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.decisions
	ch <- c.bytes
	ch <- c.flows
	ch <- c.flowCapacity
	ch <- c.rules
	ch <- c.sweeps
	ch <- c.evicted
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if s := c.src.Stats; s != nil {
		snap := s.Snapshot()
		for _, r := range engine.Reasons() {
			ch <- prometheus.MustNewConstMetric(c.decisions, prometheus.CounterValue,
				float64(s.Reason(r)), engine.VerdictFor(r).String(), r.String())
		}
		for verdict, n := range snap.Bytes {
			ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(n), verdict)
		}
	}
	if t := c.src.Conns; t != nil {
		ch <- prometheus.MustNewConstMetric(c.flows, prometheus.GaugeValue, float64(t.Len()))
		ch <- prometheus.MustNewConstMetric(c.flowCapacity, prometheus.GaugeValue, float64(t.Capacity()))
	}
	if t := c.src.Rules; t != nil {
		ch <- prometheus.MustNewConstMetric(c.rules, prometheus.GaugeValue, float64(t.Len()))
	}
	if sw := c.src.Sweeper; sw != nil {
		st := sw.Stats()
		ch <- prometheus.MustNewConstMetric(c.sweeps, prometheus.CounterValue, float64(st.Sweeps))
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(st.Evicted))
	}
}
