// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"fmt"
	"time"

	"grimm.is/flowgate/internal/engine"
)

// Status is the runtime summary reported to administrators.
type Status struct {
	Status       string               `json:"status"`
	InstanceID   string               `json:"instance_id"`
	StartedAt    time.Time            `json:"started_at"`
	Uptime       string               `json:"uptime"`
	Rules        int                  `json:"rules"`
	Flows        int                  `json:"flows"`
	FlowCapacity int                  `json:"flow_capacity"`
	Decisions    engine.StatsSnapshot `json:"decisions"`
}

// Status reports the live rule and flow counts.
func (b *Bridge) Status() Status {
	st := Status{
		Status:     "running",
		InstanceID: b.instanceID,
		StartedAt:  b.startedAt,
		Uptime:     b.opts.Clock.Now().Sub(b.startedAt).Truncate(time.Second).String(),
		Rules:      b.table.Len(),
	}
	if b.opts.Conns != nil {
		st.Flows = b.opts.Conns.Len()
		st.FlowCapacity = b.opts.Conns.Capacity()
	}
	if b.opts.Stats != nil {
		st.Decisions = b.opts.Stats()
	}
	return st
}

// Summary is the one-line form of s.
func (s Status) Summary() string {
	return fmt.Sprintf("%s: %d rules, %d/%d flows, %d passed, %d dropped, %d aborted (up %s)",
		s.Status, s.Rules, s.Flows, s.FlowCapacity,
		s.Decisions.Pass, s.Decisions.Drop, s.Decisions.Abort, s.Uptime)
}
