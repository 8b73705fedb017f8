// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import "sync/atomic"

// Stats counts decisions. All counters are updated atomically from the
// packet path.
type Stats struct {
	reasons [numReasons]atomic.Uint64
	bytes   [VerdictPass + 1]atomic.Uint64
}

func (s *Stats) record(d Decision, length int) {
	s.reasons[d.Reason].Add(1)
	s.bytes[d.Verdict].Add(uint64(length))
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Pass    uint64            `json:"pass"`
	Drop    uint64            `json:"drop"`
	Abort   uint64            `json:"abort"`
	Bytes   map[string]uint64 `json:"bytes"`
	Reasons map[string]uint64 `json:"reasons"`
}

// Total is the number of classified packets.
func (s StatsSnapshot) Total() uint64 {
	return s.Pass + s.Drop + s.Abort
}

// Reason returns the count for one reason.
func (s *Stats) Reason(r Reason) uint64 {
	if r >= numReasons {
		return 0
	}
	return s.reasons[r].Load()
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Bytes:   make(map[string]uint64, 3),
		Reasons: make(map[string]uint64, numReasons),
	}
	for r := Reason(0); r < numReasons; r++ {
		n := s.reasons[r].Load()
		snap.Reasons[r.String()] = n
		switch VerdictFor(r) {
		case VerdictPass:
			snap.Pass += n
		case VerdictDrop:
			snap.Drop += n
		default:
			snap.Abort += n
		}
	}
	for v := VerdictAbort; v <= VerdictPass; v++ {
		snap.Bytes[v.String()] = s.bytes[v].Load()
	}
	return snap
}

// VerdictFor returns the verdict a reason always produces.
func VerdictFor(r Reason) Verdict {
	switch r {
	case ReasonMalformed, ReasonBounds:
		return VerdictAbort
	case ReasonNonIPv4, ReasonAdmitted, ReasonTracked, ReasonReply, ReasonUntrackedAllowed:
		return VerdictPass
	default:
		return VerdictDrop
	}
}
