// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

// Verdict is the per-packet outcome. The zero value is Abort.
type Verdict uint8

const (
	// VerdictAbort means the packet could not be parsed. It is dropped.
	VerdictAbort Verdict = iota
	// VerdictDrop means policy rejected the packet.
	VerdictDrop
	// VerdictPass means the packet is forwarded.
	VerdictPass
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictDrop:
		return "drop"
	default:
		return "abort"
	}
}

// Forward reports whether the packet may continue.
func (v Verdict) Forward() bool {
	return v == VerdictPass
}

// Reason records which branch of the decision produced a verdict.
type Reason uint8

const (
	ReasonMalformed Reason = iota
	ReasonBounds
	ReasonNonIPv4
	ReasonFragment
	ReasonNoRule
	ReasonDenied
	ReasonNotInitiating
	ReasonCapacity
	ReasonAdmitted
	ReasonTracked
	ReasonReply
	ReasonReset
	ReasonUntrackedAllowed

	numReasons
)

var reasonNames = [numReasons]string{
	ReasonMalformed:        "malformed",
	ReasonBounds:           "bounds",
	ReasonNonIPv4:          "non_ipv4",
	ReasonFragment:         "fragment",
	ReasonNoRule:           "no_rule",
	ReasonDenied:           "denied",
	ReasonNotInitiating:    "not_initiating",
	ReasonCapacity:         "capacity",
	ReasonAdmitted:         "admitted",
	ReasonTracked:          "tracked",
	ReasonReply:            "reply",
	ReasonReset:            "reset",
	ReasonUntrackedAllowed: "untracked_allowed",
}

func (r Reason) String() string {
	if r < numReasons {
		return reasonNames[r]
	}
	return "unknown"
}

// Reasons lists every reason in declaration order.
func Reasons() []Reason {
	out := make([]Reason, numReasons)
	for i := range out {
		out[i] = Reason(i)
	}
	return out
}

// Decision is a verdict with the reason for it.
type Decision struct {
	Verdict Verdict
	Reason  Reason
}

func (d Decision) String() string {
	return d.Verdict.String() + "(" + d.Reason.String() + ")"
}

func pass(r Reason) Decision  { return Decision{Verdict: VerdictPass, Reason: r} }
func drop(r Reason) Decision  { return Decision{Verdict: VerdictDrop, Reason: r} }
func abort(r Reason) Decision { return Decision{Verdict: VerdictAbort, Reason: r} }
