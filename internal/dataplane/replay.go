// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import (
	"io"
	"os"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/errors"
)

// Tally counts the decisions of a replay.
type Tally struct {
	Packets uint64            `json:"packets"`
	Pass    uint64            `json:"pass"`
	Drop    uint64            `json:"drop"`
	Abort   uint64            `json:"abort"`
	Reasons map[string]uint64 `json:"reasons"`
}

func (t *Tally) add(d engine.Decision) {
	t.Packets++
	switch d.Verdict {
	case engine.VerdictPass:
		t.Pass++
	case engine.VerdictDrop:
		t.Drop++
	default:
		t.Abort++
	}
	t.Reasons[d.Reason.String()]++
}

// ReplayOptions tunes a replay.
type ReplayOptions struct {
	// Clock, when set, is moved to each packet's capture time before the
	// packet is classified. It should be the engine's clock.
	Clock *clock.MockClock
	// OnDecision is called after every packet.
	OnDecision func(n uint64, d engine.Decision)
}

// Replay feeds every packet of a pcap stream through cls. Ethernet and raw
// IPv4 link types are supported.
func Replay(r io.Reader, cls Classifier, opts ReplayOptions) (Tally, error) {
	tally := Tally{Reasons: map[string]uint64{}}

	rd, err := pcapgo.NewReader(r)
	if err != nil {
		return tally, errors.Wrap(err, errors.KindValidation, "not a pcap stream")
	}

	var classify func([]byte) engine.Decision
	switch lt := rd.LinkType(); lt {
	case layers.LinkTypeEthernet:
		classify = cls.Classify
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		classify = cls.ClassifyIPv4
	default:
		return tally, errors.Errorf(errors.KindValidation, "unsupported pcap link type %s", lt)
	}

	for {
		data, ci, err := rd.ReadPacketData()
		if err == io.EOF {
			return tally, nil
		}
		if err != nil {
			return tally, errors.Wrapf(err, errors.KindValidation, "read packet %d", tally.Packets+1)
		}
		if opts.Clock != nil {
			opts.Clock.Set(ci.Timestamp)
		}
		d := classify(data)
		tally.add(d)
		if opts.OnDecision != nil {
			opts.OnDecision(tally.Packets, d)
		}
	}
}

// ReplayFile replays the pcap file at path.
func ReplayFile(path string, cls Classifier, opts ReplayOptions) (Tally, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tally{}, errors.Wrapf(err, errors.KindNotFound, "open %s", path)
	}
	defer f.Close()
	return Replay(f, cls, opts)
}
