// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/ctlplane"
	"grimm.is/flowgate/internal/dataplane"
	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rules"
	"grimm.is/flowgate/internal/store"
)

// runReplay classifies a pcap against the persisted rules without touching
// the network. Flows are tracked on the capture's own timeline.
func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	dbPath := fs.String("db", "/var/lib/flowgate/rules.db", "Rule database")
	capacity := fs.Int("capacity", conntrack.DefaultCapacity, "Connection table capacity")
	verbose := fs.Bool("verbose", false, "Print every decision")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: flowgate replay [-db <file>] [-verbose] <pcap>")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	table := rules.NewTable()
	err = ctlplane.NewBridge(st, table, ctlplane.Options{
		Logger: logging.WithComponent("replay"),
	}).Bootstrap(context.Background())
	st.Close()
	if err != nil {
		return err
	}

	clk := clock.NewMockClock(time.Unix(0, 0))
	eng := engine.New(conntrack.NewTable(conntrack.TableConfig{Capacity: *capacity}), table, clk)

	opts := dataplane.ReplayOptions{Clock: clk}
	if *verbose {
		opts.OnDecision = func(n uint64, d engine.Decision) {
			fmt.Printf("%6d  %s\n", n, d)
		}
	}

	tally, err := dataplane.ReplayFile(fs.Arg(0), eng, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(tally)
}
