// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command flowgate runs the stateful firewall daemon and administers its rules.
package main

import (
	"fmt"
	"os"
)

const usage = `Usage: flowgate <command> [flags]

Commands:
  run      -config <file>                     Run the firewall daemon
  replay   [-db <file>] [-verbose] <pcap>     Classify a capture offline
  status   [-addr <host:port>]                Show daemon status
  rules    list|create|delete [flags]         Administer static rules
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runDaemon(args)
	case "replay":
		err = runReplay(args)
	case "status":
		err = runStatus(args)
	case "rules":
		err = runRules(args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
