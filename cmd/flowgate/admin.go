// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"grimm.is/flowgate/internal/config"
	"grimm.is/flowgate/internal/rpc"
	"grimm.is/flowgate/internal/rules"
)

const rpcTimeout = 10 * time.Second

func dial(fs *flag.FlagSet, args []string) (*rpc.Client, []string, error) {
	addr := fs.String("addr", config.DefaultRPCListen, "Daemon RPC address")
	fs.Parse(args)
	c, err := rpc.Dial(*addr)
	if err != nil {
		return nil, nil, err
	}
	return c, fs.Args(), nil
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print the full status as JSON")
	c, _, err := dial(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	st, err := c.GetStatus(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, st)
	}
	fmt.Println(st.Status)
	return nil
}

func runRules(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: flowgate rules list|create|delete [flags]")
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "list":
		return rulesList(rest)
	case "create":
		return rulesCreate(rest)
	case "delete":
		return rulesDelete(rest)
	default:
		return fmt.Errorf("unknown rules command %q", sub)
	}
}

func rulesList(args []string) error {
	fs := flag.NewFlagSet("rules list", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print rules as JSON")
	c, _, err := dial(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	list, err := c.ListRules(ctx)
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(os.Stdout, list)
	}
	return printRules(os.Stdout, list)
}

func printRules(w io.Writer, list []rpc.RuleInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tSPORT\tDEST\tDPORT\tPROTO\tACTION\tHITS")
	for _, r := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.ID, r.SourceIP, r.SourcePort, r.DestIP, r.DestPort, r.Protocol, r.Action, r.UsageCount)
	}
	return tw.Flush()
}

func rulesCreate(args []string) error {
	fs := flag.NewFlagSet("rules create", flag.ExitOnError)
	var spec rules.Spec
	fs.StringVar(&spec.SourceIP, "src", "", "Source IPv4 address")
	fs.StringVar(&spec.DestIP, "dst", "", "Destination IPv4 address")
	fs.StringVar(&spec.SourcePort, "sport", "*", "Source port or *")
	fs.StringVar(&spec.DestPort, "dport", "*", "Destination port or *")
	fs.StringVar(&spec.Action, "action", "allow", "allow or deny")
	fs.StringVar(&spec.Protocol, "proto", "any", "tcp, udp or any")
	c, _, err := dial(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	resp, err := c.CreateRule(ctx, spec)
	if err != nil {
		return err
	}
	fmt.Printf("%s (id %d)\n", resp.Message, resp.CreatedRuleID)
	return nil
}

func rulesDelete(args []string) error {
	fs := flag.NewFlagSet("rules delete", flag.ExitOnError)
	c, rest, err := dial(fs, args)
	if err != nil {
		return err
	}
	defer c.Close()

	if len(rest) != 1 {
		return fmt.Errorf("usage: flowgate rules delete [-addr <host:port>] <id>")
	}
	id, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid rule id %q", rest[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()
	resp, err := c.DeleteRule(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("%s (id %d)\n", resp.Message, resp.DeletedRuleID)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
