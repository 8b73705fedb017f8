// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/flowgate/internal/config"
	"grimm.is/flowgate/internal/daemon"
	"grimm.is/flowgate/internal/logging"
)

func runDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "/etc/flowgate/flowgate.hcl", "Path to HCL or JSON config file")
	iface := fs.String("interface", "", "Override the configured interface")
	fs.Parse(args)

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return err
	}
	if *iface != "" {
		cfg.Interface = *iface
		if errs := cfg.Validate(); errs.HasErrors() {
			return errs
		}
	}

	logger := logging.New(daemon.LoggingConfig(cfg.Log))
	logging.SetDefault(logger)
	logger.Info("Loaded configuration", "path", *configPath)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
