// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/tenantkit/internal/buildinfo"
	"github.com/autobrr/tenantkit/internal/config"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
)

// RunPingCommand bootstraps a single identity and verifies connectivity.
func RunPingCommand() *cobra.Command {
	var (
		configDir      string
		database       string
		tenant         string
		promptPassword bool
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Bootstrap one identity and verify connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			opts := cfg.EngineOptions()
			if promptPassword {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				password, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("failed to read password: %w", err)
				}
				opts.Password = string(password)
			}

			engines := engine.NewCache(opts, hooks.NewRegistry())
			defer engines.Close()

			start := time.Now()
			eng, err := engines.Get(cmd.Context(), database, tenant, nil)
			if err != nil {
				return err
			}
			if err := eng.Ping(cmd.Context()); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s in %s (pooled: %t)\n",
				eng.Identity(), time.Since(start).Round(time.Millisecond), eng.Pooled())

			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "path to configuration directory")
	cmd.Flags().StringVar(&database, "database", "", "raw database name to connect to")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (empty pings a shared database)")
	cmd.Flags().BoolVar(&promptPassword, "prompt-password", false, "prompt for the database password instead of reading config")

	_ = cmd.MarkFlagRequired("database")

	return cmd
}
