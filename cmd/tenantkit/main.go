// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/autobrr/tenantkit/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tenantkit",
		Short: "Multi-tenant Postgres access layer toolkit",
		Long: `tenantkit manages per-tenant database engines, postcreate hooks and
schema binding artifacts. Subcommands bootstrap connections, reflect
schemas into binding artifacts and serve operational metrics.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunPingCommand())
	rootCmd.AddCommand(RunReflectCommand())
	rootCmd.AddCommand(RunInspectCommand())
	rootCmd.AddCommand(RunWarmCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
