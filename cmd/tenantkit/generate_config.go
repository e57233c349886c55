// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/autobrr/tenantkit/internal/config"
)

// RunGenerateConfigCommand writes the commented default config.toml.
func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := configDir
			if dir == "" {
				dir = config.GetDefaultConfigDir()
			}
			configPath := filepath.Join(dir, "config.toml")

			if err := config.WriteDefaultConfig(configPath); err != nil {
				if errors.Is(err, os.ErrExist) {
					fmt.Fprintf(cmd.OutOrStdout(), "Config file already exists at %s\n", configPath)
					fmt.Fprintln(cmd.OutOrStdout(), "Skipping generation to avoid overwriting")
					return nil
				}
				return fmt.Errorf("failed to generate config file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Generated default config file at %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "directory to write config.toml into (defaults to the OS config dir)")

	return cmd
}
