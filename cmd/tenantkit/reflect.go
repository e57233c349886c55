// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/buildinfo"
	"github.com/autobrr/tenantkit/internal/config"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/schemagen"
)

// RunReflectCommand introspects a schema and writes its binding artifact.
func RunReflectCommand() *cobra.Command {
	var (
		configDir string
		database  string
		schema    string
		tenant    string
		refresh   bool
	)

	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Reflect a schema and write its binding artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			store, err := cfg.BindingStore()
			if err != nil {
				return fmt.Errorf("failed to open binding store: %w", err)
			}

			engines := engine.NewCache(cfg.EngineOptions(), hooks.NewRegistry())
			defer engines.Close()

			cache := bindings.NewCache(store, schemagen.NewJSONGenerator(), engines, cfg.BindingOptions())

			var h *bindings.Handle
			if refresh {
				h, err = cache.Refresh(cmd.Context(), database, tenant, schema, true)
			} else {
				h, err = cache.Get(cmd.Context(), database, tenant, schema, false)
			}
			if err != nil {
				return err
			}

			key := h.Key()
			path, _, err := store.Find(key.Database, key.Tenant, key.Schema)
			if err != nil {
				return fmt.Errorf("artifact written but not found on disk: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Reflected %s (%d tables)\n", key, len(h.Set().Names()))
			fmt.Fprintf(cmd.OutOrStdout(), "Generation: %s\n", h.GenerationID())
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", h.Fingerprint())
			fmt.Fprintf(cmd.OutOrStdout(), "Artifact: %s\n", path)

			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "path to configuration directory")
	cmd.Flags().StringVar(&database, "database", "", "raw database name to reflect")
	cmd.Flags().StringVar(&schema, "schema", "", "schema to reflect (defaults to the configured default schema)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (empty reflects a shared database)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-introspect even when a loaded binding exists")

	_ = cmd.MarkFlagRequired("database")

	return cmd
}
