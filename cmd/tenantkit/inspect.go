// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/tenantkit/internal/buildinfo"
	"github.com/autobrr/tenantkit/internal/config"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/introspect"
	"github.com/autobrr/tenantkit/internal/schemagen"
)

// RunInspectCommand prints a live schema description or an existing binding
// artifact.
func RunInspectCommand() *cobra.Command {
	var (
		configDir    string
		database     string
		schema       string
		tenant       string
		fromArtifact bool
		output       string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print a schema description or an existing binding artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format %q (supported: json, yaml)", output)
			}

			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			if schema == "" {
				schema = cfg.BindingOptions().DefaultSchema
			}

			var doc any
			if fromArtifact {
				store, err := cfg.BindingStore()
				if err != nil {
					return fmt.Errorf("failed to open binding store: %w", err)
				}

				data, _, err := store.Read(database, tenant, schema)
				if err != nil {
					return err
				}

				env, err := schemagen.ParseEnvelope(data)
				if err != nil {
					return err
				}
				doc = env
			} else {
				engines := engine.NewCache(cfg.EngineOptions(), hooks.NewRegistry())
				defer engines.Close()

				eng, err := engines.Get(cmd.Context(), database, tenant, nil)
				if err != nil {
					return err
				}

				desc, err := introspect.NewPGInspector().Inspect(cmd.Context(), eng, schema)
				if err != nil {
					return err
				}
				doc = desc
			}

			return printDocument(cmd, doc, output)
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "path to configuration directory")
	cmd.Flags().StringVar(&database, "database", "", "raw database name to inspect")
	cmd.Flags().StringVar(&schema, "schema", "", "schema to inspect (defaults to the configured default schema)")
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (empty inspects a shared database)")
	cmd.Flags().BoolVar(&fromArtifact, "from-artifact", false, "read the stored artifact instead of introspecting live")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json or yaml")

	_ = cmd.MarkFlagRequired("database")

	return cmd
}

func printDocument(cmd *cobra.Command, doc any, format string) error {
	if format == "yaml" {
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to render json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
