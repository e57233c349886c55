// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/tenantkit/internal/bindings"
	"github.com/autobrr/tenantkit/internal/buildinfo"
	"github.com/autobrr/tenantkit/internal/config"
	"github.com/autobrr/tenantkit/internal/engine"
	"github.com/autobrr/tenantkit/internal/hooks"
	"github.com/autobrr/tenantkit/internal/metrics"
	"github.com/autobrr/tenantkit/internal/schemagen"
	"github.com/autobrr/tenantkit/internal/tenancy"
)

// RunWarmCommand bootstraps engines for a list of identities concurrently.
func RunWarmCommand() *cobra.Command {
	var (
		configDir    string
		identityList []string
		withMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Bootstrap engines for a list of identities",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Parse everything up front so a typo fails before any
			// connection is opened.
			identities := make([]tenancy.Identity, 0, len(identityList))
			for _, qualified := range identityList {
				identity, err := tenancy.Parse(strings.TrimSpace(qualified))
				if err != nil {
					return fmt.Errorf("invalid identity %q: %w", qualified, err)
				}
				identities = append(identities, identity)
			}

			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize config: %w", err)
			}

			engines := engine.NewCache(cfg.EngineOptions(), hooks.NewRegistry())
			defer engines.Close()

			if withMetrics {
				store, err := cfg.BindingStore()
				if err != nil {
					return fmt.Errorf("failed to open binding store: %w", err)
				}
				bindingCache := bindings.NewCache(store, schemagen.NewJSONGenerator(), engines, cfg.BindingOptions())

				if cfg.Config.Bindings.Watch {
					watcher, err := bindings.NewWatcher(bindingCache, store, bindings.DefaultWatchDelay)
					if err != nil {
						return fmt.Errorf("failed to watch binding artifacts: %w", err)
					}
					defer watcher.Close()
				}

				manager := metrics.NewMetricsManager(engines, bindingCache)
				server := metrics.NewMetricsServer(manager, cfg, cfg.MetricsAddr(), cfg.Config.Metrics.BasicAuthUsers)

				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := server.Shutdown(shutdownCtx); err != nil {
						log.Debug().Err(err).Msg("Metrics server shutdown failed")
					}
				}()
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			for _, identity := range identities {
				g.Go(func() error {
					start := time.Now()
					if _, err := engines.Get(ctx, identity.Database, identity.Tenant, nil); err != nil {
						return fmt.Errorf("warm %s: %w", identity, err)
					}

					log.Info().
						Str("identity", identity.String()).
						Dur("elapsed", time.Since(start)).
						Msg("Engine warmed")
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Warmed %d engines\n", engines.Len())

			return nil
		},
	}

	cmd.Flags().StringVar(&configDir, "config-dir", "", "path to configuration directory")
	cmd.Flags().StringSliceVar(&identityList, "identities", nil, "qualified identities to warm (tenant__database, or database for shared)")
	cmd.Flags().BoolVar(&withMetrics, "metrics", false, "serve Prometheus metrics while warming")

	_ = cmd.MarkFlagRequired("identities")

	return cmd
}
