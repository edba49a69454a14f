// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/printarr/printarr/internal/catalog"
	"github.com/printarr/printarr/internal/config"
)

func newMigrateCmd(ro *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.ConfigFile)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := catalog.Open(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}
			current, latest, err := store.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at revision %d (latest %d)\n", current, latest)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema revision without applying anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.ConfigFile)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			store, err := catalog.Open(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			current, latest, err := store.MigrationStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current: %d\nlatest:  %d\n", current, latest)
			return nil
		},
	})
	return cmd
}
