// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cli assembles the printarr command tree and wires the service
// graph for the serve command.
package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/printarr/printarr/internal/version"
)

// rootOpts holds the global flags shared by every subcommand.
type rootOpts struct {
	ConfigFile string
}

// Execute runs the CLI. The returned error is already printed by cobra;
// callers only translate it into an exit code.
func Execute() error {
	ro := &rootOpts{}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:           "printarr",
		Short:         "Self-hosted ingestion and cataloguing service for 3D-printable designs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}
	root.PersistentFlags().StringVarP(&ro.ConfigFile, "config", "c", "", "Path to config file (JSON or YAML)")

	root.AddCommand(
		newServeCmd(ro),
		newMigrateCmd(ro),
		newImportCmd(ro),
		newConfigCmd(ro),
		newVersionCmd(),
	)
	return root.ExecuteContext(ctx)
}
