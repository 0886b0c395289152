package main

import (
	"context"

	"github.com/hyperjump/wayfarer/internal/cli"
	"github.com/hyperjump/wayfarer/internal/models"
	"github.com/hyperjump/wayfarer/internal/server"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show layer, query log and disk status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		if serverURLArg != "" {
			var status models.Status
			if err := getJSON(serverURLArg, "/api/v1/status", &status); err != nil {
				return err
			}
			return cli.WriteStatus(cmd.OutOrStdout(), &status, format)
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{})
		if err != nil {
			return err
		}
		defer components.Close()
		ctx := context.Background()
		// Status reports missing layers instead of failing on them.
		_ = components.Registry.LoadAll(ctx)

		status, err := server.CollectStatus(ctx, components.Registry, components.Storage, cfg, logger)
		if err != nil {
			return err
		}
		return cli.WriteStatus(cmd.OutOrStdout(), status, format)
	},
}
