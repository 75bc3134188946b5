package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"CatalogEnricher/internal/app"
	"CatalogEnricher/internal/config"
	"CatalogEnricher/internal/logging"
)

type commandContext struct {
	configFlag string
	cfg        config.Config
	logger     *slog.Logger
}

func (c *commandContext) load() error {
	path := c.configFlag
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "catalogenricher",
		Short:         "Enrich catalog records with structured metadata from an inference provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cc.load()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cc)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cc.configFlag, "config", "c", "", "Configuration file path (defaults to $CATALOG_ENRICHER_CONFIG)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Execute a single enrichment run and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(cmd.Context(), cc)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "watch",
		Short: "Start a run every scheduler interval and serve metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(cmd.Context(), cc.cfg, cc.logger)
			if err != nil {
				return err
			}
			defer application.Close()

			err = application.Watch(cmd.Context())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the number of records still awaiting enrichment",
		RunE: func(cmd *cobra.Command, args []string) error {
			remaining, err := app.Backlog(cmd.Context(), cc.cfg, cc.logger.With("component", "storage"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unanalyzed records: %d\n", remaining)
			return nil
		},
	})

	return rootCmd
}

// runOnce fails only when the run cannot start. Whatever happens during the
// run is reported through the log and the process still exits normally.
func runOnce(ctx context.Context, cc *commandContext) error {
	application, err := app.New(ctx, cc.cfg, cc.logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if _, err := application.Run(ctx); err != nil {
		cc.logger.Error("enrichment run ended early", "error", err)
	}
	return nil
}
