package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/danmuck/teleinfo/internal/collector"
	"github.com/danmuck/teleinfo/internal/config"
	"github.com/danmuck/teleinfo/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "teleinfo",
		Short: "Electricity meter teleinfo collector",
		Long: `teleinfo reads the customer telemetry output of an electricity meter,
validates every frame and writes its readings to InfluxDB.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logging.ConfigureRuntime(cfg.Log.File, cfg.Log.Level); err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			defer logging.Close()
			log.Info().Str("config", configPath).Msg("teleinfo starting")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := collector.NewService(cfg).Run(ctx); err != nil {
				log.Error().Err(err).Msg("teleinfo stopped")
				return err
			}
			log.Info().Msg("teleinfo stopped")
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the TOML configuration (defaults apply when empty)")

	root.AddCommand(newConfigCmd(&configPath))
	return root
}

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the collector configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration given by --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(*configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s\n", *configPath)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
