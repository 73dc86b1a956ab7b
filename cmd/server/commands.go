package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"trafficcounter/internal/app"
	"trafficcounter/internal/config"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/repository/sqlite"
)

type options struct {
	configFile string
	envFile    string
}

// RootCommand creates the CLI. Without a subcommand it serves.
func RootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "trafficcounter",
		Short:         "Vehicle line-crossing counter",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Path to a .env file loaded before the config")

	rootCmd.AddCommand(
		serveCommand(opts),
		syncCommand(opts),
		cleanupCommand(opts),
		configCommand(opts),
		probeCommand(opts),
		migrateCommand(opts),
	)
	return rootCmd
}

func serveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run capture, counting, sync and the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func syncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Upload every pending record to the remote store and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine().SyncAll(ctx)
				printJSON(res)
				return err
			})
		},
	}
}

func cleanupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Apply local and remote retention once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine().Cleanup(ctx)
				printJSON(res)
				return err
			})
		},
	}
}

func configCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func probeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <origin>",
		Short: "Check that an origin delivers frames on some capture backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log, err := logger.NewLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Close()

			if err := app.Probe(cmd.Context(), cfg, log, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s is available\n", args[0])
			return nil
		},
	}
}

func migrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the local database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			db, err := sqlite.New(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			total, err := sqlite.NewDetectionRepository(db).Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Database %s is up to date (%d detections)\n", cfg.Database.Path, total)
			return nil
		},
	}
}

func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	return config.Load(opts.configFile)
}

func runServe(ctx context.Context, opts *options) error {
	return withApp(ctx, opts, func(ctx context.Context, a *app.App) error {
		return a.Serve(ctx)
	})
}

func withApp(ctx context.Context, opts *options, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("❌ Failed to initialize: %v", err)
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Error closing resources: %v", err)
		}
	}()

	return fn(ctx, a)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
