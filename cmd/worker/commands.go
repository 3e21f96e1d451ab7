package main

import (
	"fmt"
	"time"

	"membership-service/internal/app"
	"membership-service/internal/config"
	"membership-service/internal/db"
	"membership-service/internal/service/expiry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepInterval time.Duration

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Background jobs for the membership service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		if cfg.StorageMode != config.StorageModePostgres {
			return fmt.Errorf("migrate requires STORAGE_MODE=%s", config.StorageModePostgres)
		}

		pool, err := db.ConnectDB(cmd.Context(), db.PostgresConfig{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry pass and print the counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		core, err := app.BuildCore(cmd.Context(), cfg, prometheus.NewRegistry(), logger)
		if err != nil {
			return err
		}
		defer core.Close()

		res, err := core.Sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%d succeeded=%d failed=%d\n", res.Scanned, res.Succeeded, res.Failed)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the expiry sweep periodically until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		core, err := app.BuildCore(cmd.Context(), cfg, prometheus.NewRegistry(), logger)
		if err != nil {
			return err
		}
		defer core.Close()

		interval := cfg.Expiry.Interval
		if sweepInterval > 0 {
			interval = sweepInterval
		}
		expiry.NewRunner(core.Sweeper, interval, logger).Run(cmd.Context())
		return nil
	},
}

func init() {
	runCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "override EXPIRY_SWEEP_INTERVAL")
	rootCmd.AddCommand(migrateCmd, sweepCmd, runCmd)
}

func setup() (config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return cfg, logger, nil
}
