// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/reelherd/reelherd/internal/buildinfo"
	"github.com/reelherd/reelherd/internal/catalog"
	"github.com/reelherd/reelherd/internal/config"
	"github.com/reelherd/reelherd/internal/dispatch"
	"github.com/reelherd/reelherd/internal/filter"
	"github.com/reelherd/reelherd/internal/ledger"
	"github.com/reelherd/reelherd/internal/organizer"
	"github.com/reelherd/reelherd/internal/pipeline"
	"github.com/reelherd/reelherd/internal/realdebrid"
)

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "reelherd",
		Short: "Discover high-resolution movie releases and dispatch them to Real-Debrid",
		Long: `reelherd polls the YTS catalog for newly listed high-resolution releases,
records qualifying ones to a rating-tier/genre hierarchy and forwards new
magnet links to Real-Debrid, bounded and rate-limit aware per run.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunLedgerCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		outputDir string
		logPath   string
	)

	command := &cobra.Command{
		Use:   "run",
		Short: "Execute one discovery-and-dispatch pass",
		Long: `Execute one full pipeline pass: poll the catalog, record new qualifying
releases and upload pending ones. Exits non-zero only when discovery or the
ledger fails; disabled or partially skipped uploads are not failures.`,
		SilenceUsage: true,
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/reelherd/). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the ledger database (default is next to config file)")
	command.Flags().StringVar(&outputDir, "output-dir", "", "output root for recorded releases (overrides config)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr)")

	command.RunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New(configDir, buildinfo.Version)
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}

		if dataDir != "" {
			cfg.SetDataDir(dataDir)
		}
		if outputDir != "" {
			cfg.Config.OutputDir = outputDir
		}
		if logPath != "" {
			cfg.Config.LogPath = logPath
		}

		cfg.ApplyLogConfig()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runPipeline(ctx, cfg)
	}

	return command
}

func runPipeline(ctx context.Context, cfg *config.AppConfig) error {
	led, err := ledger.Open(cfg.GetLedgerPath())
	if err != nil {
		return errors.Wrap(err, "failed to open ledger")
	}
	defer led.Close()

	org, err := organizer.New(organizer.Options{
		OutputRoot:      cfg.Config.OutputDir,
		DownloadPosters: cfg.Config.DownloadPosters,
		CSVIndex:        cfg.Config.CSVIndex,
	}, led)
	if err != nil {
		return errors.Wrap(err, "failed to prepare output directory")
	}

	cat := catalog.NewClient(catalog.Options{
		Resolution: cfg.Config.Resolution,
		MinRating:  cfg.Config.MinRating,
		SortBy:     cfg.Config.SortBy,
		DelayMin:   cfg.Config.CatalogDelayMin,
		DelayMax:   cfg.Config.CatalogDelayMax,
		Retries:    cfg.Config.CatalogRetries,
	})

	var uploader dispatch.Uploader
	if key := strings.TrimSpace(cfg.Config.RealDebridAPIKey); key != "" {
		uploader = realdebrid.NewClient(key)
	}

	dispatcher := dispatch.New(uploader, led, dispatch.Options{
		MaxPerRun:   cfg.Config.MaxUploadsPerRun,
		Delay:       cfg.Config.UploadDelay,
		Retries:     cfg.Config.UploadRetries,
		MaxAttempts: cfg.Config.MaxUploadAttempts,
		CachedOnly:  cfg.Config.CachedOnly,
	})

	criteria := filter.Criteria{
		Resolution: cfg.Config.Resolution,
		MinRating:  cfg.Config.MinRating,
		MinYear:    cfg.Config.MinYear(time.Now()),
	}

	runner := pipeline.New(cat, org, dispatcher, criteria, cfg.Config.MaxPages)

	log.Info().
		Str("version", buildinfo.Version).
		Str("resolution", cfg.Config.Resolution).
		Float64("min_rating", cfg.Config.MinRating).
		Int("min_year", criteria.MinYear).
		Str("output", cfg.Config.OutputDir).
		Msg("Starting run")

	if _, err := runner.Run(ctx); err != nil {
		return errors.Wrap(err, "run failed")
	}

	return nil
}

func RunVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of reelherd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without running the pipeline.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/reelherd/config.toml
- Windows: %APPDATA%\reelherd\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				configPath = filepath.Join(config.GetDefaultConfigDir(), "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return errors.Wrap(err, "failed to generate config")
			}

			cmd.Printf("Generated default configuration at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")

	return command
}

func RunLedgerCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the dedup ledger",
	}

	command.AddCommand(runLedgerStatsCommand())
	command.AddCommand(runLedgerPruneCommand())

	return command
}

func openLedgerFromFlags(configDir, dataDir string) (*ledger.Ledger, *config.AppConfig, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	led, err := ledger.Open(cfg.GetLedgerPath())
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open ledger")
	}
	return led, cfg, nil
}

func runLedgerStatsCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
	)

	command := &cobra.Command{
		Use:          "stats",
		Short:        "Print recorded/uploaded/pending/terminal counts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			led, cfg, err := openLedgerFromFlags(configDir, dataDir)
			if err != nil {
				return err
			}
			defer led.Close()

			stats, err := led.Stats(cmd.Context(), cfg.Config.MaxUploadAttempts)
			if err != nil {
				return errors.Wrap(err, "failed to read ledger stats")
			}

			cmd.Printf("Total:    %d\n", stats.Total)
			cmd.Printf("Recorded: %d\n", stats.Recorded)
			cmd.Printf("Uploaded: %d\n", stats.Uploaded)
			cmd.Printf("Pending:  %d\n", stats.Pending)
			cmd.Printf("Terminal: %d\n", stats.Terminal)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the ledger database")

	return command
}

func runLedgerPruneCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		retention time.Duration
	)

	command := &cobra.Command{
		Use:          "prune",
		Short:        "Delete settled ledger entries older than the retention window",
		Long:         "Delete uploaded or terminally failed entries seen before the retention cutoff.\nPending entries are never pruned.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			led, cfg, err := openLedgerFromFlags(configDir, dataDir)
			if err != nil {
				return err
			}
			defer led.Close()

			cutoff := time.Now().Add(-retention)
			pruned, err := led.Prune(cmd.Context(), cutoff, cfg.Config.MaxUploadAttempts)
			if err != nil {
				return errors.Wrap(err, "failed to prune ledger")
			}

			cmd.Printf("Pruned %d entries seen before %s\n", pruned, cutoff.Format(time.RFC3339))
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory or file path")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for the ledger database")
	command.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "retention window for settled entries")

	return command
}
