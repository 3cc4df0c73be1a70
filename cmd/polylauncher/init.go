package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spideyzac/polylauncher/internal/config"
	"github.com/spideyzac/polylauncher/internal/install"
	"github.com/spideyzac/polylauncher/internal/stats"
)

func newInitCmd(quiet, verbose *bool) *cobra.Command {
	var (
		skipGit bool
		workers int
	)

	cmd := &cobra.Command{
		Use:   "init [version]",
		Short: "Download a game version and scaffold a project in the current directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}

			requested := "latest"
			if len(args) == 1 {
				requested = args[0]
			}
			gameVersion := cfg.ResolveVersion(requested)

			workDir, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			installDir, err := config.VersionDir(gameVersion)
			if err != nil {
				return err
			}
			manifestPath, err := config.ManifestPath(gameVersion)
			if err != nil {
				return err
			}
			templateDir, err := config.TemplateDir()
			if err != nil {
				return err
			}

			if workers <= 0 && cfg.Workers != nil {
				workers = *cfg.Workers
			}
			rateLimit := 0
			if cfg.RateLimit != nil {
				rateLimit = *cfg.RateLimit
			}

			collector := stats.NewCollector()
			events, stop := startProgress(*quiet, *verbose)
			err = install.Run(cmd.Context(), install.Options{
				WorkDir:      workDir,
				InstallDir:   installDir,
				ManifestPath: manifestPath,
				URLPrefix:    cfg.DownloadURLPrefix(),
				TemplateDir:  templateDir,
				SkipGit:      skipGit,
				Workers:      workers,
				MaxRetries:   cfg.DownloadRetries(),
				RetryDelay:   cfg.DownloadRetryDelay(),
				RateLimit:    rateLimit,
				Events:       events,
				Stats:        collector,
			})
			stop()
			if err != nil {
				slog.Error("init failed", "version", gameVersion, "error", err)
				return &exitError{code: 2}
			}

			if !*quiet {
				snap := collector.Snapshot()
				printf("initialized %s with version %s (%d files downloaded, %d bytes)\n",
					workDir, gameVersion, snap.DownloadsDone, snap.BytesDownloaded)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipGit, "no-git", false, "skip git repository initialization")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0,
		"number of download workers (default: min(NumCPU*2, 16))")
	return cmd
}
