package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spideyzac/polylauncher/internal/patch"
	"github.com/spideyzac/polylauncher/internal/stats"
)

func newCreateCmd(quiet, verbose *bool) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "create <before-dir> <after-dir> <patch-file>",
		Short: "Build a binary patch from one version tree to another",
		Args:  cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			beforeDir, afterDir, patchLoc := args[0], args[1], args[2]

			collector := stats.NewCollector()
			events, stop := startProgress(*quiet, *verbose)

			pkg, err := patch.Build(beforeDir, afterDir, patch.BuildConfig{
				Workers: workers,
				Events:  events,
				Stats:   collector,
			})
			stop()
			if err != nil {
				slog.Error("create failed", "error", err)
				return &exitError{code: 2}
			}

			data, err := patch.Encode(pkg)
			if err != nil {
				slog.Error("encode failed", "error", err)
				return &exitError{code: 2}
			}
			if err := os.WriteFile(patchLoc, data, 0o644); err != nil {
				slog.Error("write patch", "error", err)
				return &exitError{code: 2}
			}
			collector.AddPatchBytes(int64(len(data)))

			if !*quiet {
				snap := collector.Snapshot()
				printf("%d added, %d removed, %d modified, %d unchanged (%s, %d bytes)\n",
					snap.EntriesAdded, snap.EntriesRemoved, snap.EntriesModified,
					snap.FilesUnchanged, patchLoc, len(data))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "n", 0,
		"number of diff workers (default: min(NumCPU, 8))")
	return cmd
}

func newApplyCmd(quiet, verbose *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <patch-file> <target-dir>",
		Short: "Apply a binary patch to an installed version tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			patchLoc, targetDir := args[0], args[1]

			data, err := os.ReadFile(patchLoc)
			if err != nil {
				return fmt.Errorf("read patch %s: %w", patchLoc, err)
			}
			pkg, err := patch.Decode(data)
			if err != nil {
				slog.Error("decode failed", "path", patchLoc, "error", err)
				return &exitError{code: 2}
			}

			collector := stats.NewCollector()
			events, stop := startProgress(*quiet, *verbose)
			err = patch.ApplyPackage(pkg, targetDir, patch.ApplyConfig{
				Events: events,
				Stats:  collector,
			})
			stop()
			if err != nil {
				slog.Error("apply failed", "error", err)
				return &exitError{code: 2}
			}

			if !*quiet {
				snap := collector.Snapshot()
				printf("%d entries applied, %d empty dirs pruned\n",
					snap.EntriesApplied, snap.DirsPruned)
			}
			return nil
		},
	}
	return cmd
}
