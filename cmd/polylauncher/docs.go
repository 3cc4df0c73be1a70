package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

var docsDir string

// gen-docs writes man pages for the whole command tree. Hidden: it exists
// for the release packaging step, not for users.
var docsCmd = &cobra.Command{
	Use:    "gen-docs",
	Short:  "Generate man pages for polylauncher",
	Hidden: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := os.MkdirAll(docsDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		header := &doc.GenManHeader{
			Title:   "POLYLAUNCHER",
			Section: "1",
			Source:  "polylauncher " + version,
		}
		return doc.GenManTree(cmd.Root(), header, docsDir)
	},
}

func init() {
	docsCmd.Flags().StringVar(&docsDir, "dir", "docs", "output directory")
}
