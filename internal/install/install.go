// Package install sets up a game version and a new project around it: it
// downloads the versioned asset tree into the launcher home, initializes a
// git repository when git is available, and copies the bundled template
// project into the working directory.
package install

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/spideyzac/polylauncher/internal/download"
	"github.com/spideyzac/polylauncher/internal/event"
	"github.com/spideyzac/polylauncher/internal/stats"
)

// ErrDirNotEmpty is returned when the working directory already has entries;
// init refuses to scaffold a project into a non-empty directory.
var ErrDirNotEmpty = errors.New("directory is not empty")

// Options controls an install run. Paths are injected by the caller (the CLI
// derives them from config) so the workflow itself has no ambient state.
type Options struct {
	// WorkDir is the project directory to scaffold; it must be empty.
	WorkDir string

	// InstallDir is where the version's asset tree lives (or will live).
	InstallDir string

	// ManifestPath is the JSON manifest of asset URLs for this version.
	ManifestPath string

	// URLPrefix is the base URL the manifest's entries hang off.
	URLPrefix string

	// TemplateDir is the bundled template project; skipped when absent.
	TemplateDir string

	// SkipGit disables the best-effort git repository initialization.
	SkipGit bool

	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	RateLimit  int // download requests per second, 0 = unlimited

	Events chan<- event.Event
	Stats  *stats.Collector
}

// Run installs a game version and scaffolds a project in opts.WorkDir.
// An already-present InstallDir skips the download entirely.
func Run(ctx context.Context, opts Options) error {
	entries, err := os.ReadDir(opts.WorkDir)
	if err != nil {
		return fmt.Errorf("read working directory %s: %w", opts.WorkDir, err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrDirNotEmpty, opts.WorkDir)
	}

	installed, err := dirExists(opts.InstallDir)
	if err != nil {
		return err
	}
	if installed {
		slog.Info("version already installed", "dir", opts.InstallDir)
	} else {
		if err := fetchVersion(ctx, opts); err != nil {
			return err
		}
	}

	if !opts.SkipGit {
		initGitRepo(ctx, opts.WorkDir)
	}

	if opts.TemplateDir != "" {
		present, err := dirExists(opts.TemplateDir)
		if err != nil {
			return err
		}
		if present {
			if err := copyTemplate(opts.TemplateDir, opts.WorkDir); err != nil {
				return fmt.Errorf("copy template project: %w", err)
			}
		}
	}

	return nil
}

func fetchVersion(ctx context.Context, opts Options) error {
	urls, err := download.ReadManifest(opts.ManifestPath)
	if err != nil {
		return err
	}

	tasks, err := download.TasksFromManifest(urls, opts.URLPrefix, opts.InstallDir)
	if err != nil {
		return err
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateLimit)
	}

	_, err = download.Fetch(ctx, tasks, download.Options{
		Workers:    opts.Workers,
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
		Limiter:    limiter,
		Events:     opts.Events,
		Stats:      opts.Stats,
	})
	return err
}

// initGitRepo runs `git init` in dir when git is on PATH. Failures are
// logged, not fatal: a project without a repository is still usable.
func initGitRepo(ctx context.Context, dir string) {
	if _, err := exec.LookPath("git"); err != nil {
		return
	}

	cmd := exec.CommandContext(ctx, "git", "init")
	cmd.Dir = dir
	cmd.Stdout = io.Discard
	if err := cmd.Run(); err != nil {
		slog.Warn("failed to initialize git repository", "error", err)
		return
	}
	slog.Info("initialized empty git repository", "dir", dir)
}

// copyTemplate copies the template project tree into dst, preserving the
// directory structure.
func copyTemplate(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		target := filepath.Join(dst, relPath)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}
