// Package download fetches game asset files over HTTP with per-file retry,
// bounded parallelism and atomic writes.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/spideyzac/polylauncher/internal/event"
	"github.com/spideyzac/polylauncher/internal/stats"
)

// Task is a single file to be downloaded.
type Task struct {
	URL         string
	Dest        string
	DisplayName string
}

// Stats summarizes the outcome of a Fetch call.
type Stats struct {
	Total     int
	Completed int
	Failed    int
}

// Options controls a Fetch call.
type Options struct {
	// Workers bounds concurrent downloads. Zero means min(NumCPU*2, 16).
	Workers int

	// MaxRetries is the number of attempts per file. Zero means 1.
	MaxRetries int

	// RetryDelay is the pause between attempts of the same file.
	RetryDelay time.Duration

	// Limiter, when set, throttles request starts across all workers.
	Limiter *rate.Limiter

	// Client defaults to http.DefaultClient.
	Client *http.Client

	Events chan<- event.Event
	Stats  *stats.Collector
}

// Fetch downloads all tasks, fanning out to a worker pool. Each failed task
// is retried up to MaxRetries times before it counts as failed. Fetch
// completes every task regardless of individual failures and returns an
// error alongside the stats if any task exhausted its retries.
func Fetch(ctx context.Context, tasks []Task, opts Options) (Stats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU()*2, 16)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	var completed, failed atomic.Int64

	taskCh := make(chan Task, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				if err := fetchOne(ctx, task, opts); err != nil {
					failed.Add(1)
					if opts.Stats != nil {
						opts.Stats.AddDownloadsFailed(1)
					}
					event.Emit(opts.Events, event.Event{
						Type:  event.DownloadFailed,
						Path:  task.DisplayName,
						Error: err,
					})
					continue
				}
				completed.Add(1)
				if opts.Stats != nil {
					opts.Stats.AddDownloadsDone(1)
				}
			}
		}()
	}

feed:
	for _, task := range tasks {
		select {
		case taskCh <- task:
		case <-ctx.Done():
			// Stop feeding; unsent tasks are neither completed nor failed
			// and the cancellation surfaces as the returned error.
			break feed
		}
	}
	close(taskCh)
	wg.Wait()

	result := Stats{
		Total:     len(tasks),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("%d of %d files failed to download", result.Failed, result.Total)
	}
	return result, nil
}

// fetchOne downloads a single file with retry, writing to a uniquely named
// temp file next to the destination and renaming it into place so a partial
// download is never observable at Dest.
func fetchOne(ctx context.Context, task Task, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(task.Dest), 0o755); err != nil {
		return fmt.Errorf("create parent directories for %s: %w", task.Dest, err)
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 1 {
			event.Emit(opts.Events, event.Event{
				Type:    event.DownloadRetried,
				Path:    task.DisplayName,
				Attempt: attempt,
				Error:   lastErr,
			})
			if opts.Stats != nil {
				opts.Stats.AddRetries(1)
			}
			select {
			case <-time.After(opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if opts.Limiter != nil {
			if err := opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}

		event.Emit(opts.Events, event.Event{
			Type:    event.DownloadStarted,
			Path:    task.DisplayName,
			Attempt: attempt,
		})

		n, err := fetchAttempt(ctx, task, opts.Client)
		if err == nil {
			if opts.Stats != nil {
				opts.Stats.AddBytesDownloaded(n)
			}
			event.Emit(opts.Events, event.Event{
				Type: event.DownloadCompleted,
				Path: task.DisplayName,
				Size: n,
			})
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return fmt.Errorf("download %s after %d attempts: %w", task.DisplayName, opts.MaxRetries, lastErr)
}

func fetchAttempt(ctx context.Context, task Task, client *http.Client) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP status %s", resp.Status)
	}

	tmp := task.Dest + "." + uuid.NewString() + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, task.Dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// ReadManifest parses a download manifest: a JSON array of absolute asset
// URLs for one game version.
func ReadManifest(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return urls, nil
}

// TasksFromManifest derives download tasks from manifest URLs. Every URL
// must start with prefix; the remainder becomes the file's path under
// installDir, with the bare prefix itself mapping to index.html.
func TasksFromManifest(urls []string, prefix, installDir string) ([]Task, error) {
	tasks := make([]Task, 0, len(urls))
	for _, u := range urls {
		relPath, ok := strings.CutPrefix(u, prefix)
		if !ok {
			return nil, fmt.Errorf("manifest URL %q does not start with prefix %q", u, prefix)
		}
		if relPath == "" {
			relPath = "index.html"
		}

		tasks = append(tasks, Task{
			URL:         u,
			Dest:        filepath.Join(installDir, filepath.FromSlash(relPath)),
			DisplayName: relPath,
		})
	}
	return tasks, nil
}
