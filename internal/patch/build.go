package patch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/spideyzac/polylauncher/internal/event"
	"github.com/spideyzac/polylauncher/internal/stats"
)

// BuildConfig controls patch construction.
type BuildConfig struct {
	// Workers bounds the number of concurrent per-file diff computations.
	// Zero means min(NumCPU, 8). Parallelism never leaks into entry order.
	Workers int
	Events  chan<- event.Event
	Stats   *stats.Collector
}

// Build scans beforeRoot and afterRoot and assembles a Package describing
// the changes from the first snapshot to the second. Entries are emitted in
// lexicographic RelPath order. Any read or diff failure aborts the whole
// build; no partial package is ever produced.
func Build(beforeRoot, afterRoot string, cfg BuildConfig) (*Package, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = min(runtime.NumCPU(), 8)
	}

	event.Emit(cfg.Events, event.Event{Type: event.ScanStarted, Path: beforeRoot})
	beforePaths, err := Scan(beforeRoot)
	if err != nil {
		return nil, fmt.Errorf("scan before snapshot: %w", err)
	}

	event.Emit(cfg.Events, event.Event{Type: event.ScanStarted, Path: afterRoot})
	afterPaths, err := Scan(afterRoot)
	if err != nil {
		return nil, fmt.Errorf("scan after snapshot: %w", err)
	}

	if cfg.Stats != nil {
		cfg.Stats.AddFilesScanned(int64(len(beforePaths) + len(afterPaths)))
	}

	inBefore := pathSet(beforePaths)
	inAfter := pathSet(afterPaths)
	union := sortedUnion(inBefore, inAfter)

	event.Emit(cfg.Events, event.Event{
		Type:  event.ScanComplete,
		Total: int64(len(union)),
	})

	// Classify and diff in parallel, but collect results by index so the
	// emitted entry order stays the sorted union order.
	type result struct {
		entry Entry
		emit  bool
		err   error
	}
	results := make([]result, len(union))

	idxCh := make(chan int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxCh {
				relPath := union[i]
				entry, emit, err := classify(beforeRoot, afterRoot, relPath,
					inBefore[relPath], inAfter[relPath])
				results[i] = result{entry: entry, emit: emit, err: err}
			}
		}()
	}
	for i := range union {
		idxCh <- i
	}
	close(idxCh)
	wg.Wait()

	entries := make([]Entry, 0, len(union))
	for i, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		if !res.emit {
			event.Emit(cfg.Events, event.Event{Type: event.EntrySkipped, Path: union[i]})
			if cfg.Stats != nil {
				cfg.Stats.AddFilesUnchanged(1)
			}
			continue
		}
		entries = append(entries, res.entry)
		recordEntry(cfg, res.entry)
	}

	event.Emit(cfg.Events, event.Event{
		Type:  event.BuildComplete,
		Total: int64(len(entries)),
	})

	return &Package{Version: FormatVersion, Entries: entries}, nil
}

// classify inspects one relative path in both snapshots and produces the
// patch entry for it, if any. Byte-identical files emit nothing.
func classify(beforeRoot, afterRoot, relPath string, inBefore, inAfter bool) (Entry, bool, error) {
	beforeFile := filepath.Join(beforeRoot, filepath.FromSlash(relPath))
	afterFile := filepath.Join(afterRoot, filepath.FromSlash(relPath))

	switch {
	case inBefore && inAfter:
		beforeData, err := os.ReadFile(beforeFile)
		if err != nil {
			return Entry{}, false, fmt.Errorf("read %s: %w", beforeFile, err)
		}
		afterData, err := os.ReadFile(afterFile)
		if err != nil {
			return Entry{}, false, fmt.Errorf("read %s: %w", afterFile, err)
		}
		if bytes.Equal(beforeData, afterData) {
			return Entry{}, false, nil
		}

		delta, err := Diff(beforeData, afterData)
		if err != nil {
			return Entry{}, false, fmt.Errorf("diff %s: %w", relPath, err)
		}
		return Entry{RelPath: relPath, Kind: OpModify, Delta: delta}, true, nil

	case inBefore:
		return Entry{RelPath: relPath, Kind: OpRemove}, true, nil

	case inAfter:
		// Added files carry their full content rather than a delta against
		// an empty buffer; there is nothing to match blocks against.
		afterData, err := os.ReadFile(afterFile)
		if err != nil {
			return Entry{}, false, fmt.Errorf("read %s: %w", afterFile, err)
		}
		return Entry{RelPath: relPath, Kind: OpAdd, Data: afterData}, true, nil

	default:
		// Unreachable: the path came from one of the two scans.
		return Entry{}, false, nil
	}
}

func recordEntry(cfg BuildConfig, e Entry) {
	event.Emit(cfg.Events, event.Event{
		Type: event.EntryDiffed,
		Path: e.RelPath,
		Op:   e.Kind.String(),
		Size: int64(len(e.Data)),
	})
	if cfg.Stats == nil {
		return
	}
	switch e.Kind {
	case OpAdd:
		cfg.Stats.AddEntriesAdded(1)
	case OpRemove:
		cfg.Stats.AddEntriesRemoved(1)
	case OpModify:
		cfg.Stats.AddEntriesModified(1)
	}
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set
}

func sortedUnion(a, b map[string]bool) []string {
	union := make([]string, 0, len(a)+len(b))
	for p := range a {
		union = append(union, p)
	}
	for p := range b {
		if !a[p] {
			union = append(union, p)
		}
	}
	sort.Strings(union)
	return union
}
