package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Collector tracks patch and download statistics using lock-free atomic
// counters. A single Collector may be shared by the builder, applier and
// downloader of one CLI invocation.
type Collector struct {
	filesScanned    atomic.Int64
	filesUnchanged  atomic.Int64
	entriesAdded    atomic.Int64
	entriesRemoved  atomic.Int64
	entriesModified atomic.Int64
	entriesApplied  atomic.Int64
	dirsPruned      atomic.Int64
	patchBytes      atomic.Int64

	downloadsDone   atomic.Int64
	downloadsFailed atomic.Int64
	retries         atomic.Int64
	bytesDownloaded atomic.Int64

	startTime time.Time
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) AddFilesScanned(n int64)    { c.filesScanned.Add(n) }
func (c *Collector) AddFilesUnchanged(n int64)  { c.filesUnchanged.Add(n) }
func (c *Collector) AddEntriesAdded(n int64)    { c.entriesAdded.Add(n) }
func (c *Collector) AddEntriesRemoved(n int64)  { c.entriesRemoved.Add(n) }
func (c *Collector) AddEntriesModified(n int64) { c.entriesModified.Add(n) }
func (c *Collector) AddEntriesApplied(n int64)  { c.entriesApplied.Add(n) }
func (c *Collector) AddDirsPruned(n int64)      { c.dirsPruned.Add(n) }
func (c *Collector) AddPatchBytes(n int64)      { c.patchBytes.Add(n) }

func (c *Collector) AddDownloadsDone(n int64)   { c.downloadsDone.Add(n) }
func (c *Collector) AddDownloadsFailed(n int64) { c.downloadsFailed.Add(n) }
func (c *Collector) AddRetries(n int64)         { c.retries.Add(n) }
func (c *Collector) AddBytesDownloaded(n int64) { c.bytesDownloaded.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesScanned    int64
	FilesUnchanged  int64
	EntriesAdded    int64
	EntriesRemoved  int64
	EntriesModified int64
	EntriesApplied  int64
	DirsPruned      int64
	PatchBytes      int64

	DownloadsDone   int64
	DownloadsFailed int64
	Retries         int64
	BytesDownloaded int64

	Elapsed time.Duration
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	elapsed := time.Duration(0)
	if !c.startTime.IsZero() {
		elapsed = time.Since(c.startTime)
	}
	return Snapshot{
		FilesScanned:    c.filesScanned.Load(),
		FilesUnchanged:  c.filesUnchanged.Load(),
		EntriesAdded:    c.entriesAdded.Load(),
		EntriesRemoved:  c.entriesRemoved.Load(),
		EntriesModified: c.entriesModified.Load(),
		EntriesApplied:  c.entriesApplied.Load(),
		DirsPruned:      c.dirsPruned.Load(),
		PatchBytes:      c.patchBytes.Load(),
		DownloadsDone:   c.downloadsDone.Load(),
		DownloadsFailed: c.downloadsFailed.Load(),
		Retries:         c.retries.Load(),
		BytesDownloaded: c.bytesDownloaded.Load(),
		Elapsed:         elapsed,
	}
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"scanned=%d unchanged=%d added=%d removed=%d modified=%d applied=%d pruned=%d patchbytes=%d",
		s.FilesScanned, s.FilesUnchanged, s.EntriesAdded, s.EntriesRemoved,
		s.EntriesModified, s.EntriesApplied, s.DirsPruned, s.PatchBytes,
	)
}
