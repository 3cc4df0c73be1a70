package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector()
	const goroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				c.AddFilesScanned(1)
				c.AddFilesUnchanged(1)
				c.AddEntriesAdded(1)
				c.AddEntriesRemoved(1)
				c.AddEntriesModified(1)
				c.AddEntriesApplied(1)
				c.AddDirsPruned(1)
				c.AddPatchBytes(256)
				c.AddDownloadsDone(1)
				c.AddDownloadsFailed(1)
				c.AddRetries(1)
				c.AddBytesDownloaded(512)
			}
		}()
	}
	wg.Wait()

	s := c.Snapshot()
	expected := int64(goroutines * opsPerGoroutine)
	assert.Equal(t, expected, s.FilesScanned)
	assert.Equal(t, expected, s.FilesUnchanged)
	assert.Equal(t, expected, s.EntriesAdded)
	assert.Equal(t, expected, s.EntriesRemoved)
	assert.Equal(t, expected, s.EntriesModified)
	assert.Equal(t, expected, s.EntriesApplied)
	assert.Equal(t, expected, s.DirsPruned)
	assert.Equal(t, expected*256, s.PatchBytes)
	assert.Equal(t, expected, s.DownloadsDone)
	assert.Equal(t, expected, s.DownloadsFailed)
	assert.Equal(t, expected, s.Retries)
	assert.Equal(t, expected*512, s.BytesDownloaded)
}

func TestSnapshotString(t *testing.T) {
	s := Snapshot{
		FilesScanned:    10,
		FilesUnchanged:  4,
		EntriesAdded:    2,
		EntriesRemoved:  1,
		EntriesModified: 3,
		EntriesApplied:  6,
		DirsPruned:      1,
		PatchBytes:      4096,
	}
	expected := "scanned=10 unchanged=4 added=2 removed=1 modified=3 applied=6 pruned=1 patchbytes=4096"
	assert.Equal(t, expected, s.String())
}

func TestSnapshotElapsed(t *testing.T) {
	c := NewCollector()
	s := c.Snapshot()
	assert.GreaterOrEqual(t, s.Elapsed, time.Duration(0))
}
