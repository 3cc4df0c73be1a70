package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	EntryDiffed
	BuildComplete
	ApplyStarted
	EntryApplied
	EntrySkipped
	ApplyComplete
	DirPruned
	DownloadStarted
	DownloadRetried
	DownloadCompleted
	DownloadFailed
)

var typeNames = [...]string{
	ScanStarted:       "ScanStarted",
	ScanComplete:      "ScanComplete",
	EntryDiffed:       "EntryDiffed",
	BuildComplete:     "BuildComplete",
	ApplyStarted:      "ApplyStarted",
	EntryApplied:      "EntryApplied",
	EntrySkipped:      "EntrySkipped",
	ApplyComplete:     "ApplyComplete",
	DirPruned:         "DirPruned",
	DownloadStarted:   "DownloadStarted",
	DownloadRetried:   "DownloadRetried",
	DownloadCompleted: "DownloadCompleted",
	DownloadFailed:    "DownloadFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event represents a single progress event from the patch engine or downloader.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // relative path or display name
	Op        string // patch operation kind ("add", "remove", "modify")
	Size      int64  // payload or download size in bytes
	Total     int64  // total entries/files for *Complete events
	Attempt   int    // download attempt number (DownloadRetried)
	Error     error
}

// Emit sends e on ch with a timestamp, dropping the event if ch is nil or
// full. Progress reporting must never block the engine.
func Emit(ch chan<- Event, e Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
