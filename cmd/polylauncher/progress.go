package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/spideyzac/polylauncher/internal/event"
)

var (
	addColor    = color.New(color.FgGreen)
	removeColor = color.New(color.FgRed)
	modifyColor = color.New(color.FgYellow)
	noteColor   = color.New(color.FgCyan)
)

// startProgress launches a goroutine that renders events as one line per
// file on stderr. The returned stop function closes the channel and waits
// for the printer to drain.
func startProgress(quiet, verbose bool) (chan event.Event, func()) {
	events := make(chan event.Event, 256)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			if quiet {
				continue
			}
			printEvent(ev, verbose)
		}
	}()

	stop := func() {
		close(events)
		<-done
	}
	return events, stop
}

func printEvent(ev event.Event, verbose bool) {
	w := os.Stderr
	switch ev.Type {
	case event.EntryDiffed, event.EntryApplied:
		opColor(ev.Op).Fprintf(w, "%-8s %s\n", ev.Op, ev.Path)
	case event.EntrySkipped:
		if verbose {
			noteColor.Fprintf(w, "%-8s %s\n", "skip", ev.Path)
		}
	case event.DirPruned:
		if verbose {
			removeColor.Fprintf(w, "%-8s %s\n", "prune", ev.Path)
		}
	case event.DownloadStarted:
		if verbose {
			noteColor.Fprintf(w, "%-8s %s\n", "get", ev.Path)
		}
	case event.DownloadRetried:
		modifyColor.Fprintf(w, "%-8s %s (attempt %d)\n", "retry", ev.Path, ev.Attempt)
	case event.DownloadCompleted:
		addColor.Fprintf(w, "%-8s %s\n", "done", ev.Path)
	case event.DownloadFailed:
		removeColor.Fprintf(w, "%-8s %s: %v\n", "failed", ev.Path, ev.Error)
	}
}

func opColor(op string) *color.Color {
	switch op {
	case "add":
		return addColor
	case "remove":
		return removeColor
	default:
		return modifyColor
	}
}

func printf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format, args...)
}
