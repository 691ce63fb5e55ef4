// Package watch reports real-time modification of critical files as
// configuration-drift events.
package watch

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/events"
)

// FileWatcher watches critical paths and emits a security event per
// modification. Events flow to the report callback; the watcher never
// ingests directly.
type FileWatcher struct {
	paths  []string
	logger zerolog.Logger
}

// NewFileWatcher creates a watcher over the given paths.
func NewFileWatcher(paths []string, logger zerolog.Logger) *FileWatcher {
	return &FileWatcher{
		paths:  paths,
		logger: logger.With().Str("component", "file_watcher").Logger(),
	}
}

// Run watches until ctx is cancelled. Paths that cannot be added are logged
// and skipped so one missing file never disables the rest.
func (w *FileWatcher) Run(ctx context.Context, report func(events.SecurityEvent)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	defer watcher.Close()

	watched := 0
	for _, path := range w.paths {
		if err := watcher.Add(path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch path, skipping")
			continue
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no watchable paths out of %d configured", len(w.paths))
	}
	w.logger.Info().Int("paths", watched).Msg("File watcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("File watcher stopping")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt, relevant := w.toSecurityEvent(event); relevant {
				report(evt)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// toSecurityEvent converts a filesystem notification into a drift event.
// Reads and chmod-only noise are dropped.
func (w *FileWatcher) toSecurityEvent(fe fsnotify.Event) (events.SecurityEvent, bool) {
	var action string
	switch {
	case fe.Op.Has(fsnotify.Write):
		action = "modified"
	case fe.Op.Has(fsnotify.Create):
		action = "created"
	case fe.Op.Has(fsnotify.Remove):
		action = "removed"
	case fe.Op.Has(fsnotify.Rename):
		action = "renamed"
	default:
		return events.SecurityEvent{}, false
	}

	evt := events.NewEvent(
		"configuration_drift",
		events.SeverityMedium,
		fmt.Sprintf("Watched file %s was %s", fe.Name, action),
		events.EventSource{Type: "filesystem", Name: "file_watcher", ID: fe.Name},
	)
	evt.AffectedResources = []string{fe.Name}
	evt.RawData = map[string]interface{}{
		"path":   fe.Name,
		"action": action,
	}
	return evt, true
}
