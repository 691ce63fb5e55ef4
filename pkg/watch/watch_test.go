package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/praetor/pkg/events"
)

func TestToSecurityEvent(t *testing.T) {
	w := NewFileWatcher(nil, zerolog.Nop())

	evt, ok := w.toSecurityEvent(fsnotify.Event{Name: "/etc/praetor/config.yaml", Op: fsnotify.Write})
	require.True(t, ok)
	assert.Equal(t, "configuration_drift", evt.Type)
	assert.Equal(t, []string{"/etc/praetor/config.yaml"}, evt.AffectedResources)
	assert.Equal(t, "modified", evt.RawData["action"])
	assert.NoError(t, evt.Validate())

	_, ok = w.toSecurityEvent(fsnotify.Event{Name: "/etc/passwd", Op: fsnotify.Chmod})
	assert.False(t, ok, "chmod-only noise is dropped")
}

func TestRunFailsWithNoWatchablePaths(t *testing.T) {
	w := NewFileWatcher([]string{"/does/not/exist"}, zerolog.Nop())

	err := w.Run(context.Background(), func(events.SecurityEvent) {})
	assert.Error(t, err)
}

func TestRunReportsModification(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched.conf")
	require.NoError(t, os.WriteFile(target, []byte("v1"), 0o644))

	w := NewFileWatcher([]string{dir}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reported := make(chan events.SecurityEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(evt events.SecurityEvent) { reported <- evt })
	}()

	// Give the watcher a moment to register before touching the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("v2"), 0o644))

	select {
	case evt := <-reported:
		assert.Equal(t, "configuration_drift", evt.Type)
		assert.Equal(t, target, evt.RawData["path"])
	case <-time.After(3 * time.Second):
		t.Fatal("no event reported for file modification")
	}

	cancel()
	assert.NoError(t, <-done)
}
