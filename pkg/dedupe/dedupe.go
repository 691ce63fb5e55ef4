// Package dedupe suppresses re-analysis of incidents whose content was seen
// recently. It sits ahead of the pipeline so duplicate detections from
// overlapping monitors never consume a model call.
package dedupe

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/perf"
)

// Deduper remembers content hashes of recently seen incidents in a bounded
// LRU. Entries expire after the configured window so a genuinely recurring
// incident is analyzed again.
type Deduper struct {
	seen   *lru.Cache[string, time.Time]
	window time.Duration
	logger zerolog.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New creates a deduper holding up to size hashes for window long.
func New(size int, window time.Duration, logger zerolog.Logger) (*Deduper, error) {
	seen, err := lru.New[string, time.Time](size)
	if err != nil {
		return nil, err
	}
	return &Deduper{
		seen:   seen,
		window: window,
		logger: logger.With().Str("component", "dedupe").Logger(),
		now:    time.Now,
	}, nil
}

// Seen reports whether an incident with identical content passed through
// within the window, recording it either way. The check-and-record is a
// single critical section so concurrent duplicates cannot both pass.
func (d *Deduper) Seen(inc *events.Incident) bool {
	hash := perf.IncidentDataHash(inc)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.seen.Get(hash); ok && now.Sub(at) < d.window {
		d.logger.Debug().Str("incident_id", inc.ID).Str("hash", hash).Msg("Duplicate incident suppressed")
		return true
	}
	d.seen.Add(hash, now)
	return false
}

// Len returns the number of remembered hashes.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen.Len()
}
