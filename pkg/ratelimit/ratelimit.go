package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Limiter is a sliding-window admission controller over two time horizons.
// Callers that exceed a cap are delayed, never rejected: Acquire blocks until
// both windows have room. A cap of 0 means that horizon is unlimited.
type Limiter struct {
	maxPerMinute  int
	maxPerHour    int
	minuteHorizon time.Duration
	hourHorizon   time.Duration
	minuteWindow  []time.Time
	hourWindow    []time.Time
	logger        zerolog.Logger
	mu            sync.Mutex
	now           func() time.Time
}

// Stats is a point-in-time view of the limiter's windows.
type Stats struct {
	MinuteWindowSize int `json:"minute_window_size"`
	HourWindowSize   int `json:"hour_window_size"`
	MaxPerMinute     int `json:"max_per_minute"`
	MaxPerHour       int `json:"max_per_hour"`
}

// New creates a limiter admitting at most maxPerMinute calls per minute and
// maxPerHour per hour. Either cap may be 0 for unlimited.
func New(maxPerMinute, maxPerHour int, logger zerolog.Logger) *Limiter {
	return &Limiter{
		maxPerMinute:  maxPerMinute,
		maxPerHour:    maxPerHour,
		minuteHorizon: time.Minute,
		hourHorizon:   time.Hour,
		logger:        logger.With().Str("component", "rate_limiter").Logger(),
		now:           time.Now,
	}
}

// Acquire blocks until the caller is admitted under both windows, then
// records the admission. It returns early only if ctx is cancelled. The
// check-and-append runs under one mutex so concurrent callers cannot both
// observe room and overshoot a cap.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		wait := l.waitTime(now)
		if wait <= 0 {
			l.minuteWindow = append(l.minuteWindow, now)
			l.hourWindow = append(l.hourWindow, now)
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		l.logger.Debug().Dur("wait", wait).Msg("Rate limit reached, delaying caller")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// waitTime returns how long the caller must wait before either window has
// room, or 0 if both already do. Caller must hold the mutex.
func (l *Limiter) waitTime(now time.Time) time.Duration {
	var wait time.Duration
	if l.maxPerMinute > 0 && len(l.minuteWindow) >= l.maxPerMinute {
		if w := l.minuteHorizon - now.Sub(l.minuteWindow[0]); w > wait {
			wait = w
		}
	}
	if l.maxPerHour > 0 && len(l.hourWindow) >= l.maxPerHour {
		if w := l.hourHorizon - now.Sub(l.hourWindow[0]); w > wait {
			wait = w
		}
	}
	return wait
}

// prune drops window entries older than their horizon. Caller must hold the
// mutex.
func (l *Limiter) prune(now time.Time) {
	l.minuteWindow = trimBefore(l.minuteWindow, now.Add(-l.minuteHorizon))
	l.hourWindow = trimBefore(l.hourWindow, now.Add(-l.hourHorizon))
}

func trimBefore(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// GetStats returns the current window sizes and caps.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return Stats{
		MinuteWindowSize: len(l.minuteWindow),
		HourWindowSize:   len(l.hourWindow),
		MaxPerMinute:     l.maxPerMinute,
		MaxPerHour:       l.maxPerHour,
	}
}
