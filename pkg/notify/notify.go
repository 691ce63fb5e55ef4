// Package notify dispatches human-facing alerts with quiet-hours and
// frequency suppression. Delivery channels are opaque senders; the notifier
// only decides whether an alert goes out.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/events"
)

// Alert is one human-facing notification.
type Alert struct {
	IncidentID string `json:"incident_id"`
	Severity   string `json:"severity"`
	Title      string `json:"title"`
	Message    string `json:"message"`
}

// Sender delivers an alert over one channel (email, SMS, chat).
type Sender interface {
	Send(ctx context.Context, alert Alert) error
}

// Options configures alert suppression. QuietHoursStart/End are "HH:MM" wall
// clock values; an empty pair disables quiet hours. MaxPerHour of 0 means
// unlimited.
type Options struct {
	Enabled         bool
	QuietHoursStart string
	QuietHoursEnd   string
	MaxPerHour      int
}

// Notifier fans alerts out to its senders, suppressing non-critical alerts
// during quiet hours and enforcing the hourly cap. Critical alerts bypass
// quiet hours but still count against the cap.
type Notifier struct {
	senders []Sender
	opts    Options
	logger  zerolog.Logger

	mu   sync.Mutex
	sent []time.Time
	now  func() time.Time
}

// New creates a notifier over the given senders.
func New(senders []Sender, opts Options, logger zerolog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		opts:    opts,
		logger:  logger.With().Str("component", "notifier").Logger(),
		now:     time.Now,
	}
}

// Notify delivers the alert to every sender unless suppression applies. A
// suppressed alert returns false with no error; sender failures are logged
// and do not abort delivery to the remaining channels.
func (n *Notifier) Notify(ctx context.Context, alert Alert) bool {
	if !n.opts.Enabled {
		return false
	}

	n.mu.Lock()
	now := n.now()
	if alert.Severity != events.SeverityCritical && n.inQuietHours(now) {
		n.mu.Unlock()
		n.logger.Debug().Str("incident_id", alert.IncidentID).Msg("Alert suppressed by quiet hours")
		return false
	}
	n.pruneSent(now)
	if n.opts.MaxPerHour > 0 && len(n.sent) >= n.opts.MaxPerHour {
		n.mu.Unlock()
		n.logger.Warn().Str("incident_id", alert.IncidentID).Msg("Alert suppressed by hourly cap")
		return false
	}
	n.sent = append(n.sent, now)
	n.mu.Unlock()

	for _, s := range n.senders {
		if err := s.Send(ctx, alert); err != nil {
			n.logger.Warn().Err(err).Str("incident_id", alert.IncidentID).Msg("Alert delivery failed on one channel")
		}
	}
	return true
}

// inQuietHours reports whether t's wall clock falls in the configured quiet
// window. A window wrapping midnight (22:00 to 06:00) is handled.
func (n *Notifier) inQuietHours(t time.Time) bool {
	if n.opts.QuietHoursStart == "" || n.opts.QuietHoursEnd == "" {
		return false
	}
	start, err := time.Parse("15:04", n.opts.QuietHoursStart)
	if err != nil {
		return false
	}
	end, err := time.Parse("15:04", n.opts.QuietHoursEnd)
	if err != nil {
		return false
	}

	minutes := t.Hour()*60 + t.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	return minutes >= startMin || minutes < endMin
}

func (n *Notifier) pruneSent(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(n.sent) && !n.sent[i].After(cutoff) {
		i++
	}
	n.sent = append(n.sent[:0], n.sent[i:]...)
}
