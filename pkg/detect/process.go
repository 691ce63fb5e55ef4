// Package detect turns host observations into security events for the
// analysis pipeline.
package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/lucid-vigil/praetor/pkg/events"
)

// ProcessDetectorConfig holds thresholds and patterns for the process
// detector.
type ProcessDetectorConfig struct {
	CPUThreshold    float64 `mapstructure:"cpu_threshold"`
	MemoryThreshold float64 `mapstructure:"memory_threshold"`
	SuspiciousNames string  `mapstructure:"suspicious_names"` // comma-separated substrings
}

// ProcessDetector scans running processes for resource abuse and suspicious
// names, emitting a security event per finding. Findings are returned to the
// caller; the detector never ingests directly.
type ProcessDetector struct {
	config ProcessDetectorConfig
	logger zerolog.Logger

	// listProcesses is swapped in tests.
	listProcesses func() ([]*process.Process, error)
}

// NewProcessDetector creates a process detector.
func NewProcessDetector(config ProcessDetectorConfig, logger zerolog.Logger) *ProcessDetector {
	return &ProcessDetector{
		config:        config,
		logger:        logger.With().Str("component", "process_detector").Logger(),
		listProcesses: process.Processes,
	}
}

// Name returns the detector's registry name.
func (d *ProcessDetector) Name() string {
	return "process_detector"
}

// Scan runs one detection pass and returns the events found.
func (d *ProcessDetector) Scan(ctx context.Context) []events.SecurityEvent {
	procs, err := d.listProcesses()
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to list processes")
		return nil
	}

	patterns := splitPatterns(d.config.SuspiciousNames)
	var found []events.SecurityEvent

	for _, p := range procs {
		select {
		case <-ctx.Done():
			return found
		default:
		}

		name, err := p.Name()
		if err != nil {
			continue
		}

		if evt, ok := d.checkResourceUsage(p, name); ok {
			found = append(found, evt)
		}
		if evt, ok := d.checkSuspiciousName(p, name, patterns); ok {
			found = append(found, evt)
		}
	}

	d.logger.Debug().Int("events", len(found)).Msg("Process scan finished")
	return found
}

func (d *ProcessDetector) checkResourceUsage(p *process.Process, name string) (events.SecurityEvent, bool) {
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return events.SecurityEvent{}, false
	}
	memPercent, err := p.MemoryPercent()
	if err != nil {
		return events.SecurityEvent{}, false
	}

	cpuHigh := d.config.CPUThreshold > 0 && cpuPercent > d.config.CPUThreshold
	memHigh := d.config.MemoryThreshold > 0 && float64(memPercent) > d.config.MemoryThreshold
	if !cpuHigh && !memHigh {
		return events.SecurityEvent{}, false
	}

	evt := events.NewEvent(
		"resource_abuse",
		events.SeverityMedium,
		fmt.Sprintf("Process %s (pid %d) exceeds resource thresholds", name, p.Pid),
		events.EventSource{Type: "host", Name: d.Name(), ID: fmt.Sprintf("pid-%d", p.Pid)},
	)
	evt.RawData = map[string]interface{}{
		"pid":            p.Pid,
		"process_name":   name,
		"cpu_percent":    cpuPercent,
		"memory_percent": float64(memPercent),
	}
	return evt, true
}

func (d *ProcessDetector) checkSuspiciousName(p *process.Process, name string, patterns []string) (events.SecurityEvent, bool) {
	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			evt := events.NewEvent(
				"suspicious_process",
				events.SeverityHigh,
				fmt.Sprintf("Process %s (pid %d) matches suspicious pattern %q", name, p.Pid, pattern),
				events.EventSource{Type: "host", Name: d.Name(), ID: fmt.Sprintf("pid-%d", p.Pid)},
			)
			evt.RawData = map[string]interface{}{
				"pid":          p.Pid,
				"process_name": name,
				"pattern":      pattern,
			}
			return evt, true
		}
	}
	return events.SecurityEvent{}, false
}

// RunLoop scans on the given interval until ctx is cancelled, handing each
// non-empty finding set to report.
func (d *ProcessDetector) RunLoop(ctx context.Context, interval time.Duration, report func([]events.SecurityEvent)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("Process detector stopping")
			return
		case <-ticker.C:
			if found := d.Scan(ctx); len(found) > 0 {
				report(found)
			}
		}
	}
}

func splitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
