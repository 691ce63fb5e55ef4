package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/praetor/pkg/events"
)

func TestScanSurvivesListFailure(t *testing.T) {
	d := NewProcessDetector(ProcessDetectorConfig{}, zerolog.Nop())
	d.listProcesses = func() ([]*process.Process, error) {
		return nil, errors.New("procfs unavailable")
	}

	assert.Empty(t, d.Scan(context.Background()))
}

func TestCheckSuspiciousName(t *testing.T) {
	d := NewProcessDetector(ProcessDetectorConfig{SuspiciousNames: "xmrig, kworkerd"}, zerolog.Nop())

	evt, ok := d.checkSuspiciousName(&process.Process{Pid: 42}, "XMRig-miner", splitPatterns(d.config.SuspiciousNames))
	require.True(t, ok)
	assert.Equal(t, "suspicious_process", evt.Type)
	assert.Equal(t, events.SeverityHigh, evt.Severity)
	assert.Equal(t, "pid-42", evt.Source.ID)
	assert.NoError(t, evt.Validate())

	_, ok = d.checkSuspiciousName(&process.Process{Pid: 43}, "nginx", splitPatterns(d.config.SuspiciousNames))
	assert.False(t, ok)
}

func TestSplitPatterns(t *testing.T) {
	assert.Equal(t, []string{"xmrig", "kworkerd"}, splitPatterns(" XMRig,kworkerd , "))
	assert.Empty(t, splitPatterns(""))
}

func TestScanWithNoThresholdsFindsNothing(t *testing.T) {
	// Thresholds of zero disable resource checks and no patterns are
	// configured, so a scan over fabricated processes yields no events.
	d := NewProcessDetector(ProcessDetectorConfig{}, zerolog.Nop())
	d.listProcesses = func() ([]*process.Process, error) {
		return []*process.Process{{Pid: 1}}, nil
	}

	assert.Empty(t, d.Scan(context.Background()))
}
