package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/praetor/pkg/ai"
	"github.com/lucid-vigil/praetor/pkg/contextual"
	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/metrics"
	"github.com/lucid-vigil/praetor/pkg/perf"
	"github.com/lucid-vigil/praetor/pkg/recommend"
	"github.com/lucid-vigil/praetor/pkg/store"
	"github.com/lucid-vigil/praetor/pkg/transfer"
)

// countingAnalyzer returns a fixed response and counts invocations.
type countingAnalyzer struct {
	mu       sync.Mutex
	calls    int
	response string
	err      error
}

func (c *countingAnalyzer) Analyze(context.Context, string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.response, c.err
}

func (c *countingAnalyzer) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// toolRecorder registers the three pipeline tools and records every payload.
type toolRecorder struct {
	mu    sync.Mutex
	calls map[string][]map[string]interface{}
}

func newToolRecorder(t *testing.T, reg *transfer.Registry) *toolRecorder {
	t.Helper()
	rec := &toolRecorder{calls: make(map[string][]map[string]interface{})}
	for _, name := range []string{ToolRemediation, ToolCommunication, ToolOrchestrator} {
		name := name
		require.NoError(t, reg.Register(transfer.ToolFunc{
			ToolName: name,
			Fn: func(_ context.Context, payload map[string]interface{}) (transfer.Result, error) {
				rec.mu.Lock()
				rec.calls[name] = append(rec.calls[name], payload)
				rec.mu.Unlock()
				return transfer.Success(nil), nil
			},
		}))
	}
	return rec
}

func (r *toolRecorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[name])
}

type testPipeline struct {
	agent    *Agent
	analyzer *countingAnalyzer
	tools    *toolRecorder
	metrics  *metrics.Metrics
}

func newTestPipeline(t *testing.T, response string, analyzerErr error) *testPipeline {
	t.Helper()
	log := zerolog.Nop()

	analyzer := &countingAnalyzer{response: response, err: analyzerErr}
	optimizer := perf.New(perf.Options{
		CacheEnabled: true,
		CacheTTL:     time.Hour,
		CacheMaxSize: 100,
		BatchSize:    5,
		BatchTimeout: 50 * time.Millisecond,
	}, log)
	registry := transfer.NewRegistry()
	tools := newToolRecorder(t, registry)
	m := metrics.New()

	agent := New(Options{
		Analyzer:               analyzer,
		Optimizer:              optimizer,
		Correlator:             events.NewCorrelator(log),
		Retriever:              contextual.NewRetriever(store.NewMemoryStore(), log),
		Engine:                 recommend.NewEngine(log),
		Tools:                  registry,
		Metrics:                m,
		CorrelationWindow:      30 * time.Minute,
		AutoRemediateThreshold: 0.8,
		CriticalAlertThreshold: 0.9,
	}, log)

	return &testPipeline{agent: agent, analyzer: analyzer, tools: tools, metrics: m}
}

func criticalIncident() *events.Incident {
	return &events.Incident{
		ID:          "INC-1",
		CreatedAt:   time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC),
		Title:       "Unauthorized access to production",
		Description: "Login from unrecognized location",
		Severity:    "critical",
		Status:      events.StatusDetected,
		Events: []events.SecurityEvent{
			{
				ID:        "evt-1",
				Timestamp: time.Date(2026, 4, 10, 11, 58, 0, 0, time.UTC),
				Type:      "unauthorized_access",
				Severity:  "critical",
				Actor:     "x@y.com",
				Source:    events.EventSource{Type: "detector", Name: "auth-watch"},
			},
		},
	}
}

func TestAnalyzeCriticalIncidentEscalates(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "critical", "confidence": 0.95, "summary": "Credential compromise"}`, nil)

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.False(t, result.FromCache)
	assert.Equal(t, ai.OriginParsed, result.ParseOrigin)
	assert.Contains(t, result.NextActions, ActionAutoRemediate,
		"confidence 0.95 over the 0.8 threshold with a critical threat triggers remediation")
	assert.Contains(t, result.NextActions, ActionNotifyHumans)
	assert.Contains(t, result.NextActions, ActionReport)

	assert.Equal(t, 1, p.tools.count(ToolRemediation))
	assert.Equal(t, 1, p.tools.count(ToolCommunication))
	assert.Equal(t, 1, p.tools.count(ToolOrchestrator))

	require.NotNil(t, result.Recommendations)
	assert.NotEmpty(t, result.Recommendations.ImmediateActions)
}

func TestSecondIdenticalRequestServedFromCache(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "critical", "confidence": 0.95}`, nil)
	ctx := context.Background()
	inc := criticalIncident()

	first := p.agent.AnalyzeIncident(ctx, inc)
	second := p.agent.AnalyzeIncident(ctx, inc)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.NextActions, second.NextActions)
	assert.Equal(t, 1, p.analyzer.callCount(), "no second model call for identical content")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.AnalysesCached))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.AICallsTotal))
}

func TestChangedContentMissesCache(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "high", "confidence": 0.5}`, nil)
	ctx := context.Background()

	p.agent.AnalyzeIncident(ctx, criticalIncident())

	changed := criticalIncident()
	changed.Events[0].Actor = "someone-else@y.com"
	result := p.agent.AnalyzeIncident(ctx, changed)

	assert.False(t, result.FromCache)
	assert.Equal(t, 2, p.analyzer.callCount())
}

func TestModelFailureYieldsPartialResult(t *testing.T) {
	p := newTestPipeline(t, "", errors.New("backend deadline exceeded"))

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.Equal(t, StatusPartial, result.Status)
	assert.Contains(t, result.Error, "deadline exceeded")
	assert.Empty(t, result.NextActions, "no escalation without an assessment")
	assert.Equal(t, 0, p.tools.count(ToolOrchestrator))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.AnalysesFailed))
}

func TestPartialResultIsNotCached(t *testing.T) {
	p := newTestPipeline(t, "", errors.New("backend down"))
	ctx := context.Background()
	inc := criticalIncident()

	p.agent.AnalyzeIncident(ctx, inc)
	second := p.agent.AnalyzeIncident(ctx, inc)

	assert.False(t, second.FromCache, "failed analyses are retried, not replayed")
	assert.Equal(t, 2, p.analyzer.callCount())
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(context.Context, string) (string, error) {
	panic("model client bug")
}

func TestPanicBecomesErrorResult(t *testing.T) {
	p := newTestPipeline(t, "", nil)
	p.agent.analyzer = panickingAnalyzer{}

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.Equal(t, StatusError, result.Status)
	assert.Contains(t, result.Error, "model client bug")
}

func TestGarbledModelOutputStillCompletes(t *testing.T) {
	p := newTestPipeline(t, "no json here at all", nil)

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, ai.OriginFallback, result.ParseOrigin)
	assert.NotContains(t, result.NextActions, ActionAutoRemediate,
		"the degraded default's low confidence never auto-remediates")
	assert.Contains(t, result.NextActions, ActionReport)
}

func TestLowConfidenceSkipsRemediation(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "critical", "confidence": 0.5}`, nil)

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.NotContains(t, result.NextActions, ActionAutoRemediate)
	assert.NotContains(t, result.NextActions, ActionNotifyHumans)
	assert.Equal(t, 0, p.tools.count(ToolRemediation))
	assert.Equal(t, 1, p.tools.count(ToolOrchestrator))
}

func TestHighThreatRemediatesWithoutHumanAlert(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "high", "confidence": 0.95}`, nil)

	result := p.agent.AnalyzeIncident(context.Background(), criticalIncident())

	assert.Contains(t, result.NextActions, ActionAutoRemediate)
	assert.NotContains(t, result.NextActions, ActionNotifyHumans,
		"the human alert is reserved for critical threats")
}

func TestAnalyzeBatchedFlushesOnTimeout(t *testing.T) {
	p := newTestPipeline(t, `{"threat_level": "medium", "confidence": 0.4}`, nil)

	result, err := p.agent.AnalyzeBatched(context.Background(), criticalIncident())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.BatchesFlushed))
}
