package contextual

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/store"
)

func TestClassifyRiskCategoryThresholds(t *testing.T) {
	assert.Equal(t, "CRITICAL", ClassifyRiskCategory(8.0))
	assert.Equal(t, "HIGH", ClassifyRiskCategory(7.999))
	assert.Equal(t, "HIGH", ClassifyRiskCategory(6.0))
	assert.Equal(t, "MEDIUM", ClassifyRiskCategory(5.999))
	assert.Equal(t, "MEDIUM", ClassifyRiskCategory(4.0))
	assert.Equal(t, "LOW", ClassifyRiskCategory(3.999))
}

func TestCalculateRiskScore(t *testing.T) {
	assert.Equal(t, 10.0, CalculateRiskScore("critical"))
	assert.Equal(t, 7.5, CalculateRiskScore("HIGH"))
	assert.Equal(t, 2.5, CalculateRiskScore("low"))
	assert.Equal(t, 5.0, CalculateRiskScore("made-up"), "unknown severity defaults to midpoint")
}

func TestCalculateCompositeRisk(t *testing.T) {
	assert.Equal(t, 0.0, CalculateCompositeRisk(map[string]float64{}))
	assert.Equal(t, 10.0, CalculateCompositeRisk(map[string]float64{"a": 15, "b": 25}),
		"composite caps at 10 even when factors exceed it")
	assert.InDelta(t, 5.0, CalculateCompositeRisk(map[string]float64{"a": 2.5, "b": 7.5}), 1e-9)
}

func testIncident(base time.Time) *events.Incident {
	return &events.Incident{
		ID:        "INC-under-analysis",
		CreatedAt: base,
		Title:     "Suspicious access to production database",
		Severity:  "high",
		Status:    events.StatusAnalyzing,
		Events: []events.SecurityEvent{
			{
				ID:        "evt-1",
				Timestamp: base,
				Type:      "unauthorized_access",
				Severity:  "high",
				Actor:     "mallory",
				Source: events.EventSource{
					Type: "detector", Name: "auth-watch",
					Resource: map[string]string{"resource_type": "database"},
				},
				AffectedResources: []string{"db-prod"},
				RawData: map[string]interface{}{
					"source_ip": "203.0.113.7",
					"domain":    "evil.example.com",
				},
			},
			{
				ID:        "evt-2",
				Timestamp: base.Add(time.Minute),
				Type:      "data_exfiltration",
				Severity:  "high",
				Actor:     "mallory",
				Source:    events.EventSource{Type: "detector", Name: "netflow"},
				RawData:   map[string]interface{}{"source_ip": "203.0.113.7"},
			},
		},
	}
}

func storedIncident(id, title, severity, status, actor, resource, eventType string, created time.Time) store.Document {
	inc := &events.Incident{
		ID:        id,
		CreatedAt: created,
		UpdatedAt: created,
		Title:     title,
		Severity:  severity,
		Status:    events.IncidentStatus(status),
		Events: []events.SecurityEvent{
			{
				ID:                "evt-" + id,
				Timestamp:         created,
				Type:              eventType,
				Severity:          severity,
				Actor:             actor,
				Source:            events.EventSource{Type: "detector", Name: "auth-watch"},
				AffectedResources: []string{resource},
			},
		},
	}
	return store.Document(inc.Document())
}

func newTestRetriever(t *testing.T, s store.Store, now time.Time) *Retriever {
	t.Helper()
	r := NewRetriever(s, zerolog.Nop())
	r.now = func() time.Time { return now }
	return r
}

func TestRelatedIncidentsScoringAndThreshold(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	// Shares actor, resource, type and severity: 0.4+0.3+0.2+0.1.
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-strong",
		storedIncident("INC-strong", "Prior mallory access", "high", "detected", "mallory", "db-prod", "unauthorized_access", base.Add(-24*time.Hour))))
	// Shares only severity: 0.1, below threshold.
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-weak",
		storedIncident("INC-weak", "Unrelated high incident", "high", "detected", "carol", "vm-9", "malware_detected", base.Add(-24*time.Hour))))
	// Strong match but outside the 7 day lookback.
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-stale",
		storedIncident("INC-stale", "Old mallory access", "high", "detected", "mallory", "db-prod", "unauthorized_access", base.Add(-8*24*time.Hour))))

	r := newTestRetriever(t, mem, base)
	inc := testIncident(base)
	corr := &events.CorrelationResult{
		ActorPatterns: events.ActorPatterns{
			SuspiciousActors: []events.SuspiciousActor{{Actor: "mallory", RiskLevel: "high"}},
		},
	}

	related := r.relatedIncidents(ctx, inc, corr)
	require.Len(t, related, 1)
	assert.Equal(t, "INC-strong", related[0].ID)
	assert.InDelta(t, 1.0, related[0].Relevance, 1e-9)
}

func TestRelatedIncidentsExcludesSelf(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	inc := testIncident(base)
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, inc.ID, store.Document(inc.Document())))

	r := newTestRetriever(t, mem, base)
	related := r.relatedIncidents(ctx, inc, nil)
	assert.Empty(t, related, "the incident under analysis never relates to itself")
}

func TestSimilarIncidentsJaccard(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	inc := testIncident(base)

	// Same event types and event count as the incident under analysis,
	// resolved, same severity: well above the 0.4 threshold.
	twin := &events.Incident{
		ID:        "INC-twin",
		CreatedAt: base.Add(-10 * 24 * time.Hour),
		Title:     "Resolved database breach",
		Severity:  "high",
		Status:    events.StatusResolved,
		Events: []events.SecurityEvent{
			{ID: "e1", Type: "unauthorized_access", Source: events.EventSource{Type: "detector", Name: "auth-watch"}},
			{ID: "e2", Type: "data_exfiltration", Source: events.EventSource{Type: "detector", Name: "netflow"}},
		},
	}
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, twin.ID, store.Document(twin.Document())))

	// Resolved and same severity but disjoint event shape.
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-other",
		storedIncident("INC-other", "Resolved malware case", "high", "resolved", "carol", "vm-9", "malware_detected", base.Add(-10*24*time.Hour))))
	// Same shape but never resolved, so the query filters it out.
	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-open",
		storedIncident("INC-open", "Open breach", "high", "detected", "mallory", "db-prod", "unauthorized_access", base.Add(-10*24*time.Hour))))

	r := newTestRetriever(t, mem, base)
	similar := r.similarIncidents(ctx, inc)
	require.Len(t, similar, 1)
	assert.Equal(t, "INC-twin", similar[0].ID)
	assert.GreaterOrEqual(t, similar[0].Similarity, similarThreshold)
}

func TestKnowledgeBaseContentTruncation(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	long := strings.Repeat("x", 800)
	require.NoError(t, mem.Put(ctx, store.CollectionKnowledgeBase, "kb-1", store.Document{
		"id":      "kb-1",
		"title":   "Responding to unauthorized access",
		"tags":    []interface{}{"unauthorized_access"},
		"content": long,
	}))

	r := newTestRetriever(t, mem, base)
	entries := r.knowledgeBaseEntries(ctx, testIncident(base), nil)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].String("content"), knowledgeContentTrim)
}

func TestThreatIntelligenceExtraction(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	r := newTestRetriever(t, store.NewMemoryStore(), base)

	corr := &events.CorrelationResult{
		ActorPatterns: events.ActorPatterns{
			SuspiciousActors: []events.SuspiciousActor{{Actor: "mallory", RiskLevel: "high"}},
		},
	}
	intel := r.threatIntelligence(context.Background(), testIncident(base), corr)

	// The duplicate source_ip across events yields a single indicator.
	require.Len(t, intel.IoCs, 2)
	assert.Equal(t, IoC{Type: "ip", Value: "203.0.113.7"}, intel.IoCs[0])
	assert.Equal(t, IoC{Type: "domain", Value: "evil.example.com"}, intel.IoCs[1])

	assert.Equal(t, []string{"mallory"}, intel.Actors)
	assert.Contains(t, intel.TTPs, "T1078", "unauthorized access maps to valid-accounts abuse")
	assert.Contains(t, intel.RiskAssessment, "2 indicators of compromise (0 known)")
}

func TestThreatIntelligenceKnownIndicatorRaisesRisk(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionThreatIntelligence, "ti-1", store.Document{
		"id":    "ti-1",
		"type":  "ip",
		"value": "203.0.113.7",
	}))

	r := newTestRetriever(t, mem, base)
	intel := r.threatIntelligence(ctx, testIncident(base), nil)

	assert.Contains(t, intel.RiskAssessment, "(1 known)")
	// severity 7.5, indicators 4, known 10: composite 7.2 classifies HIGH.
	assert.Contains(t, intel.RiskAssessment, "(HIGH)")
}

type failingStore struct{}

func (failingStore) Get(context.Context, string, string) (store.Document, error) {
	return nil, errors.New("backend unavailable")
}

func (failingStore) Query(context.Context, string, []store.Filter, int) ([]store.Document, error) {
	return nil, errors.New("backend unavailable")
}

func (failingStore) Put(context.Context, string, string, store.Document) error {
	return errors.New("backend unavailable")
}

func TestGatherDegradesGracefully(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	r := newTestRetriever(t, failingStore{}, base)

	corr := &events.CorrelationResult{AttackTechniques: []string{"T1078"}}
	bundle := r.GatherAdditionalContext(context.Background(), testIncident(base), corr)

	require.NotNil(t, bundle)
	assert.Empty(t, bundle.RelatedIncidents)
	assert.Empty(t, bundle.HistoricalPatterns)
	assert.Empty(t, bundle.KnowledgeBaseEntries)
	assert.Empty(t, bundle.SimilarIncidents)
	assert.NotEmpty(t, bundle.ThreatIntelligence.IoCs, "intelligence derives from the incident itself")
	assert.NotEmpty(t, bundle.ContextSummary)
}

func TestGatherFullBundle(t *testing.T) {
	base := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, mem.Put(ctx, store.CollectionIncidents, "INC-strong",
		storedIncident("INC-strong", "Prior mallory access", "high", "detected", "mallory", "db-prod", "unauthorized_access", base.Add(-24*time.Hour))))
	require.NoError(t, mem.Put(ctx, store.CollectionHistoricalPatterns, "pat-1", store.Document{
		"id":         "pat-1",
		"pattern_id": "credential-abuse-chain",
		"techniques": []interface{}{"T1078"},
	}))
	require.NoError(t, mem.Put(ctx, store.CollectionKnowledgeBase, "kb-1", store.Document{
		"id":      "kb-1",
		"tags":    []interface{}{"unauthorized_access"},
		"content": "Rotate credentials and review access logs.",
	}))

	r := newTestRetriever(t, mem, base)
	corr := &events.CorrelationResult{
		ActorPatterns: events.ActorPatterns{
			SuspiciousActors: []events.SuspiciousActor{{Actor: "mallory", RiskLevel: "high"}},
		},
		AttackTechniques: []string{"T1078"},
	}
	bundle := r.GatherAdditionalContext(ctx, testIncident(base), corr)

	assert.Len(t, bundle.RelatedIncidents, 1)
	assert.Len(t, bundle.HistoricalPatterns, 1)
	assert.Len(t, bundle.KnowledgeBaseEntries, 1)
	assert.Contains(t, bundle.ContextSummary, "related incidents")
	assert.Contains(t, bundle.ContextSummary, "knowledge base")
}
