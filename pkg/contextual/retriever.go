package contextual

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/store"
)

const (
	relatedLookback      = 7 * 24 * time.Hour
	similarLookback      = 90 * 24 * time.Hour
	relatedThreshold     = 0.3
	similarThreshold     = 0.4
	relatedCap           = 10
	patternCap           = 10
	knowledgeCap         = 10
	similarCap           = 5
	knowledgeContentTrim = 500
)

// RelatedIncident is a recent incident scored for relevance to the one under
// analysis.
type RelatedIncident struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Severity  string  `json:"severity"`
	Relevance float64 `json:"relevance"`
}

// SimilarIncident is a resolved incident of the same severity with a similar
// event shape.
type SimilarIncident struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
}

// IoC is an indicator of compromise extracted from event raw data.
type IoC struct {
	Type  string `json:"type"` // ip, domain, hash
	Value string `json:"value"`
}

// ThreatIntelligence aggregates indicators, actors and mapped techniques.
type ThreatIntelligence struct {
	IoCs           []IoC    `json:"iocs"`
	Actors         []string `json:"actors"`
	TTPs           []string `json:"ttps"`
	RiskAssessment string   `json:"risk_assessment"`
}

// Bundle is the context package handed to the recommendation stage.
type Bundle struct {
	RelatedIncidents     []RelatedIncident  `json:"related_incidents"`
	HistoricalPatterns   []store.Document   `json:"historical_patterns"`
	KnowledgeBaseEntries []store.Document   `json:"knowledge_base_entries"`
	SimilarIncidents     []SimilarIncident  `json:"similar_incidents"`
	ThreatIntelligence   ThreatIntelligence `json:"threat_intelligence"`
	ContextSummary       string             `json:"context_summary"`
}

// Retriever fetches related historical context for an incident from the
// document store. Every sub-query degrades to an empty result on store
// failure; a missing index or empty collection never aborts the gather.
type Retriever struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewRetriever creates a context retriever over the given store.
func NewRetriever(s store.Store, logger zerolog.Logger) *Retriever {
	return &Retriever{
		store:  s,
		logger: logger.With().Str("component", "context_retriever").Logger(),
		now:    time.Now,
	}
}

// GatherAdditionalContext assembles the full context bundle for an incident.
func (r *Retriever) GatherAdditionalContext(ctx context.Context, inc *events.Incident, corr *events.CorrelationResult) *Bundle {
	bundle := &Bundle{}

	bundle.RelatedIncidents = r.relatedIncidents(ctx, inc, corr)
	bundle.HistoricalPatterns = r.historicalPatterns(ctx, corr)
	bundle.KnowledgeBaseEntries = r.knowledgeBaseEntries(ctx, inc, corr)
	bundle.SimilarIncidents = r.similarIncidents(ctx, inc)
	bundle.ThreatIntelligence = r.threatIntelligence(ctx, inc, corr)
	bundle.ContextSummary = summarize(bundle)

	return bundle
}

// relatedIncidents scores recent incidents for relevance against the
// suspicious actors, shared resources, shared event types and severity of
// the incident under analysis.
func (r *Retriever) relatedIncidents(ctx context.Context, inc *events.Incident, corr *events.CorrelationResult) []RelatedIncident {
	docs, err := r.store.Query(ctx, store.CollectionIncidents, []store.Filter{
		{Field: "created_at", Op: store.OpGte, Value: r.now().Add(-relatedLookback)},
	}, 0)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Related incident query failed, continuing without")
		return nil
	}

	suspicious := make(map[string]bool)
	if corr != nil {
		for _, a := range corr.ActorPatterns.SuspiciousActors {
			suspicious[a.Actor] = true
		}
	}
	ownResources := stringSet(incidentResources(inc))
	ownTypes := stringSet(inc.EventTypes())

	var related []RelatedIncident
	for _, doc := range docs {
		if doc.String("id") == inc.ID {
			continue
		}
		var relevance float64
		if anyActorIn(doc, suspicious) {
			relevance += 0.4
		}
		if overlaps(docResources(doc), ownResources) {
			relevance += 0.3
		}
		if overlaps(docEventTypes(doc), ownTypes) {
			relevance += 0.2
		}
		if strings.EqualFold(doc.String("severity"), inc.Severity) {
			relevance += 0.1
		}
		if relevance >= relatedThreshold {
			related = append(related, RelatedIncident{
				ID:        doc.String("id"),
				Title:     doc.String("title"),
				Severity:  doc.String("severity"),
				Relevance: relevance,
			})
		}
	}

	sort.Slice(related, func(i, j int) bool {
		if related[i].Relevance == related[j].Relevance {
			return related[i].ID < related[j].ID
		}
		return related[i].Relevance > related[j].Relevance
	})
	if len(related) > relatedCap {
		related = related[:relatedCap]
	}
	return related
}

// historicalPatterns fetches attack patterns matching any of the correlated
// techniques, deduplicated by pattern id.
func (r *Retriever) historicalPatterns(ctx context.Context, corr *events.CorrelationResult) []store.Document {
	if corr == nil || len(corr.AttackTechniques) == 0 {
		return nil
	}

	seen := make(map[string]bool)
	var patterns []store.Document
	for _, technique := range corr.AttackTechniques {
		docs, err := r.store.Query(ctx, store.CollectionHistoricalPatterns, []store.Filter{
			{Field: "techniques", Op: store.OpEq, Value: technique},
		}, patternCap)
		if err != nil {
			r.logger.Warn().Err(err).Str("technique", technique).Msg("Historical pattern query failed, continuing without")
			continue
		}
		for _, doc := range docs {
			id := doc.String("pattern_id")
			if id == "" {
				id = doc.String("id")
			}
			if id != "" && seen[id] {
				continue
			}
			seen[id] = true
			patterns = append(patterns, doc)
			if len(patterns) >= patternCap {
				return patterns
			}
		}
	}
	return patterns
}

// knowledgeBaseEntries fetches KB articles whose tags overlap the incident's
// event types, techniques or resource types. Content is truncated so the
// bundle stays prompt-sized.
func (r *Retriever) knowledgeBaseEntries(ctx context.Context, inc *events.Incident, corr *events.CorrelationResult) []store.Document {
	tags := append([]string{}, inc.EventTypes()...)
	if corr != nil {
		tags = append(tags, corr.AttackTechniques...)
	}
	tags = append(tags, inc.ResourceTypes()...)

	seen := make(map[string]bool)
	var entries []store.Document
	for _, tag := range tags {
		docs, err := r.store.Query(ctx, store.CollectionKnowledgeBase, []store.Filter{
			{Field: "tags", Op: store.OpEq, Value: tag},
		}, knowledgeCap)
		if err != nil {
			r.logger.Warn().Err(err).Str("tag", tag).Msg("Knowledge base query failed, continuing without")
			continue
		}
		for _, doc := range docs {
			id := doc.String("id")
			if id != "" && seen[id] {
				continue
			}
			seen[id] = true
			if content := doc.String("content"); len(content) > knowledgeContentTrim {
				doc["content"] = content[:knowledgeContentTrim]
			}
			entries = append(entries, doc)
			if len(entries) >= knowledgeCap {
				return entries
			}
		}
	}
	return entries
}

// similarIncidents finds resolved incidents of the same severity in the last
// 90 days whose event and resource shape resembles this one.
func (r *Retriever) similarIncidents(ctx context.Context, inc *events.Incident) []SimilarIncident {
	docs, err := r.store.Query(ctx, store.CollectionIncidents, []store.Filter{
		{Field: "created_at", Op: store.OpGte, Value: r.now().Add(-similarLookback)},
		{Field: "severity", Op: store.OpEq, Value: strings.ToLower(inc.Severity)},
		{Field: "status", Op: store.OpEq, Value: string(events.StatusResolved)},
	}, 0)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Similar incident query failed, continuing without")
		return nil
	}

	ownTypes := stringSet(inc.EventTypes())
	ownResources := stringSet(inc.ResourceTypes())
	ownCount := len(inc.Events)

	var similar []SimilarIncident
	for _, doc := range docs {
		if doc.String("id") == inc.ID {
			continue
		}
		score := 0.5*jaccard(ownTypes, docEventTypes(doc)) +
			0.3*jaccard(ownResources, docResourceTypes(doc)) +
			0.2*countCloseness(ownCount, len(doc.Maps("events")))
		if score >= similarThreshold {
			similar = append(similar, SimilarIncident{
				ID:         doc.String("id"),
				Title:      doc.String("title"),
				Similarity: score,
			})
		}
	}

	sort.Slice(similar, func(i, j int) bool {
		if similar[i].Similarity == similar[j].Similarity {
			return similar[i].ID < similar[j].ID
		}
		return similar[i].Similarity > similar[j].Similarity
	})
	if len(similar) > similarCap {
		similar = similar[:similarCap]
	}
	return similar
}

// iocFieldTypes maps raw_data field names to indicator types.
var iocFieldTypes = []struct {
	Field string
	Type  string
}{
	{"ip", "ip"},
	{"source_ip", "ip"},
	{"destination_ip", "ip"},
	{"domain", "domain"},
	{"hash", "hash"},
	{"file_hash", "hash"},
	{"sha256", "hash"},
	{"md5", "hash"},
}

// threatIntelligence derives indicators, actors and techniques from the
// incident and correlation output, then checks each indicator against the
// threat intelligence collection.
func (r *Retriever) threatIntelligence(ctx context.Context, inc *events.Incident, corr *events.CorrelationResult) ThreatIntelligence {
	var intel ThreatIntelligence

	seenIoC := make(map[string]bool)
	for _, e := range inc.Events {
		for _, ft := range iocFieldTypes {
			if v, ok := e.RawData[ft.Field].(string); ok && v != "" && !seenIoC[ft.Type+":"+v] {
				seenIoC[ft.Type+":"+v] = true
				intel.IoCs = append(intel.IoCs, IoC{Type: ft.Type, Value: v})
			}
		}
	}
	knownBad := r.countKnownIndicators(ctx, intel.IoCs)

	if corr != nil {
		for _, a := range corr.ActorPatterns.SuspiciousActors {
			intel.Actors = append(intel.Actors, a.Actor)
		}
	}

	seenTTP := make(map[string]bool)
	for _, e := range inc.Events {
		for _, t := range events.TechniquesForEventType(e.Type) {
			if !seenTTP[t] {
				seenTTP[t] = true
				intel.TTPs = append(intel.TTPs, t)
			}
		}
	}
	sort.Strings(intel.TTPs)

	factors := map[string]float64{
		"severity": CalculateRiskScore(inc.Severity),
	}
	if len(intel.IoCs) > 0 {
		factors["indicators"] = capAt10(float64(len(intel.IoCs)) * 2)
	}
	if len(intel.Actors) > 0 {
		factors["actors"] = capAt10(float64(len(intel.Actors)) * 3)
	}
	if knownBad > 0 {
		factors["known_indicators"] = 10
	}
	composite := CalculateCompositeRisk(factors)
	intel.RiskAssessment = fmt.Sprintf(
		"Composite risk %.1f (%s): %d indicators of compromise (%d known), %d suspicious actors, %d mapped techniques",
		composite, ClassifyRiskCategory(composite), len(intel.IoCs), knownBad, len(intel.Actors), len(intel.TTPs))

	return intel
}

// countKnownIndicators reports how many extracted indicators already appear
// in the threat intelligence collection. Store failures count as zero known.
func (r *Retriever) countKnownIndicators(ctx context.Context, iocs []IoC) int {
	known := 0
	for _, ioc := range iocs {
		docs, err := r.store.Query(ctx, store.CollectionThreatIntelligence, []store.Filter{
			{Field: "value", Op: store.OpEq, Value: ioc.Value},
		}, 1)
		if err != nil {
			r.logger.Warn().Err(err).Str("indicator", ioc.Value).Msg("Threat intelligence lookup failed, continuing without")
			return 0
		}
		if len(docs) > 0 {
			known++
		}
	}
	return known
}

// summarize concatenates the non-empty sub-results into a human-readable
// line.
func summarize(b *Bundle) string {
	var parts []string
	if n := len(b.RelatedIncidents); n > 0 {
		parts = append(parts, fmt.Sprintf("%d related incidents in the last 7 days", n))
	}
	if n := len(b.HistoricalPatterns); n > 0 {
		parts = append(parts, fmt.Sprintf("%d historical attack patterns matched", n))
	}
	if n := len(b.KnowledgeBaseEntries); n > 0 {
		parts = append(parts, fmt.Sprintf("%d knowledge base entries apply", n))
	}
	if n := len(b.SimilarIncidents); n > 0 {
		parts = append(parts, fmt.Sprintf("%d similar resolved incidents found", n))
	}
	if n := len(b.ThreatIntelligence.IoCs); n > 0 {
		parts = append(parts, fmt.Sprintf("%d indicators of compromise extracted", n))
	}
	if len(parts) == 0 {
		return "No additional context available"
	}
	return strings.Join(parts, "; ")
}

func incidentResources(inc *events.Incident) []string {
	var out []string
	for _, e := range inc.Events {
		out = append(out, e.AffectedResources...)
	}
	return out
}

func docEvents(doc store.Document) []store.Document {
	return doc.Maps("events")
}

func docEventTypes(doc store.Document) map[string]bool {
	out := make(map[string]bool)
	for _, e := range docEvents(doc) {
		if t := e.String("event_type"); t != "" {
			out[t] = true
		}
	}
	return out
}

func docResources(doc store.Document) map[string]bool {
	out := make(map[string]bool)
	for _, e := range docEvents(doc) {
		for _, res := range e.Strings("affected_resources") {
			out[res] = true
		}
	}
	return out
}

func docResourceTypes(doc store.Document) map[string]bool {
	out := make(map[string]bool)
	for _, e := range docEvents(doc) {
		if src, ok := e["source"].(map[string]interface{}); ok {
			if res, ok := src["resource"].(map[string]interface{}); ok {
				if rt, ok := res["resource_type"].(string); ok && rt != "" {
					out[rt] = true
				}
			}
		}
	}
	return out
}

func anyActorIn(doc store.Document, suspicious map[string]bool) bool {
	if len(suspicious) == 0 {
		return false
	}
	for _, e := range docEvents(doc) {
		if suspicious[e.String("actor")] {
			return true
		}
	}
	return false
}

func stringSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func overlaps(a, b map[string]bool) bool {
	for v := range a {
		if b[v] {
			return true
		}
	}
	return false
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for v := range a {
		if b[v] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func countCloseness(a, b int) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	max := a
	if b > max {
		max = b
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return 1 - float64(diff)/float64(max)
}

func capAt10(v float64) float64 {
	if v > 10 {
		return 10
	}
	return v
}
