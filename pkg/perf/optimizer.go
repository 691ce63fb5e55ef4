package perf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/batch"
	"github.com/lucid-vigil/praetor/pkg/cache"
	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/ratelimit"
)

// Options configures the performance layer in front of the AI backend.
type Options struct {
	CacheEnabled     bool
	CacheTTL         time.Duration
	CacheMaxSize     int
	BatchSize        int
	BatchTimeout     time.Duration
	RateLimitEnabled bool
	MaxPerMinute     int // 0 = unlimited
	MaxPerHour       int // 0 = unlimited
}

// BatchProcessor handles one flushed group of similar incidents.
type BatchProcessor = batch.Processor[*events.Incident, interface{}]

// Optimizer owns one cache, one request batcher and an optional rate limiter,
// and exposes the cache-or-compute, rate-gated-call and incident-batching
// operations used by the analysis pipeline.
type Optimizer struct {
	cache          *cache.Cache
	batcher        *batch.Batcher[*events.Incident, interface{}]
	limiter        *ratelimit.Limiter // nil when rate limiting is disabled
	cachingEnabled bool
	logger         zerolog.Logger
}

// New builds an optimizer from options. A disabled rate limiter leaves
// CheckRateLimit a no-op; a disabled cache leaves the cache wrappers no-ops.
func New(opts Options, logger zerolog.Logger) *Optimizer {
	o := &Optimizer{
		cache:          cache.New(opts.CacheMaxSize, opts.CacheTTL, logger),
		batcher:        batch.New[*events.Incident, interface{}](opts.BatchSize, opts.BatchTimeout, logger),
		cachingEnabled: opts.CacheEnabled,
		logger:         logger.With().Str("component", "performance_optimizer").Logger(),
	}
	if opts.RateLimitEnabled {
		o.limiter = ratelimit.New(opts.MaxPerMinute, opts.MaxPerHour, logger)
	}
	return o
}

// CacheKey builds the cache key for an incident's analysis result.
func (o *Optimizer) CacheKey(incidentID, dataHash string) string {
	return fmt.Sprintf("analysis:%s:%s", incidentID, dataHash)
}

// ComputeDataHash returns a deterministic 16-hex-character digest of data.
// json.Marshal serializes map keys in sorted order at every nesting level, so
// structurally equal inputs hash identically regardless of insertion order.
func ComputeDataHash(data map[string]interface{}) string {
	canonical, err := json.Marshal(data)
	if err != nil {
		// Maps of plain values never fail to marshal; non-serializable
		// payloads fall back to the formatted representation.
		canonical = []byte(fmt.Sprintf("%v", data))
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16]
}

// IncidentDataHash hashes the analysis-relevant content of an incident.
func IncidentDataHash(inc *events.Incident) string {
	evts := make([]map[string]interface{}, 0, len(inc.Events))
	for _, e := range inc.Events {
		evts = append(evts, map[string]interface{}{
			"event_type": e.Type,
			"severity":   e.Severity,
			"actor":      e.Actor,
			"resources":  e.AffectedResources,
		})
	}
	return ComputeDataHash(map[string]interface{}{
		"title":       inc.Title,
		"description": inc.Description,
		"severity":    inc.Severity,
		"events":      evts,
	})
}

// GetCachedAnalysis returns a previously cached analysis result, or false.
// No-op when caching is disabled.
func (o *Optimizer) GetCachedAnalysis(incidentID, dataHash string) (interface{}, bool) {
	if !o.cachingEnabled {
		return nil, false
	}
	return o.cache.Get(o.CacheKey(incidentID, dataHash))
}

// CacheAnalysis stores an analysis result. No-op when caching is disabled.
func (o *Optimizer) CacheAnalysis(incidentID, dataHash string, result interface{}) {
	if !o.cachingEnabled {
		return
	}
	o.cache.Set(o.CacheKey(incidentID, dataHash), result)
}

// InvalidateIncident drops every cached analysis for the given incident and
// returns how many entries were removed.
func (o *Optimizer) InvalidateIncident(incidentID string) int {
	return o.cache.Invalidate("analysis:" + incidentID + ":")
}

// CheckRateLimit blocks until the AI backend may be called again. No-op when
// rate limiting is disabled.
func (o *Optimizer) CheckRateLimit(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Acquire(ctx)
}

// BatchKey groups incidents of the same severity with a similar event-type
// shape, regardless of event ordering.
func (o *Optimizer) BatchKey(inc *events.Incident) string {
	prefixes := make([]string, 0, 3)
	for i, e := range inc.Events {
		if i == 3 {
			break
		}
		prefixes = append(prefixes, typePrefix(e.Type))
	}
	sort.Strings(prefixes)
	return fmt.Sprintf("batch:%s:%s", strings.ToLower(inc.Severity), strings.Join(prefixes, "+"))
}

func typePrefix(eventType string) string {
	if i := strings.IndexByte(eventType, '_'); i > 0 {
		return eventType[:i]
	}
	return eventType
}

// BatchSimilarRequests enqueues the incident under its content-derived batch
// key and blocks until the group is processed, per the batcher's size/timeout
// semantics.
func (o *Optimizer) BatchSimilarRequests(ctx context.Context, inc *events.Incident, proc BatchProcessor) (interface{}, error) {
	return o.batcher.Add(ctx, o.BatchKey(inc), inc, proc)
}

var (
	runsOfBlanks   = regexp.MustCompile(`[ \t]+`)
	trailingBlanks = regexp.MustCompile(`[ \t]+\n`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
)

// OptimizePromptTokens compresses ancillary whitespace and repetition in a
// prompt without altering factual content. Incident identifiers embedded in
// the text survive untouched.
func (o *Optimizer) OptimizePromptTokens(prompt string) string {
	out := runsOfBlanks.ReplaceAllString(prompt, " ")
	out = trailingBlanks.ReplaceAllString(out, "\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	out = dropRepeatedLines(out)
	return strings.TrimSpace(out)
}

// dropRepeatedLines collapses consecutive identical non-empty lines into one.
func dropRepeatedLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if len(out) > 0 && line != "" && out[len(out)-1] == line {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// BuildIncidentPrompt renders an incident into the text blob sent to the AI
// backend. The first line carries the incident identifier so callers can
// recover it from the optimized text.
func BuildIncidentPrompt(inc *events.Incident) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Incident %s\n", inc.ID)
	fmt.Fprintf(&sb, "Title: %s\n", inc.Title)
	fmt.Fprintf(&sb, "Severity: %s\n", inc.Severity)
	fmt.Fprintf(&sb, "Description: %s\n", inc.Description)
	sb.WriteString("Events:\n")
	for _, e := range inc.Events {
		fmt.Fprintf(&sb, "- %s", e.Type)
		if e.Actor != "" {
			fmt.Fprintf(&sb, " actor=%s", e.Actor)
		}
		if len(e.AffectedResources) > 0 {
			fmt.Fprintf(&sb, " resources=%s", strings.Join(e.AffectedResources, ","))
		}
		sb.WriteString("\n")
	}
	if len(inc.Metadata) > 0 {
		keys := make([]string, 0, len(inc.Metadata))
		for k := range inc.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Metadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, inc.Metadata[k])
		}
	}
	return sb.String()
}

// PrepareBatchPrompts renders and token-optimizes one prompt per incident.
func (o *Optimizer) PrepareBatchPrompts(incidents []*events.Incident) []string {
	prompts := make([]string, len(incidents))
	for i, inc := range incidents {
		prompts[i] = o.OptimizePromptTokens(BuildIncidentPrompt(inc))
	}
	return prompts
}

// QueuedRequests returns how many incidents are waiting in open batches.
func (o *Optimizer) QueuedRequests() int {
	return o.batcher.PendingRequests()
}

// CacheStats exposes the underlying cache statistics.
func (o *Optimizer) CacheStats() cache.Stats {
	return o.cache.GetStats()
}

// RateStats exposes the rate limiter's window state; ok is false when rate
// limiting is disabled.
func (o *Optimizer) RateStats() (ratelimit.Stats, bool) {
	if o.limiter == nil {
		return ratelimit.Stats{}, false
	}
	return o.limiter.GetStats(), true
}
