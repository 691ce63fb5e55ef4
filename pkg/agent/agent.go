// Package agent orchestrates incident analysis: cache check, rate-gated
// model call, event correlation, context gathering, recommendation
// generation and escalation over the transfer bus.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/ai"
	"github.com/lucid-vigil/praetor/pkg/contextual"
	"github.com/lucid-vigil/praetor/pkg/events"
	"github.com/lucid-vigil/praetor/pkg/metrics"
	"github.com/lucid-vigil/praetor/pkg/perf"
	"github.com/lucid-vigil/praetor/pkg/recommend"
	"github.com/lucid-vigil/praetor/pkg/transfer"
)

// Tool names the agent invokes on the transfer bus.
const (
	ToolRemediation   = "remediation"
	ToolCommunication = "communication"
	ToolOrchestrator  = "orchestrator"
)

// Analysis result statuses.
const (
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusError     = "error"
)

// Next actions the escalation decision can emit.
const (
	ActionAutoRemediate = "auto_remediate"
	ActionNotifyHumans  = "notify_humans"
	ActionReport        = "report"
)

// AnalysisResult is the structured outcome of one incident analysis. Every
// entry point returns one; there is no path that leaves the caller without a
// status.
type AnalysisResult struct {
	IncidentID      string                       `json:"incident_id"`
	Status          string                       `json:"status"`
	FromCache       bool                         `json:"from_cache"`
	Assessment      ai.ModelAssessment           `json:"assessment"`
	ParseOrigin     ai.ParseOrigin               `json:"parse_origin,omitempty"`
	Correlation     *events.CorrelationResult    `json:"correlation,omitempty"`
	Context         *contextual.Bundle           `json:"context,omitempty"`
	Recommendations *recommend.RecommendationSet `json:"recommendations,omitempty"`
	NextActions     []string                     `json:"next_actions"`
	Error           string                       `json:"error,omitempty"`
	AnalyzedAt      time.Time                    `json:"analyzed_at"`
}

// Options wires an analysis agent's collaborators and thresholds.
type Options struct {
	Analyzer               ai.Analyzer
	Optimizer              *perf.Optimizer
	Correlator             *events.Correlator
	Retriever              *contextual.Retriever
	Engine                 *recommend.Engine
	Tools                  *transfer.Registry
	Metrics                *metrics.Metrics
	CorrelationWindow      time.Duration
	AutoRemediateThreshold float64
	CriticalAlertThreshold float64
}

// Agent runs the analysis pipeline for one incident at a time. Concurrency
// is mediated entirely by the optimizer's cache, batcher and rate limiter.
type Agent struct {
	analyzer   ai.Analyzer
	optimizer  *perf.Optimizer
	correlator *events.Correlator
	retriever  *contextual.Retriever
	engine     *recommend.Engine
	tools      *transfer.Registry
	metrics    *metrics.Metrics

	window        time.Duration
	autoRemediate float64
	criticalAlert float64

	logger zerolog.Logger
	now    func() time.Time
}

// New creates an analysis agent from its options.
func New(opts Options, logger zerolog.Logger) *Agent {
	return &Agent{
		analyzer:      opts.Analyzer,
		optimizer:     opts.Optimizer,
		correlator:    opts.Correlator,
		retriever:     opts.Retriever,
		engine:        opts.Engine,
		tools:         opts.Tools,
		metrics:       opts.Metrics,
		window:        opts.CorrelationWindow,
		autoRemediate: opts.AutoRemediateThreshold,
		criticalAlert: opts.CriticalAlertThreshold,
		logger:        logger.With().Str("component", "analysis_agent").Logger(),
		now:           time.Now,
	}
}

// AnalyzeIncident runs the full pipeline for one incident. A cached result
// short-circuits everything; a failed model call yields a partial result;
// any panic is converted to an error result rather than propagated.
func (a *Agent) AnalyzeIncident(ctx context.Context, inc *events.Incident) (result *AnalysisResult) {
	result = &AnalysisResult{
		IncidentID: inc.ID,
		Status:     StatusError,
		AnalyzedAt: a.now(),
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Str("incident_id", inc.ID).Interface("panic", r).Msg("Analysis pipeline panicked")
			result.Status = StatusError
			result.Error = fmt.Sprintf("analysis panicked: %v", r)
			a.metrics.AnalysesFailed.Inc()
		}
	}()

	a.metrics.AnalysesTotal.Inc()
	log := a.logger.With().Str("incident_id", inc.ID).Logger()

	hash := perf.IncidentDataHash(inc)
	if cached, ok := a.optimizer.GetCachedAnalysis(inc.ID, hash); ok {
		if prior, ok := cached.(*AnalysisResult); ok {
			a.metrics.AnalysesCached.Inc()
			a.publishCacheStats()
			log.Debug().Msg("Analysis served from cache")
			hit := *prior
			hit.FromCache = true
			return &hit
		}
	}
	a.publishCacheStats()

	if err := a.optimizer.CheckRateLimit(ctx); err != nil {
		result.Error = fmt.Sprintf("rate limit wait aborted: %v", err)
		a.metrics.AnalysesFailed.Inc()
		return result
	}

	prompt := a.optimizer.OptimizePromptTokens(perf.BuildIncidentPrompt(inc))
	a.metrics.AICallsTotal.Inc()
	raw, err := a.analyzer.Analyze(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Model call failed, returning partial result")
		result.Status = StatusPartial
		result.Error = fmt.Sprintf("model call failed: %v", err)
		a.metrics.AnalysesFailed.Inc()
		return result
	}

	assessment, origin := ai.ParseModelResponse(raw)
	result.Assessment = assessment
	result.ParseOrigin = origin

	corr := a.correlator.Correlate(inc.Events, a.window)
	result.Correlation = corr
	result.Context = a.retriever.GatherAdditionalContext(ctx, inc, corr)

	techniques := mergeTechniques(assessment.AttackTechniques, corr.AttackTechniques)
	result.Recommendations = a.engine.Generate(primaryEventType(inc), techniques, inc.Severity, corr, nil)

	a.escalate(ctx, inc, result)

	result.Status = StatusCompleted
	a.optimizer.CacheAnalysis(inc.ID, hash, result)
	a.publishCacheStats()

	log.Info().
		Str("threat_level", assessment.ThreatLevel).
		Float64("confidence", assessment.Confidence).
		Strs("next_actions", result.NextActions).
		Msg("Incident analysis completed")
	return result
}

// AnalyzeBatched enqueues the incident with its content-similar peers and
// blocks until the batch is processed. The result is identical to a direct
// AnalyzeIncident call.
func (a *Agent) AnalyzeBatched(ctx context.Context, inc *events.Incident) (*AnalysisResult, error) {
	out, err := a.optimizer.BatchSimilarRequests(ctx, inc, a.processBatch)
	a.metrics.QueueDepth.Set(float64(a.optimizer.QueuedRequests()))
	if err != nil {
		return nil, err
	}
	result, ok := out.(*AnalysisResult)
	if !ok {
		return nil, fmt.Errorf("batch processor returned %T, want *AnalysisResult", out)
	}
	return result, nil
}

// processBatch analyzes each member of a flushed batch in submission order.
func (a *Agent) processBatch(ctx context.Context, incidents []*events.Incident) ([]interface{}, error) {
	a.metrics.BatchesFlushed.Inc()
	a.metrics.QueueDepth.Set(float64(a.optimizer.QueuedRequests()))
	results := make([]interface{}, len(incidents))
	for i, inc := range incidents {
		results[i] = a.AnalyzeIncident(ctx, inc)
	}
	return results, nil
}

// escalate applies the threshold decision and notifies the bus. A tool
// failure is logged but never fails the analysis; the orchestrator report
// always goes out.
func (a *Agent) escalate(ctx context.Context, inc *events.Incident, result *AnalysisResult) {
	level := strings.ToLower(result.Assessment.ThreatLevel)
	confidence := result.Assessment.Confidence

	if confidence >= a.autoRemediate && (level == events.SeverityCritical || level == events.SeverityHigh) {
		result.NextActions = append(result.NextActions, ActionAutoRemediate)
		a.invokeTool(ctx, ToolRemediation, map[string]interface{}{
			"incident_id":  inc.ID,
			"threat_level": level,
			"confidence":   confidence,
			"actions":      automatableActions(result.Recommendations),
		})
	}

	if confidence >= a.criticalAlert && level == events.SeverityCritical {
		result.NextActions = append(result.NextActions, ActionNotifyHumans)
		a.invokeTool(ctx, ToolCommunication, map[string]interface{}{
			"incident_id":  inc.ID,
			"threat_level": level,
			"confidence":   confidence,
			"summary":      result.Assessment.Summary,
		})
	}

	result.NextActions = append(result.NextActions, ActionReport)
	a.invokeTool(ctx, ToolOrchestrator, map[string]interface{}{
		"incident_id":  inc.ID,
		"status":       StatusCompleted,
		"threat_level": level,
		"next_actions": result.NextActions,
	})
}

func (a *Agent) invokeTool(ctx context.Context, name string, payload map[string]interface{}) {
	result, err := a.tools.Execute(ctx, name, payload)
	if err != nil {
		a.logger.Warn().Err(err).Str("tool", name).Msg("Tool transport failed")
		return
	}
	if result.Status != transfer.StatusSuccess {
		a.logger.Warn().Str("tool", name).Str("error", result.Error).Msg("Tool reported failure")
	}
}

func (a *Agent) publishCacheStats() {
	a.metrics.CacheHitRate.Set(a.optimizer.CacheStats().HitRate)
}

// primaryEventType is the type of the incident's first event, driving the
// playbook lookup.
func primaryEventType(inc *events.Incident) string {
	if len(inc.Events) == 0 {
		return ""
	}
	return inc.Events[0].Type
}

func mergeTechniques(a, b []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range append(append([]string{}, a...), b...) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func automatableActions(set *recommend.RecommendationSet) []string {
	if set == nil {
		return nil
	}
	out := make([]string, 0, len(set.AutomationPossible))
	for _, c := range set.AutomationPossible {
		out = append(out, c.AutomationType)
	}
	return out
}
