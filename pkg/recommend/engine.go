package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lucid-vigil/praetor/pkg/events"
)

// CustomContext carries optional environment knowledge that refines the
// generated plan.
type CustomContext struct {
	AffectedServices      []string
	InvolvesSensitiveData bool
}

// AutomationCandidate marks an immediate action that can be executed through
// an API instead of by hand.
type AutomationCandidate struct {
	Action         string `json:"action"`
	AutomationType string `json:"automation_type"`
	RequiredAPI    string `json:"required_api"`
	Complexity     string `json:"complexity"`
}

// RecommendationSet is a prioritized remediation plan. Lists are ordered
// most-important first; the set is produced fresh per call and never mutated.
type RecommendationSet struct {
	ImmediateActions   []string              `json:"immediate_actions"`
	InvestigationSteps []string              `json:"investigation_steps"`
	PreventiveMeasures []string              `json:"preventive_measures"`
	PriorityScore      float64               `json:"priority_score"` // in [0,1]
	EstimatedTime      map[string]string     `json:"estimated_time"`
	AutomationPossible []AutomationCandidate `json:"automation_possible"`
}

// Engine generates remediation plans from static playbooks enriched with
// correlation findings. It is stateless given its tables.
type Engine struct {
	logger zerolog.Logger
}

// NewEngine creates a recommendation engine.
func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		logger: logger.With().Str("component", "recommendation_engine").Logger(),
	}
}

// Generate builds a prioritized plan for the incident. An unrecognized
// incident type yields a well-formed set with empty lists and a valid
// priority score, never an error.
func (e *Engine) Generate(incidentType string, techniques []string, severity string, corr *events.CorrelationResult, custom *CustomContext) *RecommendationSet {
	set := &RecommendationSet{}

	// Step 1: union the playbooks of every matched category, first-seen order.
	for _, cat := range matchCategories(incidentType, techniques) {
		pb := playbooks[cat]
		set.ImmediateActions = appendUnique(set.ImmediateActions, pb.ImmediateActions...)
		set.InvestigationSteps = appendUnique(set.InvestigationSteps, pb.InvestigationSteps...)
		set.PreventiveMeasures = appendUnique(set.PreventiveMeasures, pb.PreventiveMeasures...)
	}

	// Step 2: correlation-driven enrichment.
	if corr != nil {
		e.applyCorrelation(set, corr)
	}

	// Step 3: custom-context enrichment.
	if custom != nil {
		e.applyCustomContext(set, custom)
	}

	// Step 4: prioritize immediate actions.
	set.ImmediateActions = prioritizeActions(set.ImmediateActions, severity)

	// Step 5: overall priority score.
	set.PriorityScore = priorityScore(severity, corr)

	// Step 6: time estimates.
	set.EstimatedTime = estimateTime(set)

	// Step 7: automation tagging.
	set.AutomationPossible = identifyAutomatableActions(set.ImmediateActions)

	e.logger.Debug().
		Str("incident_type", incidentType).
		Int("immediate_actions", len(set.ImmediateActions)).
		Float64("priority_score", set.PriorityScore).
		Msg("Recommendations generated")

	return set
}

// matchCategories maps the incident type and each technique through the
// ordered keyword table, returning matched categories deduplicated in
// first-seen order.
func matchCategories(incidentType string, techniques []string) []category {
	inputs := append([]string{incidentType}, techniques...)
	seen := make(map[category]bool)
	var out []category
	for _, in := range inputs {
		lower := strings.ToLower(in)
		for _, m := range templateMatchers {
			if strings.Contains(lower, m.Keyword) && !seen[m.Category] {
				seen[m.Category] = true
				out = append(out, m.Category)
			}
		}
	}
	return out
}

func (e *Engine) applyCorrelation(set *RecommendationSet, corr *events.CorrelationResult) {
	// Suspicious actors come first in the plan: review order is prepend, so
	// iterate in reverse to keep the correlator's ordering.
	actors := corr.ActorPatterns.SuspiciousActors
	for i := len(actors) - 1; i >= 0; i-- {
		set.ImmediateActions = prepend(set.ImmediateActions,
			fmt.Sprintf("Immediately review and suspend activity for actor %s", actors[i].Actor))
	}
	for _, a := range actors {
		set.InvestigationSteps = appendUnique(set.InvestigationSteps,
			fmt.Sprintf("Review the full activity timeline for actor %s (%s)", a.Actor, strings.Join(a.Reasons, "; ")))
	}

	for _, resource := range topTargetedResources(corr.SpatialPatterns.ResourceTargeting, 3) {
		set.ImmediateActions = appendUnique(set.ImmediateActions,
			fmt.Sprintf("Restrict access to heavily targeted resource %s", resource))
	}

	if len(corr.TemporalPatterns.BurstPeriods) > 0 {
		set.InvestigationSteps = appendUnique(set.InvestigationSteps,
			"Analyze the detected event bursts for automated attack tooling")
		set.PreventiveMeasures = appendUnique(set.PreventiveMeasures,
			"Configure rate limiting on the interfaces involved in the bursts")
	}

	if len(corr.CausalPatterns.CauseEffectPairs) > 0 {
		set.InvestigationSteps = appendUnique(set.InvestigationSteps,
			"Review the identified cause-effect chains to locate the initial entry point")
	}
}

func (e *Engine) applyCustomContext(set *RecommendationSet, custom *CustomContext) {
	for _, svc := range custom.AffectedServices {
		lower := strings.ToLower(svc)
		switch {
		case strings.Contains(lower, "database"):
			set.ImmediateActions = appendUnique(set.ImmediateActions,
				fmt.Sprintf("Review active connections and recent queries on %s", svc))
		case strings.Contains(lower, "storage"):
			set.ImmediateActions = appendUnique(set.ImmediateActions,
				fmt.Sprintf("Audit object access logs for %s", svc))
		case strings.Contains(lower, "compute"):
			set.ImmediateActions = appendUnique(set.ImmediateActions,
				fmt.Sprintf("Check running workloads on %s for unauthorized processes", svc))
		}
	}

	if custom.InvolvesSensitiveData {
		set.ImmediateActions = prepend(set.ImmediateActions,
			"Immediately notify the data protection officer and legal team")
		set.InvestigationSteps = prepend(set.InvestigationSteps,
			"Determine the regulatory notification obligations for the exposed data")
	}
}

// prioritizeActions scores and stably sorts immediate actions, highest first.
func prioritizeActions(actions []string, severity string) []string {
	weight := severityWeight(severity)

	type scored struct {
		action string
		score  float64
	}
	all := make([]scored, len(actions))
	for i, a := range actions {
		score := 0.5
		lower := strings.ToLower(a)
		if containsAny(lower, highPriorityVerbs) {
			score += 0.3
		}
		if containsAny(lower, mediumPriorityVerbs) {
			score += 0.1
		}
		all[i] = scored{action: a, score: score * weight}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].score > all[j].score })

	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.action
	}
	return out
}

// priorityScore combines severity and correlation strength into [0,1].
func priorityScore(severity string, corr *events.CorrelationResult) float64 {
	score := severityWeight(severity)
	if corr != nil {
		score *= 1 + corr.Scores.OverallScore*0.5
		if len(corr.ActorPatterns.SuspiciousActors) > 0 {
			score *= 1.2
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// estimateTime derives human-readable effort estimates from list sizes.
func estimateTime(set *RecommendationSet) map[string]string {
	immediate := len(set.ImmediateActions)
	investigation := len(set.InvestigationSteps)
	preventive := len(set.PreventiveMeasures)

	estimates := make(map[string]string)
	immediateMinutes := immediate * 10
	estimates["immediate_actions"] = fmt.Sprintf("%d-%d minutes", immediateMinutes, immediateMinutes*3/2)

	investigationMinutes := investigation * 30
	if investigationMinutes < 60 {
		investigationMinutes = 60
	}
	estimates["investigation"] = fmt.Sprintf("%d-%d hours", investigationMinutes/60, investigationMinutes/30)

	estimates["preventive_measures"] = fmt.Sprintf("%d-%d days", preventive, preventive*2)
	estimates["total_initial_response"] = fmt.Sprintf("%d minutes", immediateMinutes+60)
	return estimates
}

func severityWeight(severity string) float64 {
	if w, ok := severityWeights[strings.ToLower(severity)]; ok {
		return w
	}
	return severityWeights["medium"]
}

func topTargetedResources(targeting map[string]int, n int) []string {
	type hit struct {
		resource string
		count    int
	}
	all := make([]hit, 0, len(targeting))
	for r, c := range targeting {
		all = append(all, hit{resource: r, count: c})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count == all[j].count {
			return all[i].resource < all[j].resource
		}
		return all[i].count > all[j].count
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].resource
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, items ...string) []string {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	for _, item := range items {
		if !seen[item] {
			seen[item] = true
			list = append(list, item)
		}
	}
	return list
}

func prepend(list []string, item string) []string {
	for _, v := range list {
		if v == item {
			return list
		}
	}
	return append([]string{item}, list...)
}
