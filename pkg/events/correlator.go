package events

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SuspiciousActor is an actor whose activity pattern across the correlated
// events warrants review.
type SuspiciousActor struct {
	Actor     string   `json:"actor"`
	Reasons   []string `json:"reasons"`
	RiskLevel string   `json:"risk_level"`
}

// ActorPatterns groups per-actor findings.
type ActorPatterns struct {
	SuspiciousActors []SuspiciousActor `json:"suspicious_actors"`
}

// SpatialPatterns maps targeted resources to how often they were hit.
type SpatialPatterns struct {
	ResourceTargeting map[string]int `json:"resource_targeting"`
}

// BurstPeriod is a span of time with an unusually dense run of events.
type BurstPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Count int       `json:"count"`
}

// TemporalPatterns groups time-based findings.
type TemporalPatterns struct {
	BurstPeriods []BurstPeriod `json:"burst_periods"`
}

// CauseEffectPair records a known attack progression observed in order.
type CauseEffectPair struct {
	Cause  string `json:"cause"`
	Effect string `json:"effect"`
}

// CausalPatterns groups sequence-based findings.
type CausalPatterns struct {
	ActionSequences  [][]string        `json:"action_sequences"`
	CauseEffectPairs []CauseEffectPair `json:"cause_effect_pairs"`
}

// CorrelationScores holds the aggregate correlation strength.
type CorrelationScores struct {
	OverallScore float64 `json:"overall_score"` // always in [0,1]
}

// CorrelationResult is the transient bundle produced once per analysis. It is
// never persisted by the pipeline.
type CorrelationResult struct {
	ActorPatterns    ActorPatterns     `json:"actor_patterns"`
	SpatialPatterns  SpatialPatterns   `json:"spatial_patterns"`
	TemporalPatterns TemporalPatterns  `json:"temporal_patterns"`
	CausalPatterns   CausalPatterns    `json:"causal_patterns"`
	Scores           CorrelationScores `json:"correlation_scores"`
	AttackTechniques []string          `json:"attack_techniques"`
}

// causalProgressions are known cause-before-effect event type orderings. The
// list is evaluated in order so output is deterministic.
var causalProgressions = []CauseEffectPair{
	{Cause: "reconnaissance", Effect: "unauthorized_access"},
	{Cause: "unauthorized_access", Effect: "privilege_escalation"},
	{Cause: "privilege_escalation", Effect: "data_exfiltration"},
	{Cause: "account_compromise", Effect: "unauthorized_access"},
	{Cause: "malware_infection", Effect: "data_exfiltration"},
	{Cause: "configuration_drift", Effect: "unauthorized_access"},
}

// attackPatternTechniques maps event type keywords to MITRE ATT&CK technique
// identifiers. Matching is by substring against the event type.
var attackPatternTechniques = []struct {
	Keyword    string
	Techniques []string
}{
	{"unauthorized_access", []string{"T1078"}},
	{"brute_force", []string{"T1110"}},
	{"privilege_escalation", []string{"T1068", "T1078.004"}},
	{"data_exfiltration", []string{"T1048", "T1567"}},
	{"malware", []string{"T1105", "T1204"}},
	{"account_compromise", []string{"T1078", "T1098"}},
	{"ddos", []string{"T1498"}},
	{"configuration", []string{"T1578"}},
	{"reconnaissance", []string{"T1595"}},
}

// TechniquesForEventType returns the MITRE technique identifiers whose
// keyword appears as a substring of the given event type.
func TechniquesForEventType(eventType string) []string {
	lower := strings.ToLower(eventType)
	var out []string
	for _, entry := range attackPatternTechniques {
		if strings.Contains(lower, entry.Keyword) {
			out = append(out, entry.Techniques...)
		}
	}
	return out
}

const burstSpan = 60 * time.Second
const burstThreshold = 3

// Correlator groups and relates security events within a time window to find
// actor patterns, resource targeting, temporal bursts and causal chains.
type Correlator struct {
	logger zerolog.Logger
}

// NewCorrelator creates a correlator logging through the given logger.
func NewCorrelator(logger zerolog.Logger) *Correlator {
	return &Correlator{
		logger: logger.With().Str("component", "correlator").Logger(),
	}
}

// Correlate analyses the given events within the window ending at the newest
// event. It is deterministic for a given event list and window, and tolerates
// zero or one events by returning an empty result with score 0.
func (c *Correlator) Correlate(evts []SecurityEvent, window time.Duration) *CorrelationResult {
	result := &CorrelationResult{
		SpatialPatterns: SpatialPatterns{ResourceTargeting: make(map[string]int)},
	}

	if len(evts) <= 1 {
		return result
	}

	sorted := make([]SecurityEvent, len(evts))
	copy(sorted, evts)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if window > 0 {
		cutoff := sorted[len(sorted)-1].Timestamp.Add(-window)
		filtered := sorted[:0]
		for _, e := range sorted {
			if !e.Timestamp.Before(cutoff) {
				filtered = append(filtered, e)
			}
		}
		sorted = filtered
	}
	if len(sorted) <= 1 {
		return result
	}

	result.ActorPatterns = c.findActorPatterns(sorted)
	result.SpatialPatterns = c.findSpatialPatterns(sorted)
	result.TemporalPatterns = c.findTemporalPatterns(sorted)
	result.CausalPatterns = c.findCausalPatterns(sorted)
	result.AttackTechniques = c.deriveTechniques(sorted)
	result.Scores.OverallScore = c.scoreOverall(result)

	c.logger.Debug().
		Int("events", len(sorted)).
		Int("suspicious_actors", len(result.ActorPatterns.SuspiciousActors)).
		Float64("overall_score", result.Scores.OverallScore).
		Msg("Correlation complete")

	return result
}

func (c *Correlator) findActorPatterns(evts []SecurityEvent) ActorPatterns {
	counts := make(map[string]int)
	types := make(map[string]map[string]bool)
	for _, e := range evts {
		if e.Actor == "" {
			continue
		}
		counts[e.Actor]++
		if types[e.Actor] == nil {
			types[e.Actor] = make(map[string]bool)
		}
		types[e.Actor][e.Type] = true
	}

	actors := make([]string, 0, len(counts))
	for a := range counts {
		actors = append(actors, a)
	}
	sort.Strings(actors)

	var patterns ActorPatterns
	for _, actor := range actors {
		var reasons []string
		if counts[actor] >= 3 {
			reasons = append(reasons, "high event volume within correlation window")
		}
		if len(types[actor]) >= 3 {
			reasons = append(reasons, "activity spans multiple event types")
		}
		if len(reasons) == 0 {
			continue
		}
		risk := "medium"
		if counts[actor] >= 5 || len(reasons) > 1 {
			risk = "high"
		}
		patterns.SuspiciousActors = append(patterns.SuspiciousActors, SuspiciousActor{
			Actor:     actor,
			Reasons:   reasons,
			RiskLevel: risk,
		})
	}
	return patterns
}

func (c *Correlator) findSpatialPatterns(evts []SecurityEvent) SpatialPatterns {
	targeting := make(map[string]int)
	for _, e := range evts {
		for _, r := range e.AffectedResources {
			targeting[r]++
		}
	}
	return SpatialPatterns{ResourceTargeting: targeting}
}

func (c *Correlator) findTemporalPatterns(evts []SecurityEvent) TemporalPatterns {
	var patterns TemporalPatterns
	// evts is sorted; slide a fixed span forward from each event and record
	// maximal dense runs.
	i := 0
	for i < len(evts) {
		j := i
		for j+1 < len(evts) && evts[j+1].Timestamp.Sub(evts[i].Timestamp) <= burstSpan {
			j++
		}
		count := j - i + 1
		if count >= burstThreshold {
			patterns.BurstPeriods = append(patterns.BurstPeriods, BurstPeriod{
				Start: evts[i].Timestamp,
				End:   evts[j].Timestamp,
				Count: count,
			})
			i = j + 1
			continue
		}
		i++
	}
	return patterns
}

func (c *Correlator) findCausalPatterns(evts []SecurityEvent) CausalPatterns {
	var patterns CausalPatterns

	firstSeen := make(map[string]int)
	lastSeen := make(map[string]int)
	for idx, e := range evts {
		if _, ok := firstSeen[e.Type]; !ok {
			firstSeen[e.Type] = idx
		}
		lastSeen[e.Type] = idx
	}

	for _, pair := range causalProgressions {
		causeIdx, haveCause := firstSeen[pair.Cause]
		effectIdx, haveEffect := lastSeen[pair.Effect]
		if haveCause && haveEffect && causeIdx < effectIdx {
			patterns.CauseEffectPairs = append(patterns.CauseEffectPairs, pair)
		}
	}

	// Per-actor ordered action sequences, actors sorted for determinism.
	byActor := make(map[string][]string)
	for _, e := range evts {
		if e.Actor == "" {
			continue
		}
		seq := byActor[e.Actor]
		if len(seq) == 0 || seq[len(seq)-1] != e.Type {
			byActor[e.Actor] = append(seq, e.Type)
		}
	}
	actors := make([]string, 0, len(byActor))
	for a := range byActor {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	for _, a := range actors {
		if len(byActor[a]) >= 2 {
			patterns.ActionSequences = append(patterns.ActionSequences, byActor[a])
		}
	}
	return patterns
}

func (c *Correlator) deriveTechniques(evts []SecurityEvent) []string {
	seen := make(map[string]bool)
	for _, e := range evts {
		for _, t := range TechniquesForEventType(e.Type) {
			seen[t] = true
		}
	}
	techniques := make([]string, 0, len(seen))
	for t := range seen {
		techniques = append(techniques, t)
	}
	sort.Strings(techniques)
	return techniques
}

// scoreOverall combines the strength of each pattern family into one score in
// [0,1].
func (c *Correlator) scoreOverall(r *CorrelationResult) float64 {
	actorScore := capRatio(len(r.ActorPatterns.SuspiciousActors), 2)

	maxTargeting := 0
	for _, n := range r.SpatialPatterns.ResourceTargeting {
		if n > maxTargeting {
			maxTargeting = n
		}
	}
	spatialScore := capRatio(maxTargeting, 3)
	temporalScore := capRatio(len(r.TemporalPatterns.BurstPeriods), 2)
	causalScore := capRatio(len(r.CausalPatterns.CauseEffectPairs), 2)

	score := 0.3*actorScore + 0.2*spatialScore + 0.2*temporalScore + 0.3*causalScore
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}

func capRatio(n, denom int) float64 {
	if n <= 0 {
		return 0
	}
	v := float64(n) / float64(denom)
	if v > 1 {
		return 1
	}
	return v
}
