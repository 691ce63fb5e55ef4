package ai

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Analyzer is the generative model behind the analysis pipeline. The prompt
// goes in as text and whatever the model returns comes back as text; parsing
// it is the caller's problem, see ParseModelResponse.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (string, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, prompt string) (string, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ParseOrigin tags which stage of the fallback chain produced an assessment.
type ParseOrigin string

const (
	// OriginParsed means the raw response unmarshalled cleanly.
	OriginParsed ParseOrigin = "parsed"
	// OriginRecovered means the response needed a JSON block extracted from
	// surrounding prose before it unmarshalled.
	OriginRecovered ParseOrigin = "recovered"
	// OriginFallback means nothing in the response was usable and the
	// degraded default assessment was substituted.
	OriginFallback ParseOrigin = "fallback"
)

// ModelAssessment is the structured verdict expected from the model.
type ModelAssessment struct {
	ThreatLevel      string   `json:"threat_level"`
	Confidence       float64  `json:"confidence"`
	AttackTechniques []string `json:"attack_techniques,omitempty"`
	Summary          string   `json:"summary,omitempty"`
}

// jsonBlock grabs the first brace-delimited block in a response. Models wrap
// their JSON in prose or markdown fences often enough that this stage earns
// its keep.
var jsonBlock = regexp.MustCompile(`(?s)\{.*\}`)

// fallbackAssessment is returned when the model output is unusable. The
// threat level stays conservative so a garbled response never silences an
// incident.
func fallbackAssessment(raw string) ModelAssessment {
	summary := strings.TrimSpace(raw)
	if len(summary) > 200 {
		summary = summary[:200]
	}
	if summary == "" {
		summary = "Model returned no usable assessment"
	}
	return ModelAssessment{
		ThreatLevel: "medium",
		Confidence:  0.3,
		Summary:     summary,
	}
}

// ParseModelResponse runs the three-stage fallback chain over raw model
// output: unmarshal the whole response, then unmarshal the first {...} block
// found in it, then substitute the degraded default. It never fails; the
// returned origin tells the caller which stage fired.
func ParseModelResponse(raw string) (ModelAssessment, ParseOrigin) {
	var assessment ModelAssessment
	if err := json.Unmarshal([]byte(raw), &assessment); err == nil && assessment.ThreatLevel != "" {
		return assessment, OriginParsed
	}

	if block := jsonBlock.FindString(raw); block != "" {
		assessment = ModelAssessment{}
		if err := json.Unmarshal([]byte(block), &assessment); err == nil && assessment.ThreatLevel != "" {
			return assessment, OriginRecovered
		}
	}

	return fallbackAssessment(raw), OriginFallback
}
