package contextual

import "strings"

// severityRiskScores maps incident severity to a base risk score on a 0-10
// scale. Unmapped severities default to 5.0.
var severityRiskScores = map[string]float64{
	"low":      2.5,
	"medium":   5.0,
	"high":     7.5,
	"critical": 10.0,
}

// CalculateRiskScore returns the base risk score for an incident severity.
func CalculateRiskScore(severity string) float64 {
	if score, ok := severityRiskScores[strings.ToLower(severity)]; ok {
		return score
	}
	return 5.0
}

// ClassifyRiskCategory buckets a 0-10 risk score. Thresholds are inclusive
// lower bounds: 8.0 CRITICAL, 6.0 HIGH, 4.0 MEDIUM, below that LOW.
func ClassifyRiskCategory(score float64) string {
	switch {
	case score >= 8.0:
		return "CRITICAL"
	case score >= 6.0:
		return "HIGH"
	case score >= 4.0:
		return "MEDIUM"
	}
	return "LOW"
}

// CalculateCompositeRisk averages named risk factors, capping the result at
// 10.0. An empty factor map scores 0.0.
func CalculateCompositeRisk(factors map[string]float64) float64 {
	if len(factors) == 0 {
		return 0.0
	}
	var sum float64
	for _, v := range factors {
		sum += v
	}
	mean := sum / float64(len(factors))
	if mean > 10.0 {
		return 10.0
	}
	return mean
}
