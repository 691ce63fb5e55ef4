package recommend

import (
	"regexp"
	"strings"
)

// automationRules map immediate-action text to an automatable operation.
// Patterns are real regular expressions matched against the lowercased
// action.
var automationRules = []struct {
	Pattern        *regexp.Regexp
	AutomationType string
	RequiredAPI    string
	Complexity     string
}{
	{regexp.MustCompile(`disable.*account`), "account_disable", "identity_provider_api", "low"},
	{regexp.MustCompile(`revoke.*(session|token)`), "session_revocation", "identity_provider_api", "low"},
	{regexp.MustCompile(`block.*(ip|address)`), "ip_block", "firewall_api", "low"},
	{regexp.MustCompile(`(terminate|isolate).*(instance|host|system)`), "instance_isolation", "compute_api", "medium"},
	{regexp.MustCompile(`revoke.*permission`), "permission_revocation", "iam_api", "medium"},
	{regexp.MustCompile(`enable.*logging`), "logging_enable", "audit_api", "low"},
}

// identifyAutomatableActions tags each immediate action that matches an
// automation rule. An action matches at most one rule, the first in table
// order.
func identifyAutomatableActions(actions []string) []AutomationCandidate {
	var out []AutomationCandidate
	for _, action := range actions {
		lower := strings.ToLower(action)
		for _, rule := range automationRules {
			if rule.Pattern.MatchString(lower) {
				out = append(out, AutomationCandidate{
					Action:         action,
					AutomationType: rule.AutomationType,
					RequiredAPI:    rule.RequiredAPI,
					Complexity:     rule.Complexity,
				})
				break
			}
		}
	}
	return out
}
