package recommend

// Static remediation knowledge: incident categories, the keyword predicates
// that select them, and the playbook each category contributes.

type category string

const (
	categoryUnauthorizedAccess  category = "unauthorized_access"
	categoryDataExfiltration    category = "data_exfiltration"
	categoryPrivilegeEscalation category = "privilege_escalation"
	categoryMalwareInfection    category = "malware_infection"
	categoryAccountCompromise   category = "account_compromise"
	categoryDDoSAttack          category = "ddos_attack"
	categoryConfigurationDrift  category = "configuration_drift"
)

// templateMatchers is an ordered list of (keyword predicate, category) pairs.
// Every pair whose keyword appears in the lowercased input selects its
// category; evaluation order fixes the category order in the output.
var templateMatchers = []struct {
	Keyword  string
	Category category
}{
	{"unauthorized", categoryUnauthorizedAccess},
	{"t1078", categoryUnauthorizedAccess},
	{"exfiltration", categoryDataExfiltration},
	{"t1048", categoryDataExfiltration},
	{"t1567", categoryDataExfiltration},
	{"privilege", categoryPrivilegeEscalation},
	{"escalation", categoryPrivilegeEscalation},
	{"t1068", categoryPrivilegeEscalation},
	{"malware", categoryMalwareInfection},
	{"ransomware", categoryMalwareInfection},
	{"t1105", categoryMalwareInfection},
	{"t1204", categoryMalwareInfection},
	{"account_compromise", categoryAccountCompromise},
	{"credential", categoryAccountCompromise},
	{"t1110", categoryAccountCompromise},
	{"t1098", categoryAccountCompromise},
	{"ddos", categoryDDoSAttack},
	{"denial_of_service", categoryDDoSAttack},
	{"t1498", categoryDDoSAttack},
	{"configuration", categoryConfigurationDrift},
	{"drift", categoryConfigurationDrift},
	{"t1578", categoryConfigurationDrift},
}

type playbook struct {
	ImmediateActions   []string
	InvestigationSteps []string
	PreventiveMeasures []string
}

var playbooks = map[category]playbook{
	categoryUnauthorizedAccess: {
		ImmediateActions: []string{
			"Immediately disable the affected user accounts",
			"Revoke all active sessions and access tokens for the affected identities",
			"Block the source IP addresses at the perimeter firewall",
		},
		InvestigationSteps: []string{
			"Review authentication logs for the affected accounts over the past 72 hours",
			"Check for lateral movement from the initially accessed systems",
			"Audit recent permission changes on the accessed resources",
		},
		PreventiveMeasures: []string{
			"Enforce multi-factor authentication for all privileged accounts",
			"Enable anomalous-login alerting on the identity provider",
			"Review and tighten network access control lists",
		},
	},
	categoryDataExfiltration: {
		ImmediateActions: []string{
			"Immediately block outbound transfers to the destination endpoints",
			"Isolate the systems observed sending data",
			"Revoke credentials used by the exfiltrating processes",
		},
		InvestigationSteps: []string{
			"Quantify the volume and classification of the data that left the environment",
			"Review data-access audit trails for the affected datasets",
			"Check egress logs for additional undetected transfer channels",
		},
		PreventiveMeasures: []string{
			"Enable data-loss-prevention scanning on egress paths",
			"Configure egress filtering to an allowlist of destinations",
			"Encrypt sensitive datasets at rest and restrict bulk export",
		},
	},
	categoryPrivilegeEscalation: {
		ImmediateActions: []string{
			"Immediately revoke the escalated permissions",
			"Terminate sessions holding elevated privileges",
			"Disable the exploited service account",
		},
		InvestigationSteps: []string{
			"Review the privilege grant path that allowed the escalation",
			"Audit all actions performed under the elevated privileges",
			"Check for persistence mechanisms installed while elevated",
		},
		PreventiveMeasures: []string{
			"Apply least-privilege policies to service accounts",
			"Enable alerts on role and policy modifications",
			"Patch the privilege-escalation vector on affected hosts",
		},
	},
	categoryMalwareInfection: {
		ImmediateActions: []string{
			"Isolate the infected hosts from the network",
			"Terminate the malicious processes",
			"Block the command-and-control domains and IP addresses",
		},
		InvestigationSteps: []string{
			"Identify the malware family and its capabilities",
			"Review how the initial payload was delivered",
			"Check neighbouring hosts for the same indicators",
		},
		PreventiveMeasures: []string{
			"Update endpoint protection signatures and rules",
			"Enable application allowlisting on critical servers",
			"Configure mail and web gateways to strip active content",
		},
	},
	categoryAccountCompromise: {
		ImmediateActions: []string{
			"Immediately disable the compromised accounts",
			"Revoke all refresh tokens and API keys issued to the accounts",
			"Block authentication from the attacking source addresses",
		},
		InvestigationSteps: []string{
			"Review the account activity timeline since the first suspicious login",
			"Check mailbox rules and OAuth grants added by the attacker",
			"Audit resources the compromised accounts could reach",
		},
		PreventiveMeasures: []string{
			"Enforce credential rotation for all affected users",
			"Enable impossible-travel and new-device alerting",
			"Configure conditional access policies for sensitive applications",
		},
	},
	categoryDDoSAttack: {
		ImmediateActions: []string{
			"Immediately enable upstream DDoS mitigation",
			"Block the highest-volume source networks",
			"Disable non-essential endpoints absorbing the load",
		},
		InvestigationSteps: []string{
			"Review traffic captures to characterize the attack vector",
			"Check whether the flood masks another intrusion attempt",
			"Audit rate-limit configuration on the targeted services",
		},
		PreventiveMeasures: []string{
			"Configure always-on volumetric protection for public endpoints",
			"Enable autoscaling headroom for absorbing bursts",
			"Review capacity plans for the targeted services",
		},
	},
	categoryConfigurationDrift: {
		ImmediateActions: []string{
			"Revert the unauthorized configuration changes",
			"Disable the change path used to apply them",
			"Review who approved and applied the drifted settings",
		},
		InvestigationSteps: []string{
			"Audit the change history for the affected resources",
			"Check whether the drift exposed data or weakened controls",
			"Review infrastructure-as-code state against the live environment",
		},
		PreventiveMeasures: []string{
			"Enable continuous configuration compliance scanning",
			"Enforce change management through version-controlled pipelines",
			"Configure alerts on out-of-band configuration edits",
		},
	},
}

// severityWeights scale action scores and the overall priority score.
var severityWeights = map[string]float64{
	"critical":      1.0,
	"high":          0.8,
	"medium":        0.6,
	"low":           0.4,
	"informational": 0.2,
}

// Verb lists used to prioritize immediate actions.
var (
	highPriorityVerbs   = []string{"immediately", "disable", "revoke", "block", "terminate", "isolate"}
	mediumPriorityVerbs = []string{"review", "audit", "check", "enable", "configure"}
)
