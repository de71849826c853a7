// Package policy classifies the risk of remediating a failed pipeline run.
// Classification is a pure function of the workflow name, the failing step,
// and a log excerpt; the keyword sets and their precedence are a stable
// contract that downstream approval routing depends on.
package policy

import "strings"

// Risk levels.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Decision gates. COMMANDER routes to the strictest approval lane.
const (
	GateAllow     = "ALLOW"
	GateReview    = "REVIEW"
	GateCommander = "COMMANDER"
)

// lowRiskKeywords mark changes confined to tests, docs, and formatting.
var lowRiskKeywords = []string{"lint", "format", "docs", "readme", "typo", "test"}

// highRiskKeywords mark infra or security sensitive operations. These win
// over the low-risk set when both match.
var highRiskKeywords = []string{"terraform", "helm", "kubernetes", "prod", "production", "iam", "security", "policy", "secrets"}

// Assessment is the computed risk classification for a failed run.
type Assessment struct {
	RiskLevel    string   `json:"risk_level"`
	RiskScore    int      `json:"risk_score"`
	BlastRadius  string   `json:"blast_radius"`
	ChangeTypes  []string `json:"change_types"`
	DecisionGate string   `json:"decision_gate"`
}

// Assess classifies a failed run. Deterministic: the same inputs always
// produce the same assessment, and the HIGH check runs before the LOW check.
func Assess(workflow, failureStep, logsExcerpt string) Assessment {
	text := strings.ToLower(workflow + " " + failureStep + " " + logsExcerpt)

	if containsAny(text, highRiskKeywords) {
		return Assessment{
			RiskLevel:    RiskHigh,
			RiskScore:    85,
			BlastRadius:  "prod",
			ChangeTypes:  []string{"infra_or_security"},
			DecisionGate: GateCommander,
		}
	}

	if containsAny(text, lowRiskKeywords) {
		return Assessment{
			RiskLevel:    RiskLow,
			RiskScore:    20,
			BlastRadius:  "non-prod",
			ChangeTypes:  []string{"tests_docs_format"},
			DecisionGate: GateAllow,
		}
	}

	return Assessment{
		RiskLevel:    RiskMedium,
		RiskScore:    55,
		BlastRadius:  "non-prod",
		ChangeTypes:  []string{"application_logic"},
		DecisionGate: GateReview,
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

const maxRootCauseLen = 280

// SummarizeRootCause produces a one-line root cause hint from a log excerpt.
// It is intentionally dumb: the first non-empty line, capped, beats nothing
// when a human opens the approval request.
func SummarizeRootCause(logsExcerpt string) string {
	if logsExcerpt == "" {
		return "RCA pending: logs unavailable."
	}
	for _, line := range strings.Split(logsExcerpt, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxRootCauseLen {
			line = line[:maxRootCauseLen]
		}
		return "Likely root cause from logs: " + line
	}
	return "RCA pending: logs empty."
}
