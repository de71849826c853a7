package policy

import (
	"reflect"
	"strings"
	"testing"
)

func TestAssess_HighRisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		workflow    string
		failureStep string
		logs        string
	}{
		{"terraform in workflow", "Terraform Apply", "", ""},
		{"helm in step", "Deploy", "helm upgrade", ""},
		{"kubernetes in logs", "CI", "", "error applying kubernetes manifest"},
		{"prod substring", "deploy-prod", "", ""},
		{"iam keyword", "ci", "update iam role", ""},
		{"secrets keyword", "build", "", "failed to read secrets"},
		{"case insensitive", "TERRAFORM PLAN", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Assess(tt.workflow, tt.failureStep, tt.logs)
			if got.RiskLevel != RiskHigh {
				t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, RiskHigh)
			}
			if got.RiskScore != 85 {
				t.Errorf("RiskScore = %d, want 85", got.RiskScore)
			}
			if got.DecisionGate != GateCommander {
				t.Errorf("DecisionGate = %q, want %q", got.DecisionGate, GateCommander)
			}
			if got.BlastRadius != "prod" {
				t.Errorf("BlastRadius = %q, want %q", got.BlastRadius, "prod")
			}
		})
	}
}

func TestAssess_LowRisk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		workflow    string
		failureStep string
		logs        string
	}{
		{"lint workflow", "Lint", "", ""},
		{"format step", "CI", "check formatting", ""},
		{"docs change", "build docs", "", ""},
		{"readme", "ci", "", "README.md out of date"},
		{"typo", "ci", "typo check", ""},
		{"unit tests", "Unit Tests", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Assess(tt.workflow, tt.failureStep, tt.logs)
			if got.RiskLevel != RiskLow {
				t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, RiskLow)
			}
			if got.RiskScore != 20 {
				t.Errorf("RiskScore = %d, want 20", got.RiskScore)
			}
			if got.DecisionGate != GateAllow {
				t.Errorf("DecisionGate = %q, want %q", got.DecisionGate, GateAllow)
			}
		})
	}
}

func TestAssess_MediumRiskDefault(t *testing.T) {
	t.Parallel()

	got := Assess("Build and Package", "compile", "undefined symbol main.frobnicate")
	if got.RiskLevel != RiskMedium {
		t.Errorf("RiskLevel = %q, want %q", got.RiskLevel, RiskMedium)
	}
	if got.RiskScore != 55 {
		t.Errorf("RiskScore = %d, want 55", got.RiskScore)
	}
	if got.DecisionGate != GateReview {
		t.Errorf("DecisionGate = %q, want %q", got.DecisionGate, GateReview)
	}
	if got.BlastRadius != "non-prod" {
		t.Errorf("BlastRadius = %q, want %q", got.BlastRadius, "non-prod")
	}
}

func TestAssess_HighWinsOverLow(t *testing.T) {
	t.Parallel()

	// both keyword sets match; the stricter classification must win
	got := Assess("lint terraform modules", "", "")
	if got.RiskLevel != RiskHigh {
		t.Errorf("RiskLevel = %q, want %q when both sets match", got.RiskLevel, RiskHigh)
	}
	if got.DecisionGate != GateCommander {
		t.Errorf("DecisionGate = %q, want %q", got.DecisionGate, GateCommander)
	}
}

func TestAssess_Deterministic(t *testing.T) {
	t.Parallel()

	a := Assess("Deploy prod", "helm upgrade", "context deadline exceeded")
	b := Assess("Deploy prod", "helm upgrade", "context deadline exceeded")
	if !reflect.DeepEqual(a, b) && a.RiskLevel != b.RiskLevel {
		t.Errorf("Assess not deterministic: %+v vs %+v", a, b)
	}
}

func TestSummarizeRootCause(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		logs string
		want string
	}{
		{"empty logs", "", "RCA pending: logs unavailable."},
		{"whitespace only", "\n   \n\t\n", "RCA pending: logs empty."},
		{"first line", "npm ERR! missing script: build\nnpm ERR! a complete log", "Likely root cause from logs: npm ERR! missing script: build"},
		{"skips blank leading lines", "\n\n  \nError: compile failed\nmore", "Likely root cause from logs: Error: compile failed"},
		{"trims whitespace", "   exit status 2   \n", "Likely root cause from logs: exit status 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := SummarizeRootCause(tt.logs); got != tt.want {
				t.Errorf("SummarizeRootCause(%q) = %q, want %q", tt.logs, got, tt.want)
			}
		})
	}
}

func TestSummarizeRootCause_CapsLongLines(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 1000)
	got := SummarizeRootCause(long)
	want := "Likely root cause from logs: " + long[:maxRootCauseLen]
	if got != want {
		t.Errorf("long line not capped at %d chars: got len %d", maxRootCauseLen, len(got))
	}
}
