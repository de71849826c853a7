package incident

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := E(KindUpstream, "open remediation pr").With("incident_id", "inc-1").Wrap(cause)

	if got := err.Error(); got != "upstream_unavailable: open remediation pr: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is does not see the wrapped cause")
	}
	if err.Details["incident_id"] != "inc-1" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestError_WithoutCause(t *testing.T) {
	t.Parallel()

	err := E(KindAuth, "webhook signature verification failed")
	if got := err.Error(); got != "authentication: webhook signature verification failed" {
		t.Errorf("Error() = %q", got)
	}
	if err.Unwrap() != nil {
		t.Error("Unwrap() != nil without a cause")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"tagged error", E(KindStateMissing, "no state"), KindStateMissing},
		{"wrapped tagged error", fmt.Errorf("outer: %w", E(KindPolicyBlocked, "blocked")), KindPolicyBlocked},
		{"plain error", errors.New("boom"), KindInternal},
		{"nil-ish", fmt.Errorf("x"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestState_DocRoundTrip(t *testing.T) {
	t.Parallel()

	st := &State{
		IncidentID:   "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		DecisionID:   "dec-1",
		RunID:        8128,
		Repo:         "acme/widgets",
		Workflow:     "Deploy",
		Status:       StatusPendingApproval,
		RiskLevel:    "HIGH",
		RiskScore:    85,
		DecisionGate: "COMMANDER",
	}

	doc, err := st.doc()
	if err != nil {
		t.Fatalf("doc: %v", err)
	}
	got, err := stateFromDoc(doc)
	if err != nil {
		t.Fatalf("stateFromDoc: %v", err)
	}

	if got.IncidentID != st.IncidentID || got.RunID != st.RunID || got.Status != st.Status {
		t.Errorf("round trip = %+v, want %+v", got, st)
	}
	if got.RiskScore != 85 {
		t.Errorf("RiskScore = %d", got.RiskScore)
	}
	if got.Key() != "incident:01ARZ3NDEKTSV4RRFFQ69G5FAV" {
		t.Errorf("Key() = %q", got.Key())
	}
}
