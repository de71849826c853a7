package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/linnemanlabs/mend/internal/policy"
)

func TestCreateDecision_Success(t *testing.T) {
	t.Parallel()

	var gotPath, gotToken, gotOrg, gotRegion string
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Token")
		gotOrg = r.Header.Get("X-Org-Id")
		gotRegion = r.Header.Get("X-Region")
		_ = json.NewDecoder(r.Body).Decode(&gotPayload)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"dec-42","status":"pending"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", "org-1", "eu", nil)
	res := c.CreateDecision(context.Background(), DecisionRequest{
		Title:     "Remediate pipeline failure in acme/widgets",
		Action:    "open_remediation_pr",
		Rationale: "Likely root cause from logs: exit status 2",
		Impact:    "repo=acme/widgets workflow=CI",
		Risk:      policy.Assessment{RiskLevel: policy.RiskMedium, RiskScore: 55, DecisionGate: policy.GateReview},
	})

	if !res.OK {
		t.Fatal("OK = false, want true")
	}
	if res.DecisionID != "dec-42" {
		t.Errorf("DecisionID = %q, want dec-42", res.DecisionID)
	}
	if res.Status != "pending" {
		t.Errorf("Status = %q, want pending", res.Status)
	}

	if gotPath != "/api/decisions" {
		t.Errorf("path = %q, want /api/decisions", gotPath)
	}
	if gotToken != "tok" || gotOrg != "org-1" || gotRegion != "eu" {
		t.Errorf("auth headers = %q/%q/%q", gotToken, gotOrg, gotRegion)
	}
	if gotPayload["alert_id"] != "devops-workflow" {
		t.Errorf("alert_id = %v", gotPayload["alert_id"])
	}
	if gotPayload["proposer"] != "mend-orchestrator" {
		t.Errorf("proposer = %v", gotPayload["proposer"])
	}
	if gotPayload["proposed_action"] != "open_remediation_pr" {
		t.Errorf("proposed_action = %v", gotPayload["proposed_action"])
	}
	rationale, _ := gotPayload["rationale"].(string)
	if rationale == "" {
		t.Error("rationale is empty")
	}
}

func TestCreateDecision_EmptyFieldsGetPlaceholders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	res := New(srv.URL, "", "", "", nil).CreateDecision(context.Background(), DecisionRequest{})
	if !res.OK {
		t.Fatal("OK = false")
	}
	if res.DecisionID != "unknown" {
		t.Errorf("DecisionID = %q, want unknown", res.DecisionID)
	}
	if res.Status != "pending" {
		t.Errorf("Status = %q, want pending", res.Status)
	}
}

func TestCreateDecision_ServerErrorDegrades(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res := New(srv.URL, "", "", "", nil).CreateDecision(context.Background(), DecisionRequest{})
	if res.OK {
		t.Fatal("OK = true for 500 response, want false")
	}
	if res.Status != "error" {
		t.Errorf("Status = %q, want error", res.Status)
	}
}

func TestCreateDecision_UnreachableDegrades(t *testing.T) {
	t.Parallel()

	res := New("http://127.0.0.1:1", "", "", "", nil).CreateDecision(context.Background(), DecisionRequest{})
	if res.OK {
		t.Fatal("OK = true for unreachable gate, want false")
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/decisions/dec-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"dec-7","status":"approved"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "", "", nil)
	st, err := c.Status(context.Background(), "dec-7")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st != "approved" {
		t.Errorf("status = %q, want approved", st)
	}

	if _, err := c.Status(context.Background(), "missing"); err == nil {
		t.Error("Status for unknown id did not error")
	}
}

func TestIsApproved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		want   bool
	}{
		{"approved", "approved", true},
		{"approve", "approve", true},
		{"allowed", "allowed", true},
		{"allow", "allow", true},
		{"uppercase approved", "APPROVED", true},
		{"pending", "pending", false},
		{"denied", "denied", false},
		{"rejected", "rejected", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_ = json.NewEncoder(w).Encode(map[string]string{"id": "d", "status": tt.status})
			}))
			defer srv.Close()

			if got := New(srv.URL, "", "", "", nil).IsApproved(context.Background(), "d"); got != tt.want {
				t.Errorf("IsApproved(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestIsApproved_FailsClosed(t *testing.T) {
	t.Parallel()

	// placeholder ids never hit the network
	c := New("http://127.0.0.1:1", "", "", "", nil)
	if c.IsApproved(context.Background(), "") {
		t.Error("IsApproved(\"\") = true, want false")
	}
	if c.IsApproved(context.Background(), "unknown") {
		t.Error("IsApproved(\"unknown\") = true, want false")
	}
	// transport failure is a no
	if c.IsApproved(context.Background(), "dec-1") {
		t.Error("IsApproved with unreachable gate = true, want false")
	}
}
