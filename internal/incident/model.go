package incident

import (
	"encoding/json"
	"time"

	"github.com/linnemanlabs/mend/internal/state"
)

// Status tracks where an incident is in its remediation lifecycle.
type Status string

const (
	// StatusPendingApproval means the incident exists and a decision request
	// has been submitted; remediation awaits an approval callback.
	StatusPendingApproval Status = "pending_approval"

	// StatusDenied means an approver explicitly said no.
	StatusDenied Status = "denied"

	// StatusRemediated means the draft remediation PR was opened.
	StatusRemediated Status = "remediated"
)

// State is the orchestrator's record of a detected pipeline failure and its
// remediation lifecycle. Persisted under key "incident:<id>"; never deleted.
type State struct {
	IncidentID   string    `json:"incident_id"`
	DecisionID   string    `json:"decision_id"`
	RunID        int64     `json:"run_id"`
	Repo         string    `json:"repo"`
	Workflow     string    `json:"workflow"`
	FailureStep  string    `json:"failure_step,omitempty"`
	LogsURL      string    `json:"logs_url,omitempty"`
	PRURL        string    `json:"pr_url,omitempty"`
	Status       Status    `json:"status"`
	RiskLevel    string    `json:"risk_level"`
	RiskScore    int       `json:"risk_score"`
	DecisionGate string    `json:"decision_gate"`
	BlastRadius  string    `json:"blast_radius"`
	RootCause    string    `json:"root_cause,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Key returns the idempotency-store key for the incident.
func (s *State) Key() string {
	return "incident:" + s.IncidentID
}

// doc converts the state to a store document via a JSON round trip, so the
// stored shape always matches the wire shape.
func (s *State) doc() (state.Doc, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var d state.Doc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return d, nil
}

func stateFromDoc(d state.Doc) (*State, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
