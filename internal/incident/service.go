package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/mend/internal/audit"
	"github.com/linnemanlabs/mend/internal/event"
	"github.com/linnemanlabs/mend/internal/gate"
	"github.com/linnemanlabs/mend/internal/policy"
	"github.com/linnemanlabs/mend/internal/signature"
	"github.com/linnemanlabs/mend/internal/state"
	"github.com/linnemanlabs/mend/internal/vcs/github"
)

// DecisionGate is the external approval service mend defers to.
type DecisionGate interface {
	CreateDecision(ctx context.Context, req gate.DecisionRequest) gate.DecisionResult
	IsApproved(ctx context.Context, decisionID string) bool
}

// Notifier posts approval requests to a human channel. Best effort: the
// service logs failures and keeps going.
type Notifier interface {
	PostApprovalRequest(ctx context.Context, st *State) error
}

// VCS is the subset of the version-control client the pipeline needs.
type VCS interface {
	FailedStep(ctx context.Context, owner, repo string, runID int64) (step, excerpt string, err error)
	OpenRemediationPR(ctx context.Context, in github.RemediationInput) (string, error)
}

// WebhookResult is the outcome of processing one inbound webhook.
type WebhookResult struct {
	Status   string `json:"status"` // "ignored" | "duplicate" | "incident_created"
	Incident *State `json:"data,omitempty"`
}

// ApprovalRequest is the approval callback payload.
type ApprovalRequest struct {
	IncidentID    string `json:"incident_id"`
	DecisionID    string `json:"decision_id"`
	Approved      bool   `json:"approved"`
	Approver      string `json:"approver"`
	Justification string `json:"justification"`
}

// ApprovalResult is the outcome of an approval callback.
type ApprovalResult struct {
	Status string `json:"status"` // "denied" | "executed"
	PRURL  string `json:"pr_url,omitempty"`
}

// Service wires signature verification, dedup, risk policy, the decision
// gate, notification, and remediation into the incident pipeline. It is
// stateless per request; all shared state lives behind the Store.
type Service struct {
	verifier *signature.Verifier
	store    state.Store
	gate     DecisionGate
	notifier Notifier
	vcs      VCS
	auditw   audit.Writer
	metrics  *Metrics
	logger   log.Logger
}

// NewService creates the orchestrator service. verifier, store, and gate are
// required; notifier and vcs may be nil (notification skipped, remediation
// and job inspection unavailable).
func NewService(verifier *signature.Verifier, store state.Store, dg DecisionGate, notifier Notifier, vcs VCS, auditw audit.Writer, metrics *Metrics, logger log.Logger) *Service {
	if auditw == nil {
		auditw = audit.Nop{}
	}
	if metrics == nil {
		metrics = nopMetrics()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		verifier: verifier,
		store:    store,
		gate:     dg,
		notifier: notifier,
		vcs:      vcs,
		auditw:   auditw,
		metrics:  metrics,
		logger:   logger,
	}
}

// HandleWebhook runs the inbound half of the pipeline: verify, dedup, assess,
// request a decision, notify. It never remediates; that only happens through
// HandleApproval.
func (s *Service) HandleWebhook(ctx context.Context, eventType string, body []byte, sigHeader string) (*WebhookResult, error) {
	if err := s.verifier.Verify(body, sigHeader); err != nil {
		s.auditw.Write(ctx, "webhook.rejected", eventType, map[string]any{"reason": "signature"})
		s.metrics.WebhooksTotal.WithLabelValues("rejected").Inc()
		return nil, E(KindAuth, "webhook signature verification failed").Wrap(err)
	}

	var wh event.Webhook
	if err := json.Unmarshal(body, &wh); err != nil {
		s.metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
		s.auditw.Write(ctx, "webhook.ignored", eventType, map[string]any{"reason": "unparseable"})
		return &WebhookResult{Status: "ignored"}, nil
	}

	key := wh.Key(eventType)
	if key == "" || !wh.Failed() {
		s.metrics.WebhooksTotal.WithLabelValues("ignored").Inc()
		s.auditw.Write(ctx, "webhook.ignored", eventType, map[string]any{"key": key})
		return &WebhookResult{Status: "ignored"}, nil
	}

	ok, err := s.store.SetOnce(ctx, key, state.Doc{"received": true})
	if err != nil {
		return nil, E(KindInternal, "record event key").With("key", key).Wrap(err)
	}
	if !ok {
		// redelivery of an event we already consumed; not an error
		s.metrics.WebhooksTotal.WithLabelValues("duplicate").Inc()
		s.auditw.Write(ctx, "webhook.duplicate", key, nil)
		return &WebhookResult{Status: "duplicate"}, nil
	}

	st := s.buildIncident(ctx, &wh)
	s.auditw.Write(ctx, "incident.created", st.IncidentID, map[string]any{
		"repo": st.Repo, "workflow": st.Workflow, "run_id": st.RunID, "event_key": key,
	})
	s.auditw.Write(ctx, "risk.assessed", st.IncidentID, map[string]any{
		"risk_level": st.RiskLevel, "risk_score": st.RiskScore, "decision_gate": st.DecisionGate,
	})
	s.metrics.IncidentsTotal.WithLabelValues(st.RiskLevel).Inc()

	s.requestDecision(ctx, st)

	if err := s.persist(ctx, st); err != nil {
		return nil, err
	}

	s.notify(ctx, st)

	s.metrics.WebhooksTotal.WithLabelValues("incident_created").Inc()
	return &WebhookResult{Status: "incident_created", Incident: st}, nil
}

// buildIncident assembles incident fields from the payload, enriched with a
// best-effort lookup of the failing job step.
func (s *Service) buildIncident(ctx context.Context, wh *event.Webhook) *State {
	st := &State{
		IncidentID: ulid.Make().String(),
		RunID:      wh.RunID(),
		Repo:       wh.Repository.FullName,
		Workflow:   wh.Workflow(),
		LogsURL:    wh.LogsURL(),
		Status:     StatusPendingApproval,
		CreatedAt:  time.Now().UTC(),
	}

	var excerpt string
	if owner, repo, ok := wh.OwnerRepo(); ok && s.vcs != nil && st.RunID != 0 {
		step, ex, err := s.vcs.FailedStep(ctx, owner, repo, st.RunID)
		if err != nil {
			s.logger.Warn(ctx, "failed-step lookup unavailable, assessing from payload only",
				"incident_id", st.IncidentID, "error", err)
		} else {
			st.FailureStep = step
			excerpt = ex
		}
	}

	risk := policy.Assess(st.Workflow, st.FailureStep, excerpt)
	st.RiskLevel = risk.RiskLevel
	st.RiskScore = risk.RiskScore
	st.DecisionGate = risk.DecisionGate
	st.BlastRadius = risk.BlastRadius
	st.RootCause = policy.SummarizeRootCause(excerpt)
	return st
}

// requestDecision submits the decision request. A failed submission degrades
// to a placeholder decision id: the incident survives, remediation stays
// locked until a later approval check passes against a real decision.
func (s *Service) requestDecision(ctx context.Context, st *State) {
	risk := policy.Assessment{
		RiskLevel:    st.RiskLevel,
		RiskScore:    st.RiskScore,
		BlastRadius:  st.BlastRadius,
		DecisionGate: st.DecisionGate,
	}
	s.auditw.Write(ctx, "decision.requested", st.IncidentID, map[string]any{"action": "open_remediation_pr"})

	res := s.gate.CreateDecision(ctx, gate.DecisionRequest{
		Title:     fmt.Sprintf("Remediate pipeline failure in %s", st.Repo),
		Action:    "open_remediation_pr",
		Rationale: st.RootCause,
		Impact:    fmt.Sprintf("repo=%s workflow=%s", st.Repo, st.Workflow),
		Risk:      risk,
	})
	if !res.OK {
		st.DecisionID = "unknown"
		s.metrics.DecisionRequestsTotal.WithLabelValues("error").Inc()
		s.auditw.Write(ctx, "decision.failed", st.IncidentID, map[string]any{"status": res.Status})
		return
	}
	st.DecisionID = res.DecisionID
	s.metrics.DecisionRequestsTotal.WithLabelValues("ok").Inc()
	s.auditw.Write(ctx, "decision.created", res.DecisionID, map[string]any{"incident_id": st.IncidentID})
}

func (s *Service) persist(ctx context.Context, st *State) error {
	doc, err := st.doc()
	if err != nil {
		return E(KindInternal, "encode incident state").With("incident_id", st.IncidentID).Wrap(err)
	}
	if err := s.store.Update(ctx, st.Key(), doc); err != nil {
		return E(KindInternal, "persist incident state").With("incident_id", st.IncidentID).Wrap(err)
	}
	return nil
}

// notify posts the approval request. Failures are swallowed: notification is
// best effort and must never block the pipeline.
func (s *Service) notify(ctx context.Context, st *State) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PostApprovalRequest(ctx, st); err != nil {
		s.logger.Warn(ctx, "approval notification failed", "incident_id", st.IncidentID, "error", err)
		s.metrics.NotificationsTotal.WithLabelValues("error").Inc()
		s.auditw.Write(ctx, "notify.failed", st.IncidentID, map[string]any{"error": err.Error()})
		return
	}
	s.metrics.NotificationsTotal.WithLabelValues("ok").Inc()
	s.auditw.Write(ctx, "notify.posted", st.IncidentID, nil)
}

// Get retrieves stored incident state by id.
func (s *Service) Get(ctx context.Context, incidentID string) (*State, bool, error) {
	doc, ok, err := s.store.Get(ctx, "incident:"+incidentID)
	if err != nil {
		return nil, false, E(KindInternal, "read incident state").With("incident_id", incidentID).Wrap(err)
	}
	if !ok {
		return nil, false, nil
	}
	st, err := stateFromDoc(doc)
	if err != nil {
		return nil, false, E(KindInternal, "decode incident state").With("incident_id", incidentID).Wrap(err)
	}
	return st, true, nil
}

// HandleApproval runs the remediation half of the pipeline. A PR is opened
// iff the payload says approved AND the decision service independently
// confirms the stored decision — the payload cannot self-certify. Replays of
// an already-remediated incident return the existing PR instead of a second
// one.
func (s *Service) HandleApproval(ctx context.Context, req ApprovalRequest) (*ApprovalResult, error) {
	s.auditw.Write(ctx, "approval.received", req.IncidentID, map[string]any{
		"approver": req.Approver, "approved": req.Approved, "decision_id": req.DecisionID,
	})

	st, ok, err := s.Get(ctx, req.IncidentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.ApprovalsTotal.WithLabelValues("state_missing").Inc()
		return nil, E(KindStateMissing, "no state for incident").With("incident_id", req.IncidentID)
	}

	if !req.Approved {
		st.Status = StatusDenied
		if err := s.persist(ctx, st); err != nil {
			return nil, err
		}
		s.metrics.ApprovalsTotal.WithLabelValues("denied").Inc()
		s.auditw.Write(ctx, "approval.denied", req.IncidentID, map[string]any{"approver": req.Approver})
		return &ApprovalResult{Status: "denied"}, nil
	}

	// read-before-write: at most one PR per incident, ever
	if st.PRURL != "" {
		s.metrics.ApprovalsTotal.WithLabelValues("replayed").Inc()
		s.auditw.Write(ctx, "remediation.skipped", req.IncidentID, map[string]any{"pr_url": st.PRURL})
		return &ApprovalResult{Status: "executed", PRURL: st.PRURL}, nil
	}

	// the stored decision id is authoritative, not the payload's
	if !s.gate.IsApproved(ctx, st.DecisionID) {
		s.metrics.ApprovalsTotal.WithLabelValues("blocked").Inc()
		s.auditw.Write(ctx, "approval.blocked", req.IncidentID, map[string]any{"decision_id": st.DecisionID})
		return nil, E(KindPolicyBlocked, "decision service did not confirm approval").
			With("incident_id", req.IncidentID).With("decision_id", st.DecisionID)
	}
	s.auditw.Write(ctx, "decision.confirmed", st.DecisionID, map[string]any{"incident_id": req.IncidentID})

	if s.vcs == nil {
		s.metrics.RemediationsTotal.WithLabelValues("error").Inc()
		return nil, E(KindUpstream, "vcs client not configured")
	}
	owner, repo, ok := splitRepo(st.Repo)
	if !ok {
		s.metrics.RemediationsTotal.WithLabelValues("error").Inc()
		return nil, E(KindInternal, "incident has malformed repo").With("repo", st.Repo)
	}

	start := time.Now()
	prURL, err := s.vcs.OpenRemediationPR(ctx, github.RemediationInput{
		Owner:    owner,
		Repo:     repo,
		Branch:   "fix/" + st.IncidentID,
		Title:    fmt.Sprintf("Remediate %s failure (incident %s)", st.Workflow, st.IncidentID),
		Body:     remediationBody(st, req),
		NotePath: fmt.Sprintf(".mend/remediation-%s.md", st.IncidentID),
		NoteBody: remediationNote(st, req),
	})
	s.metrics.RemediationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.RemediationsTotal.WithLabelValues("error").Inc()
		s.auditw.Write(ctx, "remediation.failed", req.IncidentID, map[string]any{"error": err.Error()})
		return nil, E(KindUpstream, "open remediation pr").With("incident_id", req.IncidentID).Wrap(err)
	}

	st.PRURL = prURL
	st.Status = StatusRemediated
	if err := s.persist(ctx, st); err != nil {
		return nil, err
	}

	s.metrics.ApprovalsTotal.WithLabelValues("executed").Inc()
	s.metrics.RemediationsTotal.WithLabelValues("ok").Inc()
	s.auditw.Write(ctx, "remediation.opened", req.IncidentID, map[string]any{"pr_url": prURL})
	return &ApprovalResult{Status: "executed", PRURL: prURL}, nil
}

func remediationBody(st *State, req ApprovalRequest) string {
	return fmt.Sprintf(
		"Draft remediation for incident `%s`.\n\n"+
			"- Workflow: %s\n- Run: %d\n- Risk: %s (%d, gate %s)\n- Logs: %s\n\n"+
			"%s\n\nApproved by %s: %s\n",
		st.IncidentID, st.Workflow, st.RunID, st.RiskLevel, st.RiskScore, st.DecisionGate,
		st.LogsURL, st.RootCause, req.Approver, req.Justification,
	)
}

func remediationNote(st *State, req ApprovalRequest) string {
	return fmt.Sprintf(
		"# Remediation note\n\n"+
			"Incident: %s\nDecision: %s\nRepository: %s\nWorkflow: %s\nFailing step: %s\n\n"+
			"%s\n\nApprover: %s\nJustification: %s\n",
		st.IncidentID, st.DecisionID, st.Repo, st.Workflow, st.FailureStep,
		st.RootCause, req.Approver, req.Justification,
	)
}

func splitRepo(full string) (owner, repo string, ok bool) {
	owner, repo, ok = strings.Cut(full, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", false
	}
	return owner, repo, true
}
