// Package gate proxies the external approval/governance service. mend never
// decides anything itself: it submits decision requests here and later asks
// whether the decision was approved.
package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/mend/internal/policy"
)

const httpTimeout = 15 * time.Second

// approvedStatuses are the decision-service status strings that count as an
// explicit approval. Anything else, including transport failure, is not.
var approvedStatuses = map[string]bool{
	"approved": true,
	"approve":  true,
	"allowed":  true,
	"allow":    true,
}

// DecisionRequest describes one proposed remediation for approval.
type DecisionRequest struct {
	Title     string
	Action    string
	Rationale string
	Impact    string
	Risk      policy.Assessment
}

// DecisionResult is the outcome of submitting a decision request. OK=false
// means the gate was unreachable or rejected the request; the caller keeps
// going with a placeholder id and flags the degradation in the audit log.
type DecisionResult struct {
	OK         bool
	Status     string
	DecisionID string
}

// Client talks to the decision service.
type Client struct {
	baseURL string
	token   string
	orgID   string
	region  string
	client  *http.Client
	logger  log.Logger
}

// New creates a decision gate client.
func New(baseURL, token, orgID, region string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.Nop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		orgID:   orgID,
		region:  region,
		client:  &http.Client{Timeout: httpTimeout},
		logger:  logger,
	}
}

// CreateDecision submits a decision request. Transport failures and non-2xx
// responses degrade to OK=false rather than erroring: the incident pipeline
// continues, but nothing can be remediated until a later IsApproved succeeds.
func (c *Client) CreateDecision(ctx context.Context, req DecisionRequest) DecisionResult {
	payload := map[string]any{
		"alert_id":        "devops-workflow",
		"proposer":        "mend-orchestrator",
		"proposed_action": req.Action,
		"rationale": fmt.Sprintf("%s. %s. Impact: %s. Risk: %s/%d gate=%s",
			req.Title, req.Rationale, req.Impact, req.Risk.RiskLevel, req.Risk.RiskScore, req.Risk.DecisionGate),
	}

	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	status, err := c.do(ctx, http.MethodPost, c.baseURL+"/api/decisions", payload, &out)
	if err != nil {
		c.logger.Warn(ctx, "gate: create decision failed", "error", err)
		return DecisionResult{OK: false, Status: "error"}
	}
	if status < 200 || status >= 300 {
		c.logger.Warn(ctx, "gate: create decision rejected", "http_status", status)
		return DecisionResult{OK: false, Status: "error"}
	}

	id := out.ID
	if id == "" {
		id = "unknown"
	}
	st := out.Status
	if st == "" {
		st = "pending"
	}
	return DecisionResult{OK: true, Status: st, DecisionID: id}
}

// Status fetches the current status string for a decision.
func (c *Client) Status(ctx context.Context, decisionID string) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	status, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/decisions/"+decisionID, nil, &out)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("gate: decision status returned %d", status)
	}
	return out.Status, nil
}

// IsApproved reports whether the decision service has explicitly approved the
// decision. Fail-closed: unknown ids, pending/denied states, and transport
// errors all return false.
func (c *Client) IsApproved(ctx context.Context, decisionID string) bool {
	if decisionID == "" || decisionID == "unknown" {
		return false
	}
	st, err := c.Status(ctx, decisionID)
	if err != nil {
		c.logger.Warn(ctx, "gate: decision status failed", "decision_id", decisionID, "error", err)
		return false
	}
	return approvedStatuses[strings.ToLower(st)]
}

func (c *Client) do(ctx context.Context, method, url string, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("gate: marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("gate: create request: %w", err)
	}
	req.Header.Set("X-Token", c.token)
	req.Header.Set("X-Org-Id", c.orgID)
	req.Header.Set("X-Region", c.region)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gate: %s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("gate: read response: %w", err)
	}
	if out != nil && len(raw) > 0 {
		// tolerate non-JSON bodies on error statuses
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}
