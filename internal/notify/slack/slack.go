// Package slack posts approval requests to Slack via incoming webhooks. The
// message carries Approve/Deny buttons whose action values encode
// incident_id|decision_id|action for the approval callback.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/mend/internal/incident"
	"github.com/linnemanlabs/mend/internal/policy"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 15 * time.Second
)

// Notifier sends approval requests to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, posting is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// PostApprovalRequest posts the approval message for an incident.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) PostApprovalRequest(ctx context.Context, st *incident.State) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(st)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(st *incident.State) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("Approval needed: pipeline failure in %s", st.Repo),
		"blocks": []map[string]any{
			headerBlock(st),
			{"type": "divider"},
			fieldsBlock(st),
			summaryBlock(st),
			actionsBlock(st),
			contextBlock(st),
		},
	}
}

func headerBlock(st *incident.State) map[string]any {
	text := fmt.Sprintf("%s Remediation approval: %s", riskEmoji(st.RiskLevel), st.Workflow)
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(st *incident.State) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Incident:* %s", st.IncidentID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Decision:* %s", st.DecisionID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Repo:* %s", st.Repo),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk:* %s (%d, gate %s)", st.RiskLevel, st.RiskScore, st.DecisionGate),
		},
	}
	if st.FailureStep != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Failing step:* %s", st.FailureStep),
		})
	}
	if st.LogsURL != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Logs:* <%s|run logs>", st.LogsURL),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(st *incident.State) map[string]any {
	text := truncate(st.RootCause, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

// actionsBlock renders the two mutually exclusive controls. The value format
// is the contract the approval callback parses.
func actionsBlock(st *incident.State) map[string]any {
	return map[string]any{
		"type": "actions",
		"elements": []map[string]any{
			{
				"type":      "button",
				"style":     "primary",
				"action_id": "mend_approve",
				"text":      map[string]any{"type": "plain_text", "text": "Approve"},
				"value":     fmt.Sprintf("%s|%s|approve", st.IncidentID, st.DecisionID),
			},
			{
				"type":      "button",
				"style":     "danger",
				"action_id": "mend_deny",
				"text":      map[string]any{"type": "plain_text", "text": "Deny"},
				"value":     fmt.Sprintf("%s|%s|deny", st.IncidentID, st.DecisionID),
			},
		},
	}
}

func contextBlock(st *incident.State) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("mend • incident %s • %s", st.IncidentID, st.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func riskEmoji(level string) string {
	switch level {
	case policy.RiskHigh:
		return "\U0001f534" // red circle
	case policy.RiskMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
