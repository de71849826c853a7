// Package event models the VCS webhook payloads mend consumes: workflow_run
// and check_suite shaped events delivered by a GitHub App subscription.
package event

import (
	"fmt"
	"strings"
)

// Event types as delivered in the event-type header.
const (
	TypeWorkflowRun = "workflow_run"
	TypeCheckSuite  = "check_suite"
)

// Repository identifies the repo an event belongs to.
type Repository struct {
	FullName string `json:"full_name"`
}

// WorkflowRun is the subset of a workflow_run payload mend cares about.
type WorkflowRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Conclusion string `json:"conclusion"`
	HTMLURL    string `json:"html_url"`
	LogsURL    string `json:"logs_url"`
	HeadBranch string `json:"head_branch"`
}

// CheckSuite is the subset of a check_suite payload mend cares about.
type CheckSuite struct {
	ID         int64  `json:"id"`
	Conclusion string `json:"conclusion"`
	HeadBranch string `json:"head_branch"`
}

// Webhook is the envelope for both supported event types. Exactly one of
// WorkflowRun / CheckSuite is populated depending on the event-type header.
type Webhook struct {
	Action      string       `json:"action"`
	WorkflowRun *WorkflowRun `json:"workflow_run,omitempty"`
	CheckSuite  *CheckSuite  `json:"check_suite,omitempty"`
	Repository  Repository   `json:"repository"`
}

// Key derives the idempotency key for the event, or "" if the event type is
// not one mend processes. Keys are stable across redeliveries of the same
// upstream event.
func (w *Webhook) Key(eventType string) string {
	switch eventType {
	case TypeWorkflowRun:
		if w.WorkflowRun == nil {
			return ""
		}
		return fmt.Sprintf("gh:workflow_run:%d", w.WorkflowRun.ID)
	case TypeCheckSuite:
		if w.CheckSuite == nil {
			return ""
		}
		return fmt.Sprintf("gh:check_suite:%d", w.CheckSuite.ID)
	}
	return ""
}

// Failed reports whether the event describes a failed pipeline run. Successful
// and still-running conclusions are not incidents.
func (w *Webhook) Failed() bool {
	switch {
	case w.WorkflowRun != nil:
		return w.WorkflowRun.Conclusion == "failure"
	case w.CheckSuite != nil:
		return w.CheckSuite.Conclusion == "failure"
	}
	return false
}

// OwnerRepo splits the repository full name into owner and repo.
func (w *Webhook) OwnerRepo() (owner, repo string, ok bool) {
	parts := strings.SplitN(w.Repository.FullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Workflow returns a human-readable workflow name for the event.
func (w *Webhook) Workflow() string {
	switch {
	case w.WorkflowRun != nil:
		return w.WorkflowRun.Name
	case w.CheckSuite != nil:
		return "check_suite"
	}
	return ""
}

// RunID returns the upstream run identifier, or 0 for check suites.
func (w *Webhook) RunID() int64 {
	if w.WorkflowRun != nil {
		return w.WorkflowRun.ID
	}
	return 0
}

// LogsURL returns the best available link to the failing run's logs.
func (w *Webhook) LogsURL() string {
	if w.WorkflowRun == nil {
		return ""
	}
	if w.WorkflowRun.HTMLURL != "" {
		return w.WorkflowRun.HTMLURL
	}
	return w.WorkflowRun.LogsURL
}
