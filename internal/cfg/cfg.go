// Package cfg holds mend's application configuration, registered as flags and
// fillable from MEND_-prefixed environment variables.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	WebhookSecret string
	APIToken      string

	DecisionGateURL    string
	DecisionGateToken  string
	DecisionGateOrgID  string
	DecisionGateRegion string

	SlackWebhookURL string

	GitHubAppID         string
	GitHubAppPrivateKey string
	GitHubAPIBase       string
	GitHubDefaultBranch string

	DatabaseURL string
	StatePath   string
	AuditPath   string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.WebhookSecret, "webhook-secret", "", "shared secret for VCS webhook HMAC verification (empty = insecure dev mode)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token guarding the approval and incident endpoints (empty = unauthenticated)")
	fs.StringVar(&c.DecisionGateURL, "decision-gate-url", "", "base URL of the external decision/governance service")
	fs.StringVar(&c.DecisionGateToken, "decision-gate-token", "", "API token for the decision service")
	fs.StringVar(&c.DecisionGateOrgID, "decision-gate-org-id", "default-org", "org ID header for the decision service")
	fs.StringVar(&c.DecisionGateRegion, "decision-gate-region", "global", "region header for the decision service")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for approval notifications")
	fs.StringVar(&c.GitHubAppID, "github-app-id", "", "GitHub App ID for installation auth")
	fs.StringVar(&c.GitHubAppPrivateKey, "github-app-private-key", "", "PEM-encoded RSA private key of the GitHub App")
	fs.StringVar(&c.GitHubAPIBase, "github-api-base", "https://api.github.com", "GitHub REST API base URL")
	fs.StringVar(&c.GitHubDefaultBranch, "github-default-branch", "main", "fallback default branch for remediation PR targets")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for idempotency state (empty = file or in-memory store)")
	fs.StringVar(&c.StatePath, "state-path", "", "path to the JSON idempotency state file (used when no database-url; empty = in-memory)")
	fs.StringVar(&c.AuditPath, "audit-path", "run/mend_audit.jsonl", "path to the JSON Lines audit journal")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// The decision gate is the one collaborator mend cannot run without
	if c.DecisionGateURL == "" {
		errs = append(errs, errors.New("DECISION_GATE_URL is required"))
	} else if !strings.HasPrefix(c.DecisionGateURL, "http://") && !strings.HasPrefix(c.DecisionGateURL, "https://") {
		errs = append(errs, fmt.Errorf("invalid DECISION_GATE_URL %q (must be an http(s) URL)", c.DecisionGateURL))
	}

	// GitHub App credentials come as a pair
	if (c.GitHubAppID == "") != (c.GitHubAppPrivateKey == "") {
		errs = append(errs, errors.New("GITHUB_APP_ID and GITHUB_APP_PRIVATE_KEY must be set together"))
	}

	if c.GitHubAPIBase == "" {
		errs = append(errs, errors.New("GITHUB_API_BASE must not be empty"))
	}

	if c.AuditPath == "" {
		errs = append(errs, errors.New("AUDIT_PATH is required"))
	}

	// Postgres and file state are mutually exclusive backends
	if c.DatabaseURL != "" && c.StatePath != "" {
		errs = append(errs, errors.New("DATABASE_URL and STATE_PATH are mutually exclusive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
