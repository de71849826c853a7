// Package github is a GitHub-App-authenticated VCS client. Every remediation
// call walks the full auth machine (app JWT -> installation id -> installation
// token) rather than caching tokens: a little latency buys freedom from
// stale-token failure modes.
package github

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crypto/rsa"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linnemanlabs/go-core/log"
)

const (
	// DefaultAPIBase is the public GitHub REST API endpoint.
	DefaultAPIBase = "https://api.github.com"

	httpTimeout = 20 * time.Second
	maxAttempts = 3

	acceptHeader = "application/vnd.github+json"
)

// Client talks to the GitHub REST API as an App installation.
type Client struct {
	apiBase       string
	appID         string
	key           *rsa.PrivateKey
	defaultBranch string
	client        *http.Client
	logger        log.Logger
}

// New creates a Client from the App id and its PEM-encoded RSA private key.
// Keys pasted through environment variables often carry literal "\n" pairs;
// those are normalized before parsing.
func New(apiBase, appID, privateKeyPEM, defaultBranch string, logger log.Logger) (*Client, error) {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	if logger == nil {
		logger = log.Nop()
	}

	pem := strings.ReplaceAll(privateKeyPEM, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("github: parse app private key: %w", err)
	}

	return &Client{
		apiBase:       strings.TrimRight(apiBase, "/"),
		appID:         appID,
		key:           key,
		defaultBranch: defaultBranch,
		client:        &http.Client{Timeout: httpTimeout},
		logger:        logger,
	}, nil
}

// appJWT mints a short-lived self-signed App JWT. iat is backdated 60s to
// absorb clock skew; exp is 9 minutes out, under GitHub's 10 minute cap.
func (c *Client) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    c.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(540 * time.Second)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("github: sign app jwt: %w", err)
	}
	return signed, nil
}

// installationToken resolves the installation for owner/repo and exchanges the
// App JWT for a short-lived installation access token.
func (c *Client) installationToken(ctx context.Context, owner, repo string) (string, error) {
	appJWT, err := c.appJWT()
	if err != nil {
		return "", err
	}

	var inst struct {
		ID int64 `json:"id"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/installation", c.apiBase, owner, repo)
	if err := c.do(ctx, http.MethodGet, url, "Bearer "+appJWT, nil, &inst); err != nil {
		return "", fmt.Errorf("github: resolve installation: %w", err)
	}

	var tok struct {
		Token string `json:"token"`
	}
	url = fmt.Sprintf("%s/app/installations/%d/access_tokens", c.apiBase, inst.ID)
	if err := c.do(ctx, http.MethodPost, url, "Bearer "+appJWT, nil, &tok); err != nil {
		return "", fmt.Errorf("github: create installation token: %w", err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("github: empty installation token")
	}
	return tok.Token, nil
}

// do issues one API call with bounded retries: up to maxAttempts on 5xx with
// linear backoff (1s, 2s); 4xx is terminal immediately.
func (c *Client) do(ctx context.Context, method, url, authorization string, payload, out any) error {
	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = raw
	}

	var lastStatus int
	var lastBody string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", authorization)
		req.Header.Set("Accept", acceptHeader)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, url, err)
		}

		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response: %w", readErr)
		}

		lastStatus = resp.StatusCode
		lastBody = string(raw)

		if resp.StatusCode >= 500 {
			c.logger.Warn(ctx, "github: server error, retrying", "status", resp.StatusCode, "url", url, "attempt", attempt+1)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("%s %s returned %d: %s", method, url, resp.StatusCode, truncate(lastBody, 512))
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("%s %s returned %d after %d attempts: %s", method, url, lastStatus, maxAttempts, truncate(lastBody, 512))
}

// Repo fetches repository metadata. Used for the default branch when the
// configured one should not be trusted.
func (c *Client) Repo(ctx context.Context, token, owner, repo string) (defaultBranch string, err error) {
	var out struct {
		DefaultBranch string `json:"default_branch"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s", c.apiBase, owner, repo)
	if err := c.do(ctx, http.MethodGet, url, "token "+token, nil, &out); err != nil {
		return "", err
	}
	if out.DefaultBranch == "" {
		return c.defaultBranch, nil
	}
	return out.DefaultBranch, nil
}

// BranchHead returns the head commit SHA of a branch.
func (c *Client) BranchHead(ctx context.Context, token, owner, repo, branch string) (string, error) {
	var out struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/ref/heads/%s", c.apiBase, owner, repo, branch)
	if err := c.do(ctx, http.MethodGet, url, "token "+token, nil, &out); err != nil {
		return "", err
	}
	if out.Object.SHA == "" {
		return "", fmt.Errorf("github: ref %s has no sha", branch)
	}
	return out.Object.SHA, nil
}

// CreateBranch creates a new branch ref pointing at baseSHA.
func (c *Client) CreateBranch(ctx context.Context, token, owner, repo, branch, baseSHA string) error {
	payload := map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": baseSHA,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/git/refs", c.apiBase, owner, repo)
	return c.do(ctx, http.MethodPost, url, "token "+token, payload, nil)
}

// CreateFile creates a file on a branch via the contents API.
func (c *Client) CreateFile(ctx context.Context, token, owner, repo, branch, path, message, content string) error {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.apiBase, owner, repo, path)
	return c.do(ctx, http.MethodPut, url, "token "+token, payload, nil)
}

// OpenDraftPR opens a draft pull request from branch into base and returns
// its HTML URL.
func (c *Client) OpenDraftPR(ctx context.Context, token, owner, repo, branch, base, title, body string) (string, error) {
	payload := map[string]any{
		"title": title,
		"head":  branch,
		"base":  base,
		"body":  body,
		"draft": true,
	}
	var out struct {
		HTMLURL string `json:"html_url"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.apiBase, owner, repo)
	if err := c.do(ctx, http.MethodPost, url, "token "+token, payload, &out); err != nil {
		return "", err
	}
	return out.HTMLURL, nil
}

// RerunWorkflow requests a re-run of a workflow run.
func (c *Client) RerunWorkflow(ctx context.Context, owner, repo string, runID int64) error {
	token, err := c.installationToken(ctx, owner, repo)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/rerun", c.apiBase, owner, repo, runID)
	return c.do(ctx, http.MethodPost, url, "token "+token, nil, nil)
}

// FailedStep inspects the jobs of a workflow run and returns the name of the
// first failing step plus a short excerpt built from the failing job. Best
// effort: callers should degrade to payload-only data on error.
func (c *Client) FailedStep(ctx context.Context, owner, repo string, runID int64) (step, excerpt string, err error) {
	token, err := c.installationToken(ctx, owner, repo)
	if err != nil {
		return "", "", err
	}

	var out struct {
		Jobs []struct {
			Name       string `json:"name"`
			Conclusion string `json:"conclusion"`
			Steps      []struct {
				Name       string `json:"name"`
				Conclusion string `json:"conclusion"`
			} `json:"steps"`
		} `json:"jobs"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/actions/runs/%d/jobs", c.apiBase, owner, repo, runID)
	if err := c.do(ctx, http.MethodGet, url, "token "+token, nil, &out); err != nil {
		return "", "", err
	}

	for _, job := range out.Jobs {
		if job.Conclusion != "failure" {
			continue
		}
		for _, s := range job.Steps {
			if s.Conclusion == "failure" {
				return s.Name, fmt.Sprintf("job %q failed at step %q", job.Name, s.Name), nil
			}
		}
		return job.Name, fmt.Sprintf("job %q failed", job.Name), nil
	}
	return "", "", nil
}

// RemediationInput describes the draft PR to open for an incident.
type RemediationInput struct {
	Owner    string
	Repo     string
	Branch   string
	Title    string
	Body     string
	NotePath string
	NoteBody string
}

// OpenRemediationPR runs the full remediation sequence: resolve the default
// branch and its head SHA, create the fix branch, add the remediation note,
// and open a draft PR. The first failing step short-circuits the rest; partial
// state (a branch with no PR) is left visible rather than rolled back.
func (c *Client) OpenRemediationPR(ctx context.Context, in RemediationInput) (string, error) {
	token, err := c.installationToken(ctx, in.Owner, in.Repo)
	if err != nil {
		return "", err
	}

	base, err := c.Repo(ctx, token, in.Owner, in.Repo)
	if err != nil {
		return "", fmt.Errorf("github: repo metadata: %w", err)
	}

	sha, err := c.BranchHead(ctx, token, in.Owner, in.Repo, base)
	if err != nil {
		return "", fmt.Errorf("github: head sha: %w", err)
	}

	if err := c.CreateBranch(ctx, token, in.Owner, in.Repo, in.Branch, sha); err != nil {
		return "", fmt.Errorf("github: create branch: %w", err)
	}

	if err := c.CreateFile(ctx, token, in.Owner, in.Repo, in.Branch, in.NotePath, in.Title, in.NoteBody); err != nil {
		return "", fmt.Errorf("github: create note: %w", err)
	}

	url, err := c.OpenDraftPR(ctx, token, in.Owner, in.Repo, in.Branch, base, in.Title, in.Body)
	if err != nil {
		return "", fmt.Errorf("github: open draft pr: %w", err)
	}
	return url, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
