// Package api exposes mend's HTTP surface: the VCS webhook receiver, the
// approval callback, and incident read-back.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/mend/internal/authmw"
	"github.com/linnemanlabs/mend/internal/incident"
)

// signatureHeader and eventTypeHeader are the GitHub webhook delivery headers.
const (
	signatureHeader = "X-Hub-Signature-256"
	eventTypeHeader = "X-GitHub-Event"
)

// OrchestratorService defines the business operations api needs.
type OrchestratorService interface {
	HandleWebhook(ctx context.Context, eventType string, body []byte, sigHeader string) (*incident.WebhookResult, error)
	HandleApproval(ctx context.Context, req incident.ApprovalRequest) (*incident.ApprovalResult, error)
	Get(ctx context.Context, incidentID string) (*incident.State, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      OrchestratorService
	apiToken string
}

// New creates a new API handler. apiToken, when non-empty, guards the
// approval and read endpoints with bearer auth.
func New(logger log.Logger, svc OrchestratorService, apiToken string) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("orchestrator service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		apiToken: apiToken,
	}
}

// RegisterRoutes attaches API endpoints to the router. The webhook route is
// authenticated by its HMAC signature, not the bearer token.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/vcs", a.handleWebhook)

	r.Group(func(r chi.Router) {
		if a.apiToken != "" {
			r.Use(authmw.BearerToken(a.apiToken))
		}
		r.Post("/api/approvals", a.handleApproval)
		r.Get("/api/v1/incidents/{id}", a.handleGetIncident)
	})
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	eventType := r.Header.Get(eventTypeHeader)
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("mend.webhook.event_type", eventType))

	res, err := a.svc.HandleWebhook(r.Context(), eventType, body, r.Header.Get(signatureHeader))
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("mend.webhook.result", res.Status))
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req incident.ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.IncidentID == "" {
		http.Error(w, `{"error":"incident_id is required"}`, http.StatusBadRequest)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("mend.incident.id", req.IncidentID))

	res, err := a.svc.HandleApproval(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("mend.incident.id", id))

	st, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// writeError maps tagged pipeline error kinds onto HTTP statuses. Anything
// uncategorized is a 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *incident.Error
	if !errors.As(err, &e) {
		a.logger.Error(r.Context(), err, "request failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case incident.KindAuth:
		status = http.StatusUnauthorized
	case incident.KindPolicyBlocked:
		status = http.StatusForbidden
	case incident.KindStateMissing:
		status = http.StatusNotFound
	case incident.KindUpstream:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		a.logger.Error(r.Context(), err, "request failed", "kind", string(e.Kind))
	} else {
		a.logger.Warn(r.Context(), "request rejected", "kind", string(e.Kind), "error", e.Msg)
	}

	writeJSON(w, status, map[string]any{
		"error":   e.Msg,
		"kind":    string(e.Kind),
		"details": e.Details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
