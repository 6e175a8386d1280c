package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ericfisherdev/worklog/internal/application"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

// userHeader carries the caller's identity, set by the upstream account layer.
const userHeader = "X-User-ID"

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	vault    *application.Vault
	sessions *application.SessionService
	logger   *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(vault *application.Vault, sessions *application.SessionService, logger *slog.Logger) *Handler {
	return &Handler{
		vault:    vault,
		sessions: sessions,
		logger:   logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/integrations", h.withUser(h.ListIntegrations))
	mux.HandleFunc("GET /api/v1/integrations/{provider}/authorize", h.withUser(h.Authorize))
	mux.HandleFunc("GET /api/v1/integrations/{provider}/callback", h.Callback)
	mux.HandleFunc("DELETE /api/v1/integrations/{provider}", h.withUser(h.Disconnect))

	mux.HandleFunc("POST /api/v1/sessions", h.withUser(h.CreateSession))
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.withUser(h.GetSession))
	mux.HandleFunc("POST /api/v1/sessions/{id}/stages/{stage}", h.withUser(h.RunStage))
	mux.HandleFunc("POST /api/v1/sessions/{id}/finalize", h.withUser(h.Finalize))

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListIntegrations returns the caller's connection state for every provider.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request, userID string) {
	statuses, err := h.vault.Status(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list integrations", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]IntegrationResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, toIntegrationResponse(s, h.vault.Configured(s.Provider)))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Authorize returns the provider URL the caller's browser should visit to
// grant access.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request, userID string) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	authURL, err := h.vault.AuthorizeURL(userID, provider)
	if err != nil {
		h.logger.Error("failed to build authorize url", "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, AuthorizeResponse{AuthorizeURL: authURL})
}

// Callback completes an authorization. The user is identified by the state
// issued from Authorize, not by a header, since the provider redirects the
// browser here directly.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+e)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	userID, status, err := h.vault.CompleteAuthorization(r.Context(), provider, state, code)
	if err != nil {
		h.writeServiceError(w, err, "user_id", userID, "provider", provider)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationResponse(*status, true))
}

// Disconnect removes the caller's stored tokens for a provider.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request, userID string) {
	provider, ok := h.provider(w, r)
	if !ok {
		return
	}
	if err := h.vault.Disconnect(r.Context(), userID, provider); err != nil {
		h.writeServiceError(w, err, "user_id", userID, "provider", provider)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateSession starts a session and fetches the requested providers.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request, userID string) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	window, err := req.timeRange()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	providers := make([]model.ProviderType, 0, len(req.Providers))
	for _, name := range req.Providers {
		p, err := model.ParseProviderType(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		providers = append(providers, p)
	}

	st, err := h.sessions.InitiateFetch(r.Context(), userID, providers, window)
	if err != nil {
		h.writeServiceError(w, err, "user_id", userID)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(st))
}

// GetSession returns a session's status.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	st, err := h.sessions.Status(r.Context(), userID, id)
	if err != nil {
		h.writeServiceError(w, err, "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(st))
}

// RunStage runs one pipeline stage and returns its artifact.
func (h *Handler) RunStage(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	stage, err := model.ParseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req RunStageRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	quality, err := model.ParseQualityLevel(req.Quality)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	artifact, err := h.sessions.RunStage(r.Context(), userID, id, stage, quality)
	if err != nil {
		h.writeServiceError(w, err, "session_id", id, "stage", stage)
		return
	}
	writeJSON(w, http.StatusOK, toStageResponse(id, quality, artifact))
}

// Finalize hands the session's drafts to the journal and returns them.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request, userID string) {
	id := r.PathValue("id")
	res, err := h.sessions.Finalize(r.Context(), userID, id)
	if err != nil && res == nil {
		h.writeServiceError(w, err, "session_id", id)
		return
	}

	resp := toFinalizeResponse(res)
	if err != nil {
		h.logger.Warn("draft handoff incomplete", "session_id", id, "error", err)
		resp.Error = "some drafts could not be delivered; retry finalize"
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// withUser rejects requests without a caller identity.
func (h *Handler) withUser(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
			return
		}
		next(w, r, userID)
	}
}

// provider resolves the {provider} path value and checks OAuth is set up for it.
func (h *Handler) provider(w http.ResponseWriter, r *http.Request) (model.ProviderType, bool) {
	p, err := model.ParseProviderType(r.PathValue("provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	if !h.vault.Configured(p) {
		writeError(w, http.StatusNotFound, "provider "+string(p)+" is not configured")
		return "", false
	}
	return p, true
}

// writeServiceError maps domain errors to HTTP status codes. Unexpected
// errors are logged and reported as 500 without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, attrs ...any) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", append(attrs, "error", err)...)
	}
	writeError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, application.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, model.ErrStageOrder):
		return http.StatusConflict, "predecessor stage has not completed or was re-run"
	case errors.Is(err, model.ErrActivitiesSealed):
		return http.StatusConflict, "session activities are sealed"
	case errors.Is(err, model.ErrUnknownState):
		return http.StatusBadRequest, "unknown or expired authorization state"
	case errors.Is(err, model.ErrInvalidGrant):
		return http.StatusBadRequest, "authorization code was rejected by the provider"
	case errors.Is(err, model.ErrNotConnected), errors.Is(err, model.ErrRefreshFailed):
		return http.StatusPreconditionFailed, "provider not connected"
	case errors.Is(err, model.ErrProviderUnreachable):
		return http.StatusBadGateway, "provider unreachable"
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusBadGateway, "model unavailable"
	case errors.Is(err, model.ErrInvalidArtifact):
		return http.StatusUnprocessableEntity, "model returned an invalid artifact"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
