package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/platecheck/internal/analysis"
	"github.com/lehigh-university-libraries/platecheck/internal/config"
	"github.com/lehigh-university-libraries/platecheck/internal/models"
	"github.com/lehigh-university-libraries/platecheck/internal/observability"
	"github.com/lehigh-university-libraries/platecheck/internal/session"
	"github.com/lehigh-university-libraries/platecheck/internal/storage"
	"golang.org/x/text/language"
)

// Boundary codes that extend the ErrorKind values in the error envelope.
const (
	codeInvalidRequest    = "INVALID_REQUEST"
	codePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	codeSessionNotFound   = "SESSION_NOT_FOUND"
	codeSessionBusy       = "SESSION_BUSY"
	codeSessionReset      = "SESSION_RESET"
	codeInvalidTransition = "INVALID_TRANSITION"
	codeTooManyRequests   = "TOO_MANY_REQUESTS"
)

type Handler struct {
	analyzer     session.Analyzer
	sessionStore *storage.SessionStore
	limits       config.Limits
	defaultLang  language.Tag
}

func New(analyzer session.Analyzer, store *storage.SessionStore, limits config.Limits, defaultLang language.Tag) *Handler {
	return &Handler{
		analyzer:     analyzer,
		sessionStore: store,
		limits:       limits,
		defaultLang:  defaultLang,
	}
}

// Routes returns the full API wrapped in request id, logging and rate limiting.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/analyze/image", h.HandleAnalyzeImage)
	mux.HandleFunc("POST /api/analyze/text", h.HandleAnalyzeText)
	mux.HandleFunc("POST /api/recalculate", h.HandleRecalculate)
	mux.HandleFunc("POST /api/transcribe", h.HandleTranscribe)

	mux.HandleFunc("GET /api/sessions", h.HandleListSessions)
	mux.HandleFunc("POST /api/sessions", h.HandleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", h.HandleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.HandleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/{intent}", h.HandleSessionIntent)

	mux.HandleFunc("GET /healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			observability.LoggerFromContext(r.Context()).Error("Unable to write healthcheck", "err", err)
		}
	})

	limiter := newRateLimiter(h.limits.RequestsPerMinute, h.limits.Burst, h.limits.TrustProxy)
	return chainMiddlewares(mux, withRequestID, withLogging, limiter.middleware)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// Response helpers
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		observability.LoggerFromContext(r.Context()).Error("Unable to encode JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message, details string) {
	observability.LoggerFromContext(r.Context()).Warn("Request failed", "code", code, "status", status, "details", details)
	writeJSON(w, r, status, errorEnvelope{Error: errorBody{Code: code, Message: message, Details: details}})
}

func (h *Handler) language(r *http.Request) language.Tag {
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		return analysis.MatchLanguage(accept)
	}
	return h.defaultLang
}

// writeFailure renders an orchestrator error as the uniform envelope.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, analysis.ErrEmptyInput) {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "The request is missing the data to analyze.", err.Error())
		return
	}
	desc := analysis.Describe(err, h.language(r))
	writeError(w, r, statusForKind(desc.Kind), string(desc.Kind), desc.UserMessage, desc.TechnicalDetail)
}

func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindOverloaded:
		return http.StatusServiceUnavailable
	case models.KindAccessDenied, models.KindNotFound, models.KindMalformedOutput:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Session helpers
func (h *Handler) getSessionOrError(w http.ResponseWriter, r *http.Request) (*storage.Entry, bool) {
	entry, exists := h.sessionStore.Get(r.PathValue("id"))
	if !exists {
		writeError(w, r, http.StatusNotFound, codeSessionNotFound, "Session not found", r.PathValue("id"))
		return nil, false
	}
	entry.Touch()
	return entry, true
}

type sessionResponse struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"createdAt"`
	State     session.State `json:"state"`
}

func newSessionResponse(entry *storage.Entry, state session.State) sessionResponse {
	return sessionResponse{ID: entry.ID, CreatedAt: entry.CreatedAt, State: state}
}
