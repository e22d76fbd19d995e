package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowstack/flowstack/internal/observability/metrics"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/security/audit"
	"github.com/flowstack/flowstack/internal/security/middleware"
)

// OnboardingHandler exposes the onboarding state machine over HTTP
type OnboardingHandler struct {
	engine *onboarding.Engine
	audit  *audit.Logger
	logger *slog.Logger
}

// NewOnboardingHandler creates a new onboarding handler
func NewOnboardingHandler(engine *onboarding.Engine, auditLog *audit.Logger, logger *slog.Logger) *OnboardingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.NewLogger(logger)
	}

	return &OnboardingHandler{
		engine: engine,
		audit:  auditLog,
		logger: logger,
	}
}

// Mount registers one fixed route per registered step, plus the status
// routes. The table is built once at startup from the registry; an unknown
// step segment is a plain 404 from the mux, never a dispatch decision made
// per request.
func (h *OnboardingHandler) Mount(mux *http.ServeMux) {
	for _, step := range h.engine.Registry().Ordered() {
		segment := onboarding.PathSegment(step.ID)
		stepID := step.ID

		mux.HandleFunc("POST /onboarding/step/"+segment, h.completeStep(stepID))
		mux.HandleFunc("POST /onboarding/skip-step/"+segment, h.skipStep(stepID))
		mux.HandleFunc("GET /onboarding/can-access-step/"+segment, h.canAccessStep(stepID))
	}

	mux.HandleFunc("GET /onboarding/status", h.Status)
	mux.HandleFunc("GET /onboarding/should-onboard", h.ShouldOnboard)
}

func (h *OnboardingHandler) completeStep(stepID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := h.caller(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: onboarding.ErrUnauthorized.Error()})
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}

		result, err := h.engine.CompleteStep(r.Context(), caller, stepID, json.RawMessage(payload))
		if err != nil {
			metrics.ObserveStepCompletion(stepID, "error")
			h.audit.LogStepCompletion(r.Context(), caller.UserID, stepID, "denied", err.Error())
			h.writeEngineError(w, r, stepID, err)
			return
		}

		metrics.ObserveStepCompletion(stepID, "ok")
		if result.CurrentStep == nil {
			metrics.ObserveOnboardingFinished()
		}
		h.audit.LogStepCompletion(r.Context(), caller.UserID, stepID, "ok", "")
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *OnboardingHandler) skipStep(stepID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := h.caller(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: onboarding.ErrUnauthorized.Error()})
			return
		}

		result, err := h.engine.SkipStep(r.Context(), caller, stepID)
		if err != nil {
			h.audit.LogStepSkip(r.Context(), caller.UserID, stepID, "denied", err.Error())
			h.writeEngineError(w, r, stepID, err)
			return
		}

		if result.CurrentStep == nil {
			metrics.ObserveOnboardingFinished()
		}
		h.audit.LogStepSkip(r.Context(), caller.UserID, stepID, "ok", "")
		writeJSON(w, http.StatusOK, result)
	}
}

func (h *OnboardingHandler) canAccessStep(stepID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := h.caller(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: onboarding.ErrUnauthorized.Error()})
			return
		}

		if err := h.engine.CanAccessStep(r.Context(), caller, stepID); err != nil {
			h.writeEngineError(w, r, stepID, err)
			return
		}

		writeJSON(w, http.StatusOK, true)
	}
}

// Status handles GET /onboarding/status
func (h *OnboardingHandler) Status(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: onboarding.ErrUnauthorized.Error()})
		return
	}

	status, err := h.engine.Status(r.Context(), caller.UserID)
	if err != nil {
		h.logger.Error("failed to load onboarding status",
			slog.String("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load onboarding status"})
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// ShouldOnboard handles GET /onboarding/should-onboard. Anonymous callers get
// false rather than a 401 so the frontend can query it unconditionally.
func (h *OnboardingHandler) ShouldOnboard(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(r)
	if !ok {
		writeJSON(w, http.StatusOK, false)
		return
	}

	should, err := h.engine.ShouldOnboard(r.Context(), caller.UserID)
	if err != nil {
		h.logger.Error("failed to read onboarding flag",
			slog.String("user_id", caller.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to read onboarding flag"})
		return
	}

	writeJSON(w, http.StatusOK, should)
}

func (h *OnboardingHandler) caller(r *http.Request) (onboarding.Caller, bool) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		return onboarding.Caller{}, false
	}
	return onboarding.Caller{UserID: claims.UserID, SessionID: claims.SessionID}, true
}

func (h *OnboardingHandler) writeEngineError(w http.ResponseWriter, r *http.Request, stepID string, err error) {
	var validationErr *onboarding.ValidationError

	switch {
	case errors.Is(err, onboarding.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: err.Error()})
	case errors.Is(err, onboarding.ErrStepAlreadyCompleted),
		errors.Is(err, onboarding.ErrRequiredStepsIncomplete):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, onboarding.ErrStepNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: validationErr.Message})
	default:
		h.logger.Error("onboarding step failed",
			slog.String("step", stepID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
