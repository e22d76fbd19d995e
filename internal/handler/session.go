package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/repository"
	"github.com/flowstack/flowstack/internal/security/middleware"
	"github.com/flowstack/flowstack/internal/service"
)

// SessionHandler serves the current session view. Every fetch runs the
// activation synchronizer first, so the response reflects reconciled state.
type SessionHandler struct {
	sessionRepo domain.SessionRepository
	userRepo    domain.UserRepository
	sync        *service.ActivationSync
	logger      *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	sessionRepo domain.SessionRepository,
	userRepo domain.UserRepository,
	sync *service.ActivationSync,
	logger *slog.Logger,
) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionHandler{
		sessionRepo: sessionRepo,
		userRepo:    userRepo,
		sync:        sync,
		logger:      logger,
	}
}

// SessionResponse represents the current session and user
type SessionResponse struct {
	SessionID            string    `json:"session_id"`
	UserID               string    `json:"user_id"`
	Email                string    `json:"email"`
	Username             string    `json:"username"`
	ActiveOrganizationID *string   `json:"activeOrganizationId"`
	ShouldOnboard        bool      `json:"shouldOnboard"`
	ExpiresAt            time.Time `json:"expires_at"`
}

// Get handles GET /api/auth/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	session, err := h.sessionRepo.GetByID(claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
			return
		}
		h.logger.Error("failed to load session",
			slog.String("session_id", claims.SessionID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load session"})
		return
	}

	if time.Now().After(session.ExpiresAt) {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	user, err := h.userRepo.GetByID(session.UserID)
	if err != nil {
		h.logger.Error("failed to load user for session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load session"})
		return
	}

	state := h.sync.Sync(r.Context(), session)

	resp := SessionResponse{
		SessionID:     session.ID,
		UserID:        user.ID,
		Email:         user.Email,
		Username:      user.Username,
		ShouldOnboard: state.ShouldOnboard,
		ExpiresAt:     session.ExpiresAt,
	}
	if state.ActiveOrganizationID != "" {
		resp.ActiveOrganizationID = &state.ActiveOrganizationID
	}

	writeJSON(w, http.StatusOK, resp)
}
