package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/repository"
	"github.com/flowstack/flowstack/internal/security/middleware"
	"github.com/flowstack/flowstack/internal/service"
)

// OrganizationHandler handles organization and invitation endpoints
type OrganizationHandler struct {
	orgService  *service.OrganizationService
	sessionRepo domain.SessionRepository
	orgRepo     domain.OrganizationRepository
	logger      *slog.Logger
}

// NewOrganizationHandler creates a new organization handler
func NewOrganizationHandler(
	orgService *service.OrganizationService,
	sessionRepo domain.SessionRepository,
	orgRepo domain.OrganizationRepository,
	logger *slog.Logger,
) *OrganizationHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OrganizationHandler{
		orgService:  orgService,
		sessionRepo: sessionRepo,
		orgRepo:     orgRepo,
		logger:      logger,
	}
}

// CreateOrganizationRequest represents a direct organization create
type CreateOrganizationRequest struct {
	Name string `json:"name"`
	Logo string `json:"logo"`
}

// InviteRequest represents an invitation request
type InviteRequest struct {
	OrganizationID string   `json:"organizationId"`
	Emails         []string `json:"emails"`
	Role           string   `json:"role"`
}

// Create handles POST /api/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	var req CreateOrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
		return
	}

	org, err := h.orgService.CreateOrganization(r.Context(), claims.UserID, claims.SessionID, req.Name, req.Logo)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

// List handles GET /api/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	orgs, err := h.orgService.ListForUser(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list organizations",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to list organizations"})
		return
	}

	writeJSON(w, http.StatusOK, orgs)
}

// Active handles GET /api/organizations/active
func (h *OrganizationHandler) Active(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	session, err := h.sessionRepo.GetByID(claims.SessionID)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	if !session.ActiveOrganizationID.Valid {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	org, err := h.orgRepo.GetByID(session.ActiveOrganizationID.String)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to load organization"})
		return
	}

	writeJSON(w, http.StatusOK, org)
}

// Invite handles POST /api/organizations/invitations
func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	var req InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request"})
		return
	}
	if req.OrganizationID == "" || len(req.Emails) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "organizationId and emails are required"})
		return
	}

	invitations, err := h.orgService.InviteMembers(r.Context(), claims.UserID, req.OrganizationID, req.Emails, req.Role)
	if err != nil {
		if errors.Is(err, service.ErrNotMember) || errors.Is(err, service.ErrPermissionDenied) {
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to create invitations"})
		return
	}

	writeJSON(w, http.StatusCreated, invitations)
}

// AcceptInvitation handles POST /api/invitations/{id}/accept
func (h *OrganizationHandler) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "UNAUTHORIZED"})
		return
	}

	invitationID := r.PathValue("id")
	if invitationID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invitation id is required"})
		return
	}

	member, err := h.orgService.AcceptInvitation(r.Context(), claims.UserID, claims.SessionID, invitationID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "invitation not found"})
		case errors.Is(err, service.ErrInvitationExpired),
			errors.Is(err, service.ErrInvitationConsumed),
			errors.Is(err, service.ErrInvitationMismatch):
			writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to accept invitation"})
		}
		return
	}

	writeJSON(w, http.StatusOK, member)
}
