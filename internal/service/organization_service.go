package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/repository"
	"github.com/flowstack/flowstack/internal/security"
)

const invitationTTL = 72 * time.Hour

var (
	ErrNotMember          = errors.New("not a member of this organization")
	ErrPermissionDenied   = errors.New("role does not allow inviting members")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationConsumed = errors.New("invitation is no longer pending")
	ErrInvitationMismatch = errors.New("invitation was issued to a different email")
)

// OrganizationService manages organizations, memberships, and invitations
type OrganizationService struct {
	orgRepo        domain.OrganizationRepository
	memberRepo     domain.MemberRepository
	invitationRepo domain.InvitationRepository
	sessionRepo    domain.SessionRepository
	userRepo       domain.UserRepository
	state          onboarding.StateStore
	authz          *security.AuthorizationService
	logger         *slog.Logger
}

// NewOrganizationService creates a new organization service
func NewOrganizationService(
	orgRepo domain.OrganizationRepository,
	memberRepo domain.MemberRepository,
	invitationRepo domain.InvitationRepository,
	sessionRepo domain.SessionRepository,
	userRepo domain.UserRepository,
	state onboarding.StateStore,
	logger *slog.Logger,
) *OrganizationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrganizationService{
		orgRepo:        orgRepo,
		memberRepo:     memberRepo,
		invitationRepo: invitationRepo,
		sessionRepo:    sessionRepo,
		userRepo:       userRepo,
		state:          state,
		authz:          security.NewAuthorizationService(logger),
		logger:         logger,
	}
}

// CreateOrganization creates an organization, makes the caller its owner, and
// marks it active on the caller's session. The slug is derived from the name
// with a random suffix so repeated names never collide.
func (s *OrganizationService) CreateOrganization(ctx context.Context, userID, sessionID, name, logo string) (*domain.Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("organization name is required")
	}

	org := &domain.Organization{
		ID:   uuid.NewString(),
		Name: name,
		Slug: slugify(name) + "-" + randomSuffix(),
		Logo: logo,
	}

	if err := s.orgRepo.Create(org); err != nil {
		s.logger.Error("failed to create organization",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("failed to create organization")
	}

	member := &domain.Member{
		ID:             uuid.NewString(),
		OrganizationID: org.ID,
		UserID:         userID,
		Role:           "owner",
	}
	if err := s.memberRepo.Create(member); err != nil {
		s.logger.Error("failed to create owner membership",
			slog.String("organization_id", org.ID),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("failed to create organization")
	}

	if sessionID != "" {
		if err := s.sessionRepo.SetActiveOrganization(sessionID, org.ID); err != nil {
			// Activation sync repairs this on the next session fetch.
			s.logger.Error("failed to set active organization on session",
				slog.String("session_id", sessionID),
				slog.String("organization_id", org.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("organization created",
		slog.String("organization_id", org.ID),
		slog.String("slug", org.Slug),
		slog.String("owner_id", userID),
	)
	return org, nil
}

// ListForUser returns the organizations the user is a member of.
func (s *OrganizationService) ListForUser(ctx context.Context, userID string) ([]*domain.Organization, error) {
	memberships, err := s.memberRepo.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	orgs := make([]*domain.Organization, 0, len(memberships))
	for _, m := range memberships {
		org, err := s.orgRepo.GetByID(m.OrganizationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, nil
}

// InviteMembers creates pending invitations to the caller's organization.
// The caller must be a member of the organization. Duplicate or malformed
// addresses are skipped, not fatal.
func (s *OrganizationService) InviteMembers(ctx context.Context, userID, organizationID string, emails []string, role string) ([]*domain.Invitation, error) {
	if role == "" {
		role = "member"
	}

	callerRole, err := s.membershipRole(userID, organizationID)
	if err != nil {
		return nil, err
	}
	if !s.authz.HasPermission(callerRole, security.PermInviteMembers) {
		return nil, ErrPermissionDenied
	}

	invitations := make([]*domain.Invitation, 0, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(strings.ToLower(email))
		if email == "" || !strings.Contains(email, "@") {
			continue
		}

		inv := &domain.Invitation{
			ID:             uuid.NewString(),
			OrganizationID: organizationID,
			Email:          email,
			Role:           role,
			InviterID:      userID,
			Status:         "pending",
			ExpiresAt:      time.Now().Add(invitationTTL),
		}
		if err := s.invitationRepo.Create(inv); err != nil {
			s.logger.Error("failed to create invitation",
				slog.String("organization_id", organizationID),
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
			continue
		}
		invitations = append(invitations, inv)
	}

	s.logger.Info("invitations created",
		slog.String("organization_id", organizationID),
		slog.Int("count", len(invitations)),
	)
	return invitations, nil
}

// AcceptInvitation joins the user to the inviting organization, marks the
// invitation accepted, activates the organization on the session, and turns
// onboarding off: a user who just joined a team has nothing left to set up.
func (s *OrganizationService) AcceptInvitation(ctx context.Context, userID, sessionID, invitationID string) (*domain.Member, error) {
	inv, err := s.invitationRepo.GetByID(invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	if inv.Status != "pending" {
		return nil, ErrInvitationConsumed
	}
	if time.Now().After(inv.ExpiresAt) {
		return nil, ErrInvitationExpired
	}

	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(user.Email, inv.Email) {
		return nil, ErrInvitationMismatch
	}

	member := &domain.Member{
		ID:             uuid.NewString(),
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		Role:           inv.Role,
	}
	if err := s.memberRepo.Create(member); err != nil {
		s.logger.Error("failed to create membership from invitation",
			slog.String("invitation_id", invitationID),
			slog.String("error", err.Error()),
		)
		return nil, errors.New("failed to accept invitation")
	}

	if err := s.invitationRepo.UpdateStatus(invitationID, "accepted"); err != nil {
		s.logger.Error("failed to mark invitation accepted",
			slog.String("invitation_id", invitationID),
			slog.String("error", err.Error()),
		)
	}

	if sessionID != "" {
		if err := s.sessionRepo.SetActiveOrganization(sessionID, inv.OrganizationID); err != nil {
			s.logger.Error("failed to activate organization after invitation",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.state.UpdateState(ctx, userID, onboarding.StateUpdate{
		ShouldOnboard: onboarding.Bool(false),
		CurrentStep:   onboarding.NullStep(""),
	}); err != nil {
		s.logger.Error("failed to clear onboarding after invitation",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("invitation accepted",
		slog.String("invitation_id", invitationID),
		slog.String("organization_id", inv.OrganizationID),
		slog.String("user_id", userID),
	)
	return member, nil
}

func (s *OrganizationService) membershipRole(userID, organizationID string) (security.Role, error) {
	memberships, err := s.memberRepo.ListByUser(userID)
	if err != nil {
		return "", err
	}
	for _, m := range memberships {
		if m.OrganizationID == organizationID {
			return security.Role(m.Role), nil
		}
	}
	return "", ErrNotMember
}

// slugify lowercases the name and replaces runs of non-alphanumerics with
// single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func randomSuffix() string {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "0000"
	}
	return hex.EncodeToString(buf[:])
}
