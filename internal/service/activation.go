package service

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/observability/metrics"
	"github.com/flowstack/flowstack/internal/onboarding"
)

// ActivationSync reconciles three facts that drift apart in practice: the
// organizations a user belongs to, the organization active on their session,
// and whether they still need onboarding. It runs on every session fetch and
// repairs whichever side is stale. All repairs are best-effort: a failed
// correction is logged and the session fetch proceeds with the uncorrected
// view.
type ActivationSync struct {
	memberRepo  domain.MemberRepository
	sessionRepo domain.SessionRepository
	state       onboarding.StateStore
	registry    *onboarding.Registry

	// requireOrganization is the deployment policy: when set, a user with no
	// memberships is routed back into onboarding. When unset, losing the last
	// organization leaves onboarding alone.
	requireOrganization bool

	logger *slog.Logger
}

// NewActivationSync creates an activation synchronizer
func NewActivationSync(
	memberRepo domain.MemberRepository,
	sessionRepo domain.SessionRepository,
	state onboarding.StateStore,
	registry *onboarding.Registry,
	requireOrganization bool,
	logger *slog.Logger,
) *ActivationSync {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivationSync{
		memberRepo:          memberRepo,
		sessionRepo:         sessionRepo,
		state:               state,
		registry:            registry,
		requireOrganization: requireOrganization,
		logger:              logger,
	}
}

// SyncResult reports what the synchronizer observed and corrected.
type SyncResult struct {
	ActiveOrganizationID string
	ShouldOnboard        bool
}

// Sync reconciles the session's active organization and the user's
// onboarding flag against their memberships:
//
//   - exactly one membership and no active organization: activate it
//   - at least one membership but shouldOnboard still set: clear the flag
//   - no memberships but shouldOnboard cleared: set the flag and point the
//     current step at the start of the flow (only when the deployment
//     requires an organization)
//
// Writes only happen when the stored value differs from the target.
func (a *ActivationSync) Sync(ctx context.Context, session *domain.Session) SyncResult {
	result := SyncResult{}
	if session.ActiveOrganizationID.Valid {
		result.ActiveOrganizationID = session.ActiveOrganizationID.String
	}

	shouldOnboard, err := a.state.ShouldOnboard(ctx, session.UserID)
	if err != nil {
		a.logger.Error("activation sync: failed to read onboarding flag",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return result
	}
	result.ShouldOnboard = shouldOnboard

	memberships, err := a.memberRepo.ListByUser(session.UserID)
	if err != nil {
		a.logger.Error("activation sync: failed to list memberships",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return result
	}

	if len(memberships) == 1 && !session.ActiveOrganizationID.Valid {
		orgID := memberships[0].OrganizationID
		if err := a.sessionRepo.SetActiveOrganization(session.ID, orgID); err != nil {
			a.logger.Error("activation sync: failed to auto-activate organization",
				slog.String("session_id", session.ID),
				slog.String("organization_id", orgID),
				slog.String("error", err.Error()),
			)
		} else {
			session.ActiveOrganizationID = sql.NullString{String: orgID, Valid: true}
			result.ActiveOrganizationID = orgID
			metrics.ObserveSyncCorrection("auto_activate_org")
			a.logger.Info("activation sync: auto-activated sole organization",
				slog.String("session_id", session.ID),
				slog.String("organization_id", orgID),
			)
		}
	}

	switch {
	case len(memberships) > 0 && shouldOnboard:
		// The user already belongs somewhere; onboarding no longer applies.
		if err := a.state.UpdateState(ctx, session.UserID, onboarding.StateUpdate{
			ShouldOnboard: onboarding.Bool(false),
			CurrentStep:   onboarding.NullStep(""),
		}); err != nil {
			a.logger.Error("activation sync: failed to clear onboarding flag",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			result.ShouldOnboard = false
			metrics.ObserveSyncCorrection("clear_onboarding")
		}
	case a.requireOrganization && len(memberships) == 0 && !shouldOnboard:
		// No organization to land in: route the user back into onboarding,
		// pointed at the first step so the flow has somewhere to resume.
		if err := a.state.UpdateState(ctx, session.UserID, onboarding.StateUpdate{
			ShouldOnboard: onboarding.Bool(true),
			CurrentStep:   onboarding.NullStep(a.registry.Next("")),
		}); err != nil {
			a.logger.Error("activation sync: failed to re-enable onboarding",
				slog.String("user_id", session.UserID),
				slog.String("error", err.Error()),
			)
		} else {
			result.ShouldOnboard = true
			metrics.ObserveSyncCorrection("enable_onboarding")
		}
	}

	return result
}
