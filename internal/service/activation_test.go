package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/onboarding"
)

func newSyncFixture(requireOrganization bool) (*memMemberRepo, *memSessionRepo, *memStateStore, *ActivationSync) {
	members := newMemMemberRepo()
	sessions := newMemSessionRepo()
	state := newMemStateStore()
	noop := func(_ context.Context, _ onboarding.HandlerRequest) (any, error) { return nil, nil }
	registry, err := onboarding.NewRegistry("inviteMembers",
		onboarding.Step{ID: "createOrganization", Order: 1, Required: true, Handler: noop},
		onboarding.Step{ID: "inviteMembers", Order: 2, Handler: noop},
	)
	if err != nil {
		panic(err)
	}
	return members, sessions, state, NewActivationSync(members, sessions, state, registry, requireOrganization, nil)
}

func seedSession(sessions *memSessionRepo, userID string, activeOrg string) *domain.Session {
	s := &domain.Session{
		ID:        "sess-" + userID,
		UserID:    userID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if activeOrg != "" {
		s.ActiveOrganizationID = sql.NullString{String: activeOrg, Valid: true}
	}
	sessions.Create(s)
	return s
}

func TestSyncAutoActivatesSoleOrganization(t *testing.T) {
	members, sessions, _, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})

	result := sync.Sync(context.Background(), session)

	if result.ActiveOrganizationID != "org-1" {
		t.Fatalf("expected org-1 active, got %q", result.ActiveOrganizationID)
	}
	if !session.ActiveOrganizationID.Valid || session.ActiveOrganizationID.String != "org-1" {
		t.Fatalf("expected session updated in place")
	}
	stored, _ := sessions.GetByID(session.ID)
	if stored.ActiveOrganizationID.String != "org-1" {
		t.Fatalf("expected persisted active organization")
	}
}

func TestSyncLeavesExistingActiveOrganization(t *testing.T) {
	members, sessions, _, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "org-2")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})

	result := sync.Sync(context.Background(), session)

	if result.ActiveOrganizationID != "org-2" {
		t.Fatalf("expected org-2 to stay active, got %q", result.ActiveOrganizationID)
	}
	if sessions.setActiveCalls != 0 {
		t.Fatalf("expected no activation write, got %d", sessions.setActiveCalls)
	}
}

func TestSyncNoAutoActivationWithMultipleOrganizations(t *testing.T) {
	members, sessions, _, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})
	members.Create(&domain.Member{ID: "m2", OrganizationID: "org-2", UserID: "u1", Role: "member"})

	result := sync.Sync(context.Background(), session)

	if result.ActiveOrganizationID != "" {
		t.Fatalf("ambiguous membership must not auto-activate, got %q", result.ActiveOrganizationID)
	}
	if sessions.setActiveCalls != 0 {
		t.Fatalf("expected no activation write")
	}
}

func TestSyncClearsStaleOnboardingFlag(t *testing.T) {
	members, sessions, state, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "org-1")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})
	state.states["u1"] = &memState{shouldOnboard: true, currentStep: sql.NullString{String: "createOrganization", Valid: true}}

	result := sync.Sync(context.Background(), session)

	if result.ShouldOnboard {
		t.Fatalf("expected shouldOnboard cleared")
	}
	if state.states["u1"].shouldOnboard {
		t.Fatalf("expected stored flag cleared")
	}
	if state.states["u1"].currentStep.Valid {
		t.Fatalf("expected current step cleared alongside the flag")
	}
}

func TestSyncReenablesOnboardingWithoutMembership(t *testing.T) {
	_, sessions, state, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "")
	state.states["u1"] = &memState{shouldOnboard: false, completed: []string{"createOrganization", "inviteMembers"}}

	result := sync.Sync(context.Background(), session)

	if !result.ShouldOnboard {
		t.Fatalf("expected onboarding re-enabled for org-less user")
	}
	if !state.states["u1"].shouldOnboard {
		t.Fatalf("expected stored flag set")
	}
	got := state.states["u1"].currentStep
	if !got.Valid || got.String != "createOrganization" {
		t.Fatalf("expected current step reset to createOrganization, got valid=%v value=%q", got.Valid, got.String)
	}
}

func TestSyncLeavesOnboardingAloneWhenOrganizationOptional(t *testing.T) {
	_, sessions, state, sync := newSyncFixture(false)
	session := seedSession(sessions, "u1", "")
	state.states["u1"] = &memState{shouldOnboard: false}

	result := sync.Sync(context.Background(), session)

	if result.ShouldOnboard {
		t.Fatalf("expected onboarding to stay off without the organization policy")
	}
	if state.writes != 0 {
		t.Fatalf("expected no state writes, got %d", state.writes)
	}
}

func TestSyncWritesNothingWhenConverged(t *testing.T) {
	members, sessions, state, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "org-1")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})
	state.states["u1"] = &memState{shouldOnboard: false}

	sync.Sync(context.Background(), session)

	if sessions.setActiveCalls != 0 {
		t.Fatalf("expected no session writes")
	}
	if state.writes != 0 {
		t.Fatalf("expected no state writes, got %d", state.writes)
	}
}

func TestSyncSurvivesStoreFailures(t *testing.T) {
	members, sessions, state, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "org-1")
	members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})
	state.states["u1"] = &memState{shouldOnboard: true}
	state.writeErr = errors.New("store down")

	result := sync.Sync(context.Background(), session)

	// The correction failed but Sync still reports a usable view.
	if result.ActiveOrganizationID != "org-1" {
		t.Fatalf("expected active organization in result")
	}
	if !result.ShouldOnboard {
		t.Fatalf("expected uncorrected flag reported unchanged")
	}
}

func TestSyncSurvivesMembershipFailures(t *testing.T) {
	members, sessions, _, sync := newSyncFixture(true)
	session := seedSession(sessions, "u1", "org-1")
	members.listErr = errors.New("query failed")

	result := sync.Sync(context.Background(), session)

	if result.ActiveOrganizationID != "org-1" {
		t.Fatalf("expected session view passed through on lookup failure")
	}
}
