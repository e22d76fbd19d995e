package service

import (
	"context"
	"errors"
	"testing"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/security/auth"
	"github.com/flowstack/flowstack/pkg/cache"
)

type authFixture struct {
	users    *memUserRepo
	sessions *memSessionRepo
	members  *memMemberRepo
	orgs     *memOrgRepo
	state    *memStateStore
	svc      *AuthService
}

func newAuthFixture(t *testing.T, enabled bool) *authFixture {
	t.Helper()

	users := newMemUserRepo()
	sessions := newMemSessionRepo()
	members := newMemMemberRepo()
	orgs := newMemOrgRepo()
	invitations := newMemInvitationRepo()
	state := newMemStateStore()

	orgService := NewOrganizationService(orgs, members, invitations, sessions, users, state, nil)
	completion, steps := DefaultSteps(orgService)
	registry, err := onboarding.NewRegistry(completion, steps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := onboarding.NewEngine(registry, state, nil)

	svc := NewAuthService(
		users,
		sessions,
		members,
		auth.NewTokenManager("test-secret", "flowstack"),
		engine,
		NewSignupMetadata(cache.New()),
		DefaultOnboardingPredicate(enabled),
		"/onboarding",
		nil,
	)

	return &authFixture{users: users, sessions: sessions, members: members, orgs: orgs, state: state, svc: svc}
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAuthFixture(t, true)
	ctx := context.Background()

	r, err := f.svc.Register(ctx, "alice@example.com", "alice", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.UserID == "" || r.Token == "" {
		t.Fatalf("expected user id and token")
	}

	// Duplicate email
	if _, err := f.svc.Register(ctx, "alice@example.com", "alice2", "Password123", ""); err == nil {
		t.Fatalf("expected duplicate email error")
	}

	// Login ok
	lr, err := f.svc.Login(ctx, "alice@example.com", "Password123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if lr.Token == "" {
		t.Fatalf("expected token on login")
	}

	// Login wrong password
	if _, err := f.svc.Login(ctx, "alice@example.com", "Wrong"); err == nil {
		t.Fatalf("expected invalid credentials error")
	}
}

func TestRegisterStartsOnboarding(t *testing.T) {
	f := newAuthFixture(t, true)

	r, err := f.svc.Register(context.Background(), "alice@example.com", "alice", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if !r.OnboardingRedirect {
		t.Fatalf("expected onboarding redirect")
	}
	if r.CurrentStep == nil || *r.CurrentStep != "createOrganization" {
		t.Fatalf("expected first step createOrganization, got %v", r.CurrentStep)
	}
	if r.OnboardingPath != "/onboarding" {
		t.Fatalf("expected onboarding path, got %q", r.OnboardingPath)
	}

	should, err := f.state.ShouldOnboard(context.Background(), r.UserID)
	if err != nil || !should {
		t.Fatalf("expected shouldOnboard=true in store, got %v err=%v", should, err)
	}
	current, _ := f.state.CurrentStep(context.Background(), r.UserID)
	if current != "createOrganization" {
		t.Fatalf("expected stored current step createOrganization, got %q", current)
	}
}

func TestRegisterSkipsOnboardingWhenDisabled(t *testing.T) {
	f := newAuthFixture(t, false)

	r, err := f.svc.Register(context.Background(), "bob@example.com", "bob", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.OnboardingRedirect {
		t.Fatalf("expected no onboarding redirect when disabled")
	}

	should, _ := f.state.ShouldOnboard(context.Background(), r.UserID)
	if should {
		t.Fatalf("expected shouldOnboard to stay false")
	}
}

func TestRegisterSkipsOnboardingForInvitationSignup(t *testing.T) {
	f := newAuthFixture(t, true)

	r, err := f.svc.Register(context.Background(), "carol@example.com", "carol", "Password123",
		"https://app.example.com/accept-invitation/inv-1")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.OnboardingRedirect {
		t.Fatalf("expected no onboarding redirect for invitation signup")
	}
}

func TestRegisterReadsSignupMetadata(t *testing.T) {
	f := newAuthFixture(t, true)

	f.svc.signupMeta.Record("dave@example.com", "https://app.example.com/accept-invitation/inv-2")

	r, err := f.svc.Register(context.Background(), "dave@example.com", "dave", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if r.OnboardingRedirect {
		t.Fatalf("expected recorded redirect target to suppress onboarding")
	}
}

func TestRegisterSucceedsWhenOnboardingInitFails(t *testing.T) {
	f := newAuthFixture(t, true)
	f.state.writeErr = errors.New("store down")

	r, err := f.svc.Register(context.Background(), "erin@example.com", "erin", "Password123", "")
	if err != nil {
		t.Fatalf("register must not fail when onboarding init fails: %v", err)
	}
	if r.Token == "" {
		t.Fatalf("expected a usable session token")
	}
	if r.OnboardingRedirect {
		t.Fatalf("expected no redirect when onboarding state could not be written")
	}
}

func TestSessionPreseedsActiveOrganization(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	r, err := f.svc.Register(ctx, "frank@example.com", "frank", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	f.members.Create(&domain.Member{ID: "m-1", OrganizationID: "org-1", UserID: r.UserID, Role: "owner"})

	if _, err := f.svc.Login(ctx, "frank@example.com", "Password123"); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	var found bool
	for _, s := range f.sessions.byID {
		if s.UserID == r.UserID && s.ActiveOrganizationID.Valid && s.ActiveOrganizationID.String == "org-1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a session with active organization org-1")
	}
}

func TestSessionCreatedDespiteMembershipLookupFailure(t *testing.T) {
	f := newAuthFixture(t, false)
	f.members.listErr = errors.New("query failed")

	if _, err := f.svc.Register(context.Background(), "gail@example.com", "gail", "Password123", ""); err != nil {
		t.Fatalf("register must tolerate membership lookup failure: %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t, false)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "bob@example.com", "bob", "OldPass123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// Wrong old password
	if err := f.svc.ChangePassword(reg.UserID, "bad", "NewPass123"); err == nil {
		t.Fatalf("expected wrong old password error")
	}
	// Good change
	if err := f.svc.ChangePassword(reg.UserID, "OldPass123", "NewPass123"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}
	// Old password should no longer work
	if _, err := f.svc.Login(ctx, "bob@example.com", "OldPass123"); err == nil {
		t.Fatalf("expected old password to fail after change")
	}
	// New password works
	if _, err := f.svc.Login(ctx, "bob@example.com", "NewPass123"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestTokenCarriesSession(t *testing.T) {
	f := newAuthFixture(t, false)

	r, err := f.svc.Register(context.Background(), "hank@example.com", "hank", "Password123", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	tm := auth.NewTokenManager("test-secret", "flowstack")
	claims, err := tm.ValidateToken(r.Token)
	if err != nil {
		t.Fatalf("token validation failed: %v", err)
	}
	if claims.UserID != r.UserID {
		t.Fatalf("expected token user %q, got %q", r.UserID, claims.UserID)
	}
	if claims.SessionID == "" {
		t.Fatalf("expected token to carry a session id")
	}
	if _, err := f.sessions.GetByID(claims.SessionID); err != nil {
		t.Fatalf("expected session row for token session id: %v", err)
	}
}
