package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/repository"
)

type orgFixture struct {
	orgs        *memOrgRepo
	members     *memMemberRepo
	invitations *memInvitationRepo
	sessions    *memSessionRepo
	users       *memUserRepo
	state       *memStateStore
	svc         *OrganizationService
}

func newOrgFixture() *orgFixture {
	f := &orgFixture{
		orgs:        newMemOrgRepo(),
		members:     newMemMemberRepo(),
		invitations: newMemInvitationRepo(),
		sessions:    newMemSessionRepo(),
		users:       newMemUserRepo(),
		state:       newMemStateStore(),
	}
	f.svc = NewOrganizationService(f.orgs, f.members, f.invitations, f.sessions, f.users, f.state, nil)
	return f
}

func TestCreateOrganization(t *testing.T) {
	f := newOrgFixture()
	session := seedSession(f.sessions, "u1", "")

	org, err := f.svc.CreateOrganization(context.Background(), "u1", session.ID, "Acme Corp", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if ok, _ := regexp.MatchString(`^acme-corp-[0-9a-f]{4}$`, org.Slug); !ok {
		t.Fatalf("unexpected slug %q", org.Slug)
	}

	memberships, _ := f.members.ListByUser("u1")
	if len(memberships) != 1 || memberships[0].Role != "owner" || memberships[0].OrganizationID != org.ID {
		t.Fatalf("expected owner membership, got %+v", memberships)
	}

	stored, _ := f.sessions.GetByID(session.ID)
	if stored.ActiveOrganizationID.String != org.ID {
		t.Fatalf("expected organization activated on session")
	}
}

func TestCreateOrganizationSlugsNeverCollide(t *testing.T) {
	f := newOrgFixture()
	seedSession(f.sessions, "u1", "")
	seedSession(f.sessions, "u2", "")

	a, err := f.svc.CreateOrganization(context.Background(), "u1", "sess-u1", "Acme", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	b, err := f.svc.CreateOrganization(context.Background(), "u2", "sess-u2", "Acme", "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if a.Slug == b.Slug {
		t.Fatalf("expected distinct slugs, both %q", a.Slug)
	}
}

func TestCreateOrganizationRequiresName(t *testing.T) {
	f := newOrgFixture()
	if _, err := f.svc.CreateOrganization(context.Background(), "u1", "", "   ", ""); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestInviteMembersRequiresMembership(t *testing.T) {
	f := newOrgFixture()
	f.orgs.Create(&domain.Organization{ID: "org-1", Name: "Acme", Slug: "acme"})

	_, err := f.svc.InviteMembers(context.Background(), "outsider", "org-1", []string{"x@example.com"}, "")
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestInviteMembersDeniedForMemberRole(t *testing.T) {
	f := newOrgFixture()
	f.members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "member"})

	_, err := f.svc.InviteMembers(context.Background(), "u1", "org-1", []string{"x@example.com"}, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestInviteMembersSkipsMalformedAddresses(t *testing.T) {
	f := newOrgFixture()
	f.members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})

	invs, err := f.svc.InviteMembers(context.Background(), "u1", "org-1",
		[]string{"good@example.com", "", "not-an-email", "Another@Example.com"}, "")
	if err != nil {
		t.Fatalf("invite failed: %v", err)
	}
	if len(invs) != 2 {
		t.Fatalf("expected 2 invitations, got %d", len(invs))
	}
	for _, inv := range invs {
		if inv.Status != "pending" || inv.Role != "member" {
			t.Fatalf("unexpected invitation %+v", inv)
		}
	}
}

func TestInviteMembersCarriesRequestedRole(t *testing.T) {
	f := newOrgFixture()
	f.members.Create(&domain.Member{ID: "m1", OrganizationID: "org-1", UserID: "u1", Role: "owner"})

	invs, err := f.svc.InviteMembers(context.Background(), "u1", "org-1",
		[]string{"new-admin@example.com"}, "admin")
	if err != nil {
		t.Fatalf("invite failed: %v", err)
	}
	if len(invs) != 1 {
		t.Fatalf("expected 1 invitation, got %d", len(invs))
	}
	if invs[0].Role != "admin" {
		t.Fatalf("expected invitation role %q, got %q", "admin", invs[0].Role)
	}
}

func TestAcceptInvitation(t *testing.T) {
	f := newOrgFixture()
	f.users.Create(&domain.User{ID: "u2", Email: "invitee@example.com", Username: "invitee"})
	session := seedSession(f.sessions, "u2", "")
	f.state.states["u2"] = &memState{shouldOnboard: true}
	f.invitations.Create(&domain.Invitation{
		ID: "inv-1", OrganizationID: "org-1", Email: "invitee@example.com",
		Role: "member", InviterID: "u1", Status: "pending",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	member, err := f.svc.AcceptInvitation(context.Background(), "u2", session.ID, "inv-1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if member.OrganizationID != "org-1" || member.Role != "member" {
		t.Fatalf("unexpected membership %+v", member)
	}

	inv, _ := f.invitations.GetByID("inv-1")
	if inv.Status != "accepted" {
		t.Fatalf("expected invitation accepted, got %q", inv.Status)
	}

	stored, _ := f.sessions.GetByID(session.ID)
	if stored.ActiveOrganizationID.String != "org-1" {
		t.Fatalf("expected joined organization activated on session")
	}

	if f.state.states["u2"].shouldOnboard {
		t.Fatalf("expected onboarding turned off after joining")
	}
}

func TestAcceptInvitationRejectsWrongEmail(t *testing.T) {
	f := newOrgFixture()
	f.users.Create(&domain.User{ID: "u3", Email: "other@example.com", Username: "other"})
	f.invitations.Create(&domain.Invitation{
		ID: "inv-1", OrganizationID: "org-1", Email: "invitee@example.com",
		Role: "member", Status: "pending", ExpiresAt: time.Now().Add(time.Hour),
	})

	_, err := f.svc.AcceptInvitation(context.Background(), "u3", "", "inv-1")
	if !errors.Is(err, ErrInvitationMismatch) {
		t.Fatalf("expected ErrInvitationMismatch, got %v", err)
	}
}

func TestAcceptInvitationRejectsExpired(t *testing.T) {
	f := newOrgFixture()
	f.users.Create(&domain.User{ID: "u2", Email: "invitee@example.com", Username: "invitee"})
	f.invitations.Create(&domain.Invitation{
		ID: "inv-1", OrganizationID: "org-1", Email: "invitee@example.com",
		Role: "member", Status: "pending", ExpiresAt: time.Now().Add(-time.Minute),
	})

	_, err := f.svc.AcceptInvitation(context.Background(), "u2", "", "inv-1")
	if !errors.Is(err, ErrInvitationExpired) {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}
}

func TestAcceptInvitationRejectsConsumed(t *testing.T) {
	f := newOrgFixture()
	f.users.Create(&domain.User{ID: "u2", Email: "invitee@example.com", Username: "invitee"})
	f.invitations.Create(&domain.Invitation{
		ID: "inv-1", OrganizationID: "org-1", Email: "invitee@example.com",
		Role: "member", Status: "accepted", ExpiresAt: time.Now().Add(time.Hour),
	})

	_, err := f.svc.AcceptInvitation(context.Background(), "u2", "", "inv-1")
	if !errors.Is(err, ErrInvitationConsumed) {
		t.Fatalf("expected ErrInvitationConsumed, got %v", err)
	}
}

func TestAcceptInvitationUnknown(t *testing.T) {
	f := newOrgFixture()
	_, err := f.svc.AcceptInvitation(context.Background(), "u2", "", "missing")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
