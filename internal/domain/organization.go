package domain

import "time"

// Organization is a tenant: the unit users collaborate inside
type Organization struct {
	ID        string // UUID
	Name      string
	Slug      string // URL-friendly, unique
	Logo      string // optional URL
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member associates a user with an organization and a role
type Member struct {
	ID             string // UUID
	OrganizationID string
	UserID         string
	Role           string // owner / admin / member
	CreatedAt      time.Time
}

// Invitation is a pending offer to join an organization
type Invitation struct {
	ID             string // UUID
	OrganizationID string
	Email          string
	Role           string
	InviterID      string
	Status         string // pending / accepted / revoked
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// OrganizationRepository defines data access for organizations
type OrganizationRepository interface {
	Create(org *Organization) error
	GetByID(id string) (*Organization, error)
	GetBySlug(slug string) (*Organization, error)
	Update(org *Organization) error
	Delete(id string) error
}

// MemberRepository defines data access for organization memberships
type MemberRepository interface {
	Create(member *Member) error
	ListByUser(userID string) ([]*Member, error)
	ListByOrganization(orgID string) ([]*Member, error)
	Delete(id string) error
}

// InvitationRepository defines data access for invitations
type InvitationRepository interface {
	Create(inv *Invitation) error
	GetByID(id string) (*Invitation, error)
	ListByEmail(email string) ([]*Invitation, error)
	UpdateStatus(id, status string) error
}
