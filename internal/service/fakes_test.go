package service

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/repository"
)

type memUserRepo struct {
	byID map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*domain.User{}}
}

func (m *memUserRepo) Create(u *domain.User) error {
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = u
	return nil
}
func (m *memUserRepo) GetByID(id string) (*domain.User, error) {
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}
func (m *memUserRepo) GetByEmail(email string) (*domain.User, error) {
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *memUserRepo) GetByUsername(username string) (*domain.User, error) {
	for _, u := range m.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *memUserRepo) Update(u *domain.User) error {
	u.UpdatedAt = time.Now()
	m.byID[u.ID] = u
	return nil
}
func (m *memUserRepo) Delete(id string) error { delete(m.byID, id); return nil }

type memSessionRepo struct {
	byID map[string]*domain.Session

	setActiveCalls int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: map[string]*domain.Session{}}
}

func (m *memSessionRepo) Create(s *domain.Session) error {
	s.CreatedAt = time.Now()
	m.byID[s.ID] = s
	return nil
}
func (m *memSessionRepo) GetByID(id string) (*domain.Session, error) {
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}
func (m *memSessionRepo) SetActiveOrganization(id, orgID string) error {
	s, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.setActiveCalls++
	s.ActiveOrganizationID = sql.NullString{String: orgID, Valid: true}
	return nil
}
func (m *memSessionRepo) Delete(id string) error { delete(m.byID, id); return nil }

type memOrgRepo struct {
	byID map[string]*domain.Organization
}

func newMemOrgRepo() *memOrgRepo {
	return &memOrgRepo{byID: map[string]*domain.Organization{}}
}

func (m *memOrgRepo) Create(o *domain.Organization) error {
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	m.byID[o.ID] = o
	return nil
}
func (m *memOrgRepo) GetByID(id string) (*domain.Organization, error) {
	if o, ok := m.byID[id]; ok {
		return o, nil
	}
	return nil, repository.ErrNotFound
}
func (m *memOrgRepo) GetBySlug(slug string) (*domain.Organization, error) {
	for _, o := range m.byID {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *memOrgRepo) Update(o *domain.Organization) error { m.byID[o.ID] = o; return nil }
func (m *memOrgRepo) Delete(id string) error              { delete(m.byID, id); return nil }

type memMemberRepo struct {
	members []*domain.Member
	listErr error
}

func newMemMemberRepo() *memMemberRepo { return &memMemberRepo{} }

func (m *memMemberRepo) Create(member *domain.Member) error {
	member.CreatedAt = time.Now()
	m.members = append(m.members, member)
	return nil
}
func (m *memMemberRepo) ListByUser(userID string) ([]*domain.Member, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []*domain.Member{}
	for _, member := range m.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	return out, nil
}
func (m *memMemberRepo) ListByOrganization(orgID string) ([]*domain.Member, error) {
	out := []*domain.Member{}
	for _, member := range m.members {
		if member.OrganizationID == orgID {
			out = append(out, member)
		}
	}
	return out, nil
}
func (m *memMemberRepo) Delete(id string) error {
	for i, member := range m.members {
		if member.ID == id {
			m.members = append(m.members[:i], m.members[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type memInvitationRepo struct {
	byID map[string]*domain.Invitation
}

func newMemInvitationRepo() *memInvitationRepo {
	return &memInvitationRepo{byID: map[string]*domain.Invitation{}}
}

func (m *memInvitationRepo) Create(inv *domain.Invitation) error {
	inv.CreatedAt = time.Now()
	m.byID[inv.ID] = inv
	return nil
}
func (m *memInvitationRepo) GetByID(id string) (*domain.Invitation, error) {
	if inv, ok := m.byID[id]; ok {
		return inv, nil
	}
	return nil, repository.ErrNotFound
}
func (m *memInvitationRepo) ListByEmail(email string) ([]*domain.Invitation, error) {
	out := []*domain.Invitation{}
	for _, inv := range m.byID {
		if inv.Email == email {
			out = append(out, inv)
		}
	}
	return out, nil
}
func (m *memInvitationRepo) UpdateStatus(id, status string) error {
	inv, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	inv.Status = status
	return nil
}

// memStateStore is an in-memory StateStore with error injection.
type memStateStore struct {
	mu     sync.Mutex
	states map[string]*memState

	writeErr error
	readErr  error
	writes   int
}

type memState struct {
	shouldOnboard bool
	currentStep   sql.NullString
	completed     []string
}

func newMemStateStore() *memStateStore {
	return &memStateStore{states: map[string]*memState{}}
}

func (m *memStateStore) get(userID string) *memState {
	if s, ok := m.states[userID]; ok {
		return s
	}
	s := &memState{}
	m.states[userID] = s
	return s
}

func (m *memStateStore) CompletedSteps(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	return append([]string{}, m.get(userID).completed...), nil
}

func (m *memStateStore) CurrentStep(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return "", m.readErr
	}
	return m.get(userID).currentStep.String, nil
}

func (m *memStateStore) ShouldOnboard(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	return m.get(userID).shouldOnboard, nil
}

func (m *memStateStore) UpdateState(_ context.Context, userID string, update onboarding.StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.writes++
	s := m.get(userID)
	if update.ShouldOnboard != nil {
		s.shouldOnboard = *update.ShouldOnboard
	}
	if update.CurrentStep != nil {
		s.currentStep = *update.CurrentStep
	}
	if update.CompletedSteps != nil {
		s.completed = append([]string{}, update.CompletedSteps...)
	}
	return nil
}
