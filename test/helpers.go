package test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/handler"
	"github.com/flowstack/flowstack/internal/infrastructure/logger"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/repository"
	"github.com/flowstack/flowstack/internal/security/auth"
	"github.com/flowstack/flowstack/internal/security/middleware"
	"github.com/flowstack/flowstack/internal/security/ratelimit"
	"github.com/flowstack/flowstack/internal/service"
	"github.com/flowstack/flowstack/pkg/cache"
)

const testJWTSecret = "integration-test-secret"

// TestServerHelper runs the full HTTP stack against in-memory backends.
type TestServerHelper struct {
	Server      *httptest.Server
	Logger      *slog.Logger
	State       *StateStore
	Sessions    *SessionRepo
	Members     *MemberRepo
	Invitations *InvitationRepo
	Orgs        *OrgRepo
	Users       *UserRepo
}

// Options tweaks the wiring per test.
type Options struct {
	OnboardingEnabled   bool
	RequireOrganization bool
	OnboardingRateMax   int
	OnboardingRateWinsS int
}

func DefaultOptions() Options {
	return Options{
		OnboardingEnabled:   true,
		RequireOrganization: true,
		OnboardingRateMax:   10,
		OnboardingRateWinsS: 10,
	}
}

func NewTestServer(t *testing.T, opts Options) *TestServerHelper {
	t.Helper()
	log := logger.NewLogger("error")

	users := &UserRepo{byID: map[string]*domain.User{}}
	sessions := &SessionRepo{byID: map[string]*domain.Session{}}
	orgs := &OrgRepo{byID: map[string]*domain.Organization{}}
	members := &MemberRepo{}
	invitations := &InvitationRepo{byID: map[string]*domain.Invitation{}}
	state := &StateStore{states: map[string]*userState{}}

	orgService := service.NewOrganizationService(orgs, members, invitations, sessions, users, state, log)
	completion, steps := service.DefaultSteps(orgService)
	registry, err := onboarding.NewRegistry(completion, steps...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	engine := onboarding.NewEngine(registry, state, log)

	signupMeta := service.NewSignupMetadata(cache.New())
	tokenManager := auth.NewTokenManager(testJWTSecret, "flowstack")
	authService := service.NewAuthService(
		users, sessions, members, tokenManager, engine, signupMeta,
		service.DefaultOnboardingPredicate(opts.OnboardingEnabled), "/onboarding", log,
	)
	activationSync := service.NewActivationSync(members, sessions, state, registry, opts.RequireOrganization, log)

	authHandler := handler.NewAuthHandler(authService, signupMeta, log)
	sessionHandler := handler.NewSessionHandler(sessions, users, activationSync, log)
	orgHandler := handler.NewOrganizationHandler(orgService, sessions, orgs, log)
	onboardingHandler := handler.NewOnboardingHandler(engine, nil, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/auth/signup-intent", authHandler.SignupIntent)
	mux.HandleFunc("POST /api/auth/change-password", authHandler.ChangePassword)
	mux.HandleFunc("GET /api/auth/session", sessionHandler.Get)
	mux.HandleFunc("POST /api/organizations", orgHandler.Create)
	mux.HandleFunc("GET /api/organizations", orgHandler.List)
	mux.HandleFunc("GET /api/organizations/active", orgHandler.Active)
	mux.HandleFunc("POST /api/organizations/invitations", orgHandler.Invite)
	mux.HandleFunc("POST /api/invitations/{id}/accept", orgHandler.AcceptInvitation)
	onboardingHandler.Mount(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// JWT first so the limiter keys on the authenticated user, matching the
	// server chain.
	limiter := ratelimit.NewLimiter(1000, time.Minute)
	root := middleware.JWTMiddleware(tokenManager, log)(
		middleware.RateLimitMiddleware(limiter, opts.OnboardingRateMax, opts.OnboardingRateWinsS, log)(mux),
	)

	server := httptest.NewServer(root)
	t.Cleanup(server.Close)

	return &TestServerHelper{
		Server:      server,
		Logger:      log,
		State:       state,
		Sessions:    sessions,
		Members:     members,
		Invitations: invitations,
		Orgs:        orgs,
		Users:       users,
	}
}

func (h *TestServerHelper) URL() string { return h.Server.URL }

// Register creates an account and returns its bearer token.
func (h *TestServerHelper) Register(t *testing.T, email, username, redirectTo string) string {
	t.Helper()
	body := map[string]string{
		"email":    email,
		"username": username,
		"password": "Password123",
	}
	if redirectTo != "" {
		body["redirectTo"] = redirectTo
	}
	status, resp := h.DoJSON(t, http.MethodPost, "/api/auth/register", "", body)
	if status != http.StatusCreated {
		t.Fatalf("register returned %d: %v", status, resp)
	}
	token, _ := resp["token"].(string)
	if token == "" {
		t.Fatalf("register returned no token")
	}
	return token
}

// DoJSON issues a request and decodes the response body into a generic map.
// The second return is nil when the body is not a JSON object.
func (h *TestServerHelper) DoJSON(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	raw := h.DoRaw(t, method, path, token, body)
	defer raw.Body.Close()
	data, _ := io.ReadAll(raw.Body)

	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	return raw.StatusCode, decoded
}

func (h *TestServerHelper) DoRaw(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// AssertStatusCode helper function
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status %d, got %d", expected, resp.StatusCode)
	}
}

// ---- in-memory backends ----

type UserRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

func (m *UserRepo) Create(u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.CreatedAt = time.Now()
	m.byID[u.ID] = u
	return nil
}
func (m *UserRepo) GetByID(id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}
func (m *UserRepo) GetByEmail(email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *UserRepo) GetByUsername(username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *UserRepo) Update(u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.ID] = u
	return nil
}
func (m *UserRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type SessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Session
}

func (m *SessionRepo) Create(s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.CreatedAt = time.Now()
	m.byID[s.ID] = s
	return nil
}
func (m *SessionRepo) GetByID(id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		return s, nil
	}
	return nil, repository.ErrNotFound
}
func (m *SessionRepo) SetActiveOrganization(sessionID, orgID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	s.ActiveOrganizationID = sql.NullString{String: orgID, Valid: true}
	return nil
}
func (m *SessionRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type OrgRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Organization
}

func (m *OrgRepo) Create(o *domain.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.CreatedAt = time.Now()
	m.byID[o.ID] = o
	return nil
}
func (m *OrgRepo) GetByID(id string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.byID[id]; ok {
		return o, nil
	}
	return nil, repository.ErrNotFound
}
func (m *OrgRepo) GetBySlug(slug string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.Slug == slug {
			return o, nil
		}
	}
	return nil, repository.ErrNotFound
}
func (m *OrgRepo) Update(o *domain.Organization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[o.ID] = o
	return nil
}
func (m *OrgRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type MemberRepo struct {
	mu      sync.Mutex
	members []*domain.Member
}

func (m *MemberRepo) Create(member *domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	member.CreatedAt = time.Now()
	m.members = append(m.members, member)
	return nil
}
func (m *MemberRepo) ListByUser(userID string) ([]*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Member{}
	for _, member := range m.members {
		if member.UserID == userID {
			out = append(out, member)
		}
	}
	return out, nil
}
func (m *MemberRepo) ListByOrganization(orgID string) ([]*domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Member{}
	for _, member := range m.members {
		if member.OrganizationID == orgID {
			out = append(out, member)
		}
	}
	return out, nil
}
func (m *MemberRepo) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, member := range m.members {
		if member.ID == id {
			m.members = append(m.members[:i], m.members[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type InvitationRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.Invitation
}

func (m *InvitationRepo) Create(inv *domain.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.CreatedAt = time.Now()
	m.byID[inv.ID] = inv
	return nil
}
func (m *InvitationRepo) GetByID(id string) (*domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.byID[id]; ok {
		return inv, nil
	}
	return nil, repository.ErrNotFound
}
func (m *InvitationRepo) ListByEmail(email string) ([]*domain.Invitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Invitation{}
	for _, inv := range m.byID {
		if inv.Email == email {
			out = append(out, inv)
		}
	}
	return out, nil
}
func (m *InvitationRepo) UpdateStatus(id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	inv.Status = status
	return nil
}

type userState struct {
	shouldOnboard bool
	currentStep   sql.NullString
	completed     []string
}

// StateStore is an in-memory onboarding.StateStore.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*userState
}

func (m *StateStore) get(userID string) *userState {
	if s, ok := m.states[userID]; ok {
		return s
	}
	s := &userState{}
	m.states[userID] = s
	return s
}

func (m *StateStore) CompletedSteps(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.get(userID).completed...), nil
}

func (m *StateStore) CurrentStep(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(userID).currentStep.String, nil
}

func (m *StateStore) ShouldOnboard(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(userID).shouldOnboard, nil
}

func (m *StateStore) UpdateState(_ context.Context, userID string, update onboarding.StateUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
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
