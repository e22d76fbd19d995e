package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/flowstack/flowstack/internal/domain"
	"github.com/flowstack/flowstack/internal/observability/metrics"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/security/auth"
)

const sessionDuration = 7 * 24 * time.Hour

// SignupContext carries the request facts the onboarding predicate inspects.
type SignupContext struct {
	Email      string
	RedirectTo string
}

// OnboardingPredicate decides whether a new account starts onboarding.
type OnboardingPredicate func(SignupContext) bool

// AuthService handles authentication operations
type AuthService struct {
	userRepo         domain.UserRepository
	sessionRepo      domain.SessionRepository
	memberRepo       domain.MemberRepository
	tokens           *auth.TokenManager
	engine           *onboarding.Engine
	signupMeta       *SignupMetadata
	enableOnboarding OnboardingPredicate
	onboardingPath   string
	logger           *slog.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(
	userRepo domain.UserRepository,
	sessionRepo domain.SessionRepository,
	memberRepo domain.MemberRepository,
	tokens *auth.TokenManager,
	engine *onboarding.Engine,
	signupMeta *SignupMetadata,
	enableOnboarding OnboardingPredicate,
	onboardingPath string,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if enableOnboarding == nil {
		enableOnboarding = func(SignupContext) bool { return false }
	}
	if onboardingPath == "" {
		onboardingPath = "/onboarding"
	}

	return &AuthService{
		userRepo:         userRepo,
		sessionRepo:      sessionRepo,
		memberRepo:       memberRepo,
		tokens:           tokens,
		engine:           engine,
		signupMeta:       signupMeta,
		enableOnboarding: enableOnboarding,
		onboardingPath:   onboardingPath,
		logger:           logger,
	}
}

// RegisterResult represents registration response
type RegisterResult struct {
	UserID             string  `json:"user_id"`
	Email              string  `json:"email"`
	Username           string  `json:"username"`
	Token              string  `json:"token"`
	OnboardingRedirect bool    `json:"onboardingRedirect"`
	CurrentStep        *string `json:"currentStep,omitempty"`
	OnboardingPath     string  `json:"onboardingPath,omitempty"`
}

// LoginResult represents login response
type LoginResult struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
	TokenType string `json:"token_type"`
}

// Register creates a new user account, opens a session, and kicks off
// onboarding when the predicate allows. Onboarding bookkeeping failures are
// logged, never surfaced: signup succeeding outranks onboarding succeeding.
func (s *AuthService) Register(ctx context.Context, email, username, password, redirectTo string) (*RegisterResult, error) {
	// Validate input
	if email == "" || password == "" || username == "" {
		return nil, errors.New("email, username, and password are required")
	}

	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	// Check if user already exists
	existing, err := s.userRepo.GetByEmail(email)
	if err == nil && existing != nil {
		return nil, errors.New("email already registered")
	}

	existingUsername, err := s.userRepo.GetByUsername(username)
	if err == nil && existingUsername != nil {
		return nil, errors.New("username already taken")
	}

	// Hash password
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash password", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	// Create user
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		IsActive:     true,
	}

	if err := s.userRepo.Create(user); err != nil {
		s.logger.Error("failed to create user", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	session, err := s.openSession(user)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	token, err := s.tokens.GenerateToken(user.ID, session.ID, user.Email, sessionDuration)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, errors.New("failed to register user")
	}

	result := &RegisterResult{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Token:    token,
	}

	if redirectTo == "" && s.signupMeta != nil {
		redirectTo = s.signupMeta.Take(email)
	}
	enabled := s.enableOnboarding(SignupContext{Email: email, RedirectTo: redirectTo})
	metrics.ObserveSignup(enabled)
	if enabled {
		if err := s.engine.Begin(ctx, user.ID); err != nil {
			s.logger.Error("failed to initialize onboarding state",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else {
			first := s.engine.Registry().Next("")
			result.OnboardingRedirect = true
			if first != "" {
				result.CurrentStep = &first
			}
			result.OnboardingPath = s.onboardingPath
		}
	}

	return result, nil
}

// Login authenticates a user, opens a session, and returns a JWT token
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	// Validate input
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	// Get user
	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		s.logger.Info("login attempt with non-existent email", slog.String("email", email))
		return nil, errors.New("invalid credentials")
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.Info("login failed with wrong password", slog.String("email", email))
		return nil, errors.New("invalid credentials")
	}

	session, err := s.openSession(user)
	if err != nil {
		s.logger.Error("failed to create session", slog.String("error", err.Error()))
		return nil, errors.New("failed to log in")
	}

	token, err := s.tokens.GenerateToken(user.ID, session.ID, user.Email, sessionDuration)
	if err != nil {
		s.logger.Error("failed to sign token", slog.String("error", err.Error()))
		return nil, errors.New("failed to log in")
	}

	s.logger.Info("user logged in",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return &LoginResult{
		UserID:    user.ID,
		Email:     user.Email,
		Token:     token,
		ExpiresIn: int(sessionDuration.Seconds()),
		TokenType: "Bearer",
	}, nil
}

// openSession creates a session row, pre-seeding the active organization from
// the user's first membership. Membership lookup failures are logged and the
// session is created without an active organization; the activation sync
// fills it in on the next session fetch.
func (s *AuthService) openSession(user *domain.User) (*domain.Session, error) {
	session := &domain.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(sessionDuration),
	}

	memberships, err := s.memberRepo.ListByUser(user.ID)
	if err != nil {
		s.logger.Error("failed to look up memberships for session",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	} else if len(memberships) > 0 {
		session.ActiveOrganizationID = sql.NullString{String: memberships[0].OrganizationID, Valid: true}
	}

	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

// ChangePassword changes a user's password
func (s *AuthService) ChangePassword(userID, oldPassword, newPassword string) error {
	if newPassword == "" || len(newPassword) < 8 {
		return errors.New("new password must be at least 8 characters")
	}

	// Get user
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return errors.New("user not found")
	}

	// Verify old password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)); err != nil {
		return errors.New("current password is incorrect")
	}

	// Hash new password
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("failed to hash new password", slog.String("error", err.Error()))
		return errors.New("failed to change password")
	}

	// Update user
	user.PasswordHash = string(hash)
	if err := s.userRepo.Update(user); err != nil {
		s.logger.Error("failed to update user password", slog.String("error", err.Error()))
		return errors.New("failed to change password")
	}

	s.logger.Info("user changed password", slog.String("user_id", userID))
	return nil
}

// DefaultOnboardingPredicate builds the standard signup predicate: onboarding
// must be globally enabled, and signups arriving via an invitation link (a
// redirect target pointing at invitation acceptance) skip onboarding since
// they will join an existing organization rather than create one.
func DefaultOnboardingPredicate(globallyEnabled bool) OnboardingPredicate {
	return func(sc SignupContext) bool {
		if !globallyEnabled {
			return false
		}
		if strings.Contains(sc.RedirectTo, "/accept-invitation") {
			return false
		}
		return true
	}
}
