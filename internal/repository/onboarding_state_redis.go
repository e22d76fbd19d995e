package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowstack/flowstack/internal/infrastructure/redis"
	"github.com/flowstack/flowstack/internal/onboarding"
)

// RedisStateStore keeps onboarding state as a JSON blob per user under
// "onboarding:<userID>". This is the secondary key-value backend.
//
// UpdateState is read-merge-write: it is not atomic across concurrent writers
// for the same user. The engine rejects re-entry at the protocol level, which
// narrows but does not eliminate the double-submission window.
type RedisStateStore struct {
	redis  *redis.Client
	logger *slog.Logger
}

type onboardingBlob struct {
	ShouldOnboard            bool     `json:"shouldOnboard"`
	CurrentOnboardingStep    *string  `json:"currentOnboardingStep"`
	CompletedOnboardingSteps []string `json:"completedOnboardingSteps"`
}

// NewRedisStateStore creates the key-value onboarding state store
func NewRedisStateStore(redisClient *redis.Client, logger *slog.Logger) *RedisStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStateStore{redis: redisClient, logger: logger}
}

func stateKey(userID string) string {
	return "onboarding:" + userID
}

// load reads and decodes the blob. Missing or malformed data yields the zero
// blob; only transport errors propagate.
func (s *RedisStateStore) load(ctx context.Context, userID string) (*onboardingBlob, error) {
	blob := &onboardingBlob{}

	data, err := s.redis.Get(ctx, stateKey(userID))
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return blob, nil
		}
		return nil, fmt.Errorf("failed to read onboarding state: %w", err)
	}

	if err := json.Unmarshal([]byte(data), blob); err != nil {
		s.logger.Warn("malformed onboarding state, treating as empty",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return &onboardingBlob{}, nil
	}
	return blob, nil
}

// CompletedSteps returns the completed step list, empty when absent
func (s *RedisStateStore) CompletedSteps(ctx context.Context, userID string) ([]string, error) {
	blob, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if blob.CompletedOnboardingSteps == nil {
		return []string{}, nil
	}
	return blob.CompletedOnboardingSteps, nil
}

// CurrentStep returns the stored current step, "" when null
func (s *RedisStateStore) CurrentStep(ctx context.Context, userID string) (string, error) {
	blob, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if blob.CurrentOnboardingStep == nil {
		return "", nil
	}
	return *blob.CurrentOnboardingStep, nil
}

// ShouldOnboard returns the stored flag, false when absent
func (s *RedisStateStore) ShouldOnboard(ctx context.Context, userID string) (bool, error) {
	blob, err := s.load(ctx, userID)
	if err != nil {
		return false, err
	}
	return blob.ShouldOnboard, nil
}

// UpdateState merges the partial update into the stored blob and writes it
// back without expiry (state lives as long as the user).
func (s *RedisStateStore) UpdateState(ctx context.Context, userID string, update onboarding.StateUpdate) error {
	blob, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	if update.ShouldOnboard != nil {
		blob.ShouldOnboard = *update.ShouldOnboard
	}
	if update.CurrentStep != nil {
		blob.CurrentOnboardingStep = nullStringPtr(*update.CurrentStep)
	}
	if update.CompletedSteps != nil {
		blob.CompletedOnboardingSteps = update.CompletedSteps
	}

	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to serialize onboarding state: %w", err)
	}
	if err := s.redis.Set(ctx, stateKey(userID), string(data), 0); err != nil {
		return fmt.Errorf("failed to store onboarding state: %w", err)
	}
	return nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
