package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flowstack/flowstack/internal/onboarding"
)

// PostgresStateStore keeps onboarding state on the user record itself: the
// should_onboard / current_onboarding_step / completed_onboarding_steps
// columns of the users table. This is the primary-record backend.
type PostgresStateStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStateStore creates the primary-record onboarding state store
func NewPostgresStateStore(db *sql.DB, logger *slog.Logger) *PostgresStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStateStore{db: db, logger: logger}
}

// CompletedSteps reads and deserializes the completed step list. A missing
// user or malformed JSON yields an empty list, never an error.
func (s *PostgresStateStore) CompletedSteps(ctx context.Context, userID string) ([]string, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT completed_onboarding_steps FROM users WHERE id = $1`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read completed steps: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return []string{}, nil
	}

	var steps []string
	if err := json.Unmarshal([]byte(raw.String), &steps); err != nil {
		s.logger.Warn("malformed completed_onboarding_steps, treating as empty",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return []string{}, nil
	}
	return steps, nil
}

// CurrentStep returns the stored current step, "" when null
func (s *PostgresStateStore) CurrentStep(ctx context.Context, userID string) (string, error) {
	var step sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT current_onboarding_step FROM users WHERE id = $1`, userID,
	).Scan(&step)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read current step: %w", err)
	}
	if !step.Valid {
		return "", nil
	}
	return step.String, nil
}

// ShouldOnboard returns the stored flag, false when the user is missing
func (s *PostgresStateStore) ShouldOnboard(ctx context.Context, userID string) (bool, error) {
	var should bool
	err := s.db.QueryRowContext(ctx,
		`SELECT should_onboard FROM users WHERE id = $1`, userID,
	).Scan(&should)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read should_onboard: %w", err)
	}
	return should, nil
}

// UpdateState merges the partial update into the user row with a single
// UPDATE statement covering only the provided fields.
func (s *PostgresStateStore) UpdateState(ctx context.Context, userID string, update onboarding.StateUpdate) error {
	sets := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if update.ShouldOnboard != nil {
		args = append(args, *update.ShouldOnboard)
		sets = append(sets, fmt.Sprintf("should_onboard = $%d", len(args)))
	}
	if update.CurrentStep != nil {
		args = append(args, *update.CurrentStep)
		sets = append(sets, fmt.Sprintf("current_onboarding_step = $%d", len(args)))
	}
	if update.CompletedSteps != nil {
		data, err := json.Marshal(update.CompletedSteps)
		if err != nil {
			return fmt.Errorf("failed to serialize completed steps: %w", err)
		}
		args = append(args, string(data))
		sets = append(sets, fmt.Sprintf("completed_onboarding_steps = $%d", len(args)))
	}

	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update onboarding state: %w", err)
	}
	return nil
}
