package onboarding

import (
	"context"
	"database/sql"
)

// StateUpdate is a partial update of a user's onboarding state. Nil fields are
// left unchanged; an invalid CurrentStep NullString clears the stored value.
type StateUpdate struct {
	ShouldOnboard  *bool
	CurrentStep    *sql.NullString
	CompletedSteps []string
}

// StateStore abstracts persistence of per-user onboarding state. Exactly one
// backend is active per deployment: either the primary user record (Postgres)
// or a secondary key-value store (Redis), chosen at construction time.
//
// Reads fail soft: missing or malformed data yields zero values, never an
// error. Write errors propagate unchanged; callers must treat any error from
// UpdateState as a failed transition with nothing committed.
type StateStore interface {
	// CompletedSteps returns the step IDs the user has finished or skipped,
	// in completion order.
	CompletedSteps(ctx context.Context, userID string) ([]string, error)

	// CurrentStep returns the step the user should be directed to next,
	// "" when onboarding is inactive or complete.
	CurrentStep(ctx context.Context, userID string) (string, error)

	// ShouldOnboard reports whether the user must still complete onboarding.
	ShouldOnboard(ctx context.Context, userID string) (bool, error)

	// UpdateState merges the partial update into the stored state.
	UpdateState(ctx context.Context, userID string, update StateUpdate) error
}

// NullStep builds a CurrentStep value for StateUpdate: a valid NullString for
// a step ID, an invalid one (null) for "".
func NullStep(stepID string) *sql.NullString {
	return &sql.NullString{String: stepID, Valid: stepID != ""}
}

// Bool returns a pointer for optional StateUpdate fields.
func Bool(v bool) *bool {
	return &v
}
