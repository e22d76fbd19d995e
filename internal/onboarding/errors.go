package onboarding

import "errors"

// Sentinel errors for state machine outcomes. The messages double as the wire
// error codes clients key on when deciding whether to re-sync via /onboarding/status.
var (
	// ErrUnauthorized means no valid session was presented.
	ErrUnauthorized = errors.New("UNAUTHORIZED")

	// ErrStepAlreadyCompleted means a once step was re-attempted after success.
	// This signals client/state desync, not a transient failure.
	ErrStepAlreadyCompleted = errors.New("STEP_ALREADY_COMPLETED")

	// ErrRequiredStepsIncomplete means the completion step was attempted while
	// other required steps are still incomplete.
	ErrRequiredStepsIncomplete = errors.New("COMPLETE_REQUIRED_STEPS_FIRST")

	// ErrStepNotFound means the step ID is not in the registry.
	ErrStepNotFound = errors.New("STEP_NOT_FOUND")
)

// ValidationError indicates a step payload failed schema validation.
// No state change happens when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
