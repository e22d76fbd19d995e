package onboarding

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"

	"github.com/go-playground/validator/v10"
)

// StepResult is the response to a successful complete or skip call.
type StepResult struct {
	CompletedSteps []string `json:"completedSteps"`
	CurrentStep    *string  `json:"currentStep"`
	Data           any      `json:"data"`
}

// Status is the full onboarding status for a user.
type Status struct {
	ShouldOnboard  bool     `json:"shouldOnboard"`
	CurrentStep    *string  `json:"currentStep"`
	CompletedSteps []string `json:"completedSteps"`
	StepOrder      []string `json:"stepOrder"`
}

// Caller identifies the authenticated user behind a request. A zero UserID
// means unauthenticated.
type Caller struct {
	UserID    string
	SessionID string
}

// Engine is the onboarding state machine. It computes next steps, enforces
// completion preconditions, executes step handlers, and commits transitions
// through the configured StateStore.
type Engine struct {
	registry *Registry
	store    StateStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewEngine creates an onboarding engine
func NewEngine(registry *Registry, store StateStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		registry: registry,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Registry returns the step registry the engine was built with.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// CompleteStep validates the payload, runs the step handler, and advances the
// user's onboarding state. The sequence is strict: validation precedes the
// handler, the handler precedes persistence. Any error aborts the transition
// with no state change.
func (e *Engine) CompleteStep(ctx context.Context, caller Caller, stepID string, payload json.RawMessage) (*StepResult, error) {
	step, ok := e.registry.ByID(stepID)
	if !ok {
		return nil, ErrStepNotFound
	}

	input, err := e.decodeInput(step, payload)
	if err != nil {
		return nil, err
	}

	if caller.UserID == "" {
		return nil, ErrUnauthorized
	}

	completed, err := e.store.CompletedSteps(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	if !step.Repeatable && slices.Contains(completed, stepID) {
		return nil, ErrStepAlreadyCompleted
	}

	isCompletion := stepID == e.registry.completion
	if isCompletion && e.registry.requiredIncomplete(completed, stepID) {
		return nil, ErrRequiredStepsIncomplete
	}

	result, err := step.Handler(ctx, HandlerRequest{
		UserID:    caller.UserID,
		SessionID: caller.SessionID,
		Input:     input,
	})
	if err != nil {
		return nil, err
	}

	res, err := e.advance(ctx, caller.UserID, stepID, completed, isCompletion)
	if err != nil {
		return nil, err
	}
	res.Data = result

	e.logger.Info("onboarding step completed",
		slog.String("user_id", caller.UserID),
		slog.String("step", stepID),
	)
	return res, nil
}

// SkipStep marks a non-required step as completed without running its handler.
// Skipped steps count as completed for ordering and gating purposes.
func (e *Engine) SkipStep(ctx context.Context, caller Caller, stepID string) (*StepResult, error) {
	step, ok := e.registry.ByID(stepID)
	if !ok || step.Required {
		return nil, ErrStepNotFound
	}

	if caller.UserID == "" {
		return nil, ErrUnauthorized
	}

	completed, err := e.store.CompletedSteps(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}

	if slices.Contains(completed, stepID) {
		return nil, ErrStepAlreadyCompleted
	}

	isCompletion := stepID == e.registry.completion
	if isCompletion && e.registry.requiredIncomplete(completed, stepID) {
		return nil, ErrRequiredStepsIncomplete
	}

	res, err := e.advance(ctx, caller.UserID, stepID, completed, isCompletion)
	if err != nil {
		return nil, err
	}

	e.logger.Info("onboarding step skipped",
		slog.String("user_id", caller.UserID),
		slog.String("step", stepID),
	)
	return res, nil
}

// CanAccessStep reports whether the caller may enter a step. One-shot steps that
// are already completed fail with ErrStepAlreadyCompleted.
func (e *Engine) CanAccessStep(ctx context.Context, caller Caller, stepID string) error {
	step, ok := e.registry.ByID(stepID)
	if !ok {
		return ErrStepNotFound
	}

	if caller.UserID == "" {
		return ErrUnauthorized
	}

	completed, err := e.store.CompletedSteps(ctx, caller.UserID)
	if err != nil {
		return err
	}

	if !step.Repeatable && slices.Contains(completed, stepID) {
		return ErrStepAlreadyCompleted
	}
	return nil
}

// Status returns the user's full onboarding status. When the stored current
// step is null but onboarding is active, the value is recomputed as the first
// incomplete step in order.
func (e *Engine) Status(ctx context.Context, userID string) (*Status, error) {
	shouldOnboard, err := e.store.ShouldOnboard(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := e.store.CurrentStep(ctx, userID)
	if err != nil {
		return nil, err
	}
	completed, err := e.store.CompletedSteps(ctx, userID)
	if err != nil {
		return nil, err
	}

	if current == "" && shouldOnboard {
		current = e.registry.FirstIncomplete(completed)
	}

	if completed == nil {
		completed = []string{}
	}

	return &Status{
		ShouldOnboard:  shouldOnboard,
		CurrentStep:    nullable(current),
		CompletedSteps: completed,
		StepOrder:      e.registry.StepOrder(),
	}, nil
}

// ShouldOnboard reports whether the user still needs onboarding.
func (e *Engine) ShouldOnboard(ctx context.Context, userID string) (bool, error) {
	return e.store.ShouldOnboard(ctx, userID)
}

// Begin initializes onboarding state for a newly created account: onboarding
// active, current step set to the first in order, nothing completed yet.
func (e *Engine) Begin(ctx context.Context, userID string) error {
	return e.store.UpdateState(ctx, userID, StateUpdate{
		ShouldOnboard:  Bool(true),
		CurrentStep:    NullStep(e.registry.Next("")),
		CompletedSteps: []string{},
	})
}

// advance commits the post-step state transition: union the step into the
// completed set and move the current step forward, or finish onboarding
// entirely when the completion step was just done.
func (e *Engine) advance(ctx context.Context, userID, stepID string, completed []string, isCompletion bool) (*StepResult, error) {
	updated := slices.Clone(completed)
	if !slices.Contains(updated, stepID) {
		updated = append(updated, stepID)
	}
	next := e.registry.Next(stepID)

	update := StateUpdate{
		CompletedSteps: updated,
		CurrentStep:    NullStep(next),
	}
	if isCompletion {
		update.ShouldOnboard = Bool(false)
		update.CurrentStep = NullStep("")
	}

	if err := e.store.UpdateState(ctx, userID, update); err != nil {
		return nil, err
	}

	if isCompletion {
		next = ""
	}
	return &StepResult{
		CompletedSteps: updated,
		CurrentStep:    nullable(next),
	}, nil
}

// decodeInput unmarshals and validates the step payload. Steps without an
// input schema accept (and ignore) any body.
func (e *Engine) decodeInput(step Step, payload json.RawMessage) (any, error) {
	if step.NewInput == nil {
		return nil, nil
	}

	input := step.NewInput()
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, input); err != nil {
			return nil, &ValidationError{Message: "invalid request body: " + err.Error()}
		}
	}
	if err := e.validate.Struct(input); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	return input, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
