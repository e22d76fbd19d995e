package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/reliability/circuitbreaker"
	"github.com/flowstack/flowstack/internal/reliability/retry"
)

// ErrStateStoreUnavailable is returned for writes while the breaker is open.
var ErrStateStoreUnavailable = errors.New("onboarding state store unavailable")

// GuardedStateStore wraps a StateStore with a circuit breaker and write
// retries. Reads stay fail-soft: while the breaker is open they return zero
// state instead of hammering a dependency that is already down. Writes keep
// their contract of surfacing errors, but get a few retries first.
type GuardedStateStore struct {
	inner    onboarding.StateStore
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
	logger   *slog.Logger
}

// NewGuardedStateStore wraps inner with reliability guards.
func NewGuardedStateStore(inner onboarding.StateStore, logger *slog.Logger) *GuardedStateStore {
	if logger == nil {
		logger = slog.Default()
	}

	breaker := circuitbreaker.NewCircuitBreaker(5, 2, 30*time.Second)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("onboarding state store breaker state changed",
			slog.Int("from", int(from)),
			slog.Int("to", int(to)),
		)
	})

	return &GuardedStateStore{
		inner:   inner,
		breaker: breaker,
		retryCfg: &retry.Config{
			MaxAttempts:       3,
			InitialBackoff:    50 * time.Millisecond,
			MaxBackoff:        500 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		logger: logger,
	}
}

func (g *GuardedStateStore) CompletedSteps(ctx context.Context, userID string) ([]string, error) {
	if !g.breaker.AllowRequest() {
		return []string{}, nil
	}
	steps, err := g.inner.CompletedSteps(ctx, userID)
	g.record(err)
	return steps, err
}

func (g *GuardedStateStore) CurrentStep(ctx context.Context, userID string) (string, error) {
	if !g.breaker.AllowRequest() {
		return "", nil
	}
	step, err := g.inner.CurrentStep(ctx, userID)
	g.record(err)
	return step, err
}

func (g *GuardedStateStore) ShouldOnboard(ctx context.Context, userID string) (bool, error) {
	if !g.breaker.AllowRequest() {
		return false, nil
	}
	v, err := g.inner.ShouldOnboard(ctx, userID)
	g.record(err)
	return v, err
}

func (g *GuardedStateStore) UpdateState(ctx context.Context, userID string, update onboarding.StateUpdate) error {
	if !g.breaker.AllowRequest() {
		return ErrStateStoreUnavailable
	}
	_, err := retry.Do(ctx, g.retryCfg, g.logger, "onboarding state write", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.UpdateState(ctx, userID, update)
	})
	g.record(err)
	return err
}

func (g *GuardedStateStore) record(err error) {
	if err != nil {
		g.breaker.RecordFailure()
		return
	}
	g.breaker.RecordSuccess()
}
