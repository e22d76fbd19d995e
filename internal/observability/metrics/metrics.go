package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstack_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowstack_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	onboardingStepCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstack_onboarding_step_completions_total",
		Help: "Count of onboarding step completion attempts by step and result",
	}, []string{"step", "result"})

	onboardingFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowstack_onboarding_finished_total",
		Help: "Count of users who finished onboarding",
	})

	activationSyncCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstack_activation_sync_corrections_total",
		Help: "Count of state corrections applied by the organization-activation sync",
	}, []string{"action"})

	signupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowstack_signups_total",
		Help: "Count of account signups by onboarding outcome",
	}, []string{"onboarding"})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveStepCompletion records an onboarding step completion attempt.
// result is "ok" or "error".
func ObserveStepCompletion(step, result string) {
	onboardingStepCompletions.WithLabelValues(step, result).Inc()
}

// ObserveOnboardingFinished increments the finished-onboarding counter.
func ObserveOnboardingFinished() {
	onboardingFinished.Inc()
}

// ObserveSyncCorrection records an activation-sync correction.
// action is one of: auto_activate_org, clear_onboarding, enable_onboarding.
func ObserveSyncCorrection(action string) {
	activationSyncCorrections.WithLabelValues(action).Inc()
}

// ObserveSignup records a signup with whether onboarding was enabled for it.
func ObserveSignup(onboardingEnabled bool) {
	label := "disabled"
	if onboardingEnabled {
		label = "enabled"
	}
	signupsTotal.WithLabelValues(label).Inc()
}
