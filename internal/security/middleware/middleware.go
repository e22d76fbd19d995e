package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/flowstack/flowstack/internal/security/audit"
	"github.com/flowstack/flowstack/internal/security/auth"
	"github.com/flowstack/flowstack/internal/security/ratelimit"
)

type ClaimsContextKey struct{}

// publicPath reports whether a path is reachable without a bearer token.
// Onboarding paths are NOT public, with one exception: should-onboard answers
// false instead of 401 for anonymous callers, so it passes through and the
// handler deals with the missing claims.
func publicPath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics",
		"/api/auth/register", "/api/auth/login", "/api/auth/signup-intent",
		"/onboarding/should-onboard":
		return true
	}
	return false
}

func JWTMiddleware(tm *auth.TokenManager, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")

			if publicPath(r.URL.Path) {
				// Still attach claims when a valid token is present, so the
				// should-onboard handler can answer for logged-in callers.
				if authHeader != "" {
					if tokenString, err := auth.ExtractToken(authHeader); err == nil {
						if claims, err := tm.ValidateToken(tokenString); err == nil {
							r = r.WithContext(context.WithValue(r.Context(), ClaimsContextKey{}, claims))
						}
					}
				}
				next.ServeHTTP(w, r)
				return
			}

			if authHeader == "" {
				http.Error(w, `{"error":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				http.Error(w, `{"error":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, `{"error":"UNAUTHORIZED"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware applies the general per-user limit everywhere and a
// dedicated fixed window to the onboarding endpoints. Anonymous callers fall
// back to their remote address as the limiter key.
func RateLimitMiddleware(limiter *ratelimit.Limiter, onboardingMax int, onboardingWindow int, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			caller := r.RemoteAddr
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				caller = claims.UserID
			}

			if strings.HasPrefix(r.URL.Path, "/onboarding/") {
				if !limiter.AllowStrict("onboarding:"+caller, onboardingMax, time.Duration(onboardingWindow)*time.Second) {
					http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow(caller) {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware records security-relevant mutations before they execute.
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if claims := GetClaimsFromContext(r.Context()); claims != nil {
				userID = claims.UserID
			}

			if r.Method == http.MethodPost {
				switch {
				case strings.HasPrefix(r.URL.Path, "/onboarding/step/"):
					auditLog.LogStepCompletion(r.Context(), userID, strings.TrimPrefix(r.URL.Path, "/onboarding/step/"), "initiated", "")
				case strings.HasPrefix(r.URL.Path, "/onboarding/skip-step/"):
					auditLog.LogStepSkip(r.Context(), userID, strings.TrimPrefix(r.URL.Path, "/onboarding/skip-step/"), "initiated", "")
				case r.URL.Path == "/api/organizations":
					auditLog.LogAction(r.Context(), userID, "create", "organization", "", "initiated", "")
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c := ctx.Value(ClaimsContextKey{}); c != nil {
		return c.(*auth.Claims)
	}
	return nil
}
