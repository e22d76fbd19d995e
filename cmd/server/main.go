package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flowstack/flowstack/internal/featureflags"
	"github.com/flowstack/flowstack/internal/handler"
	"github.com/flowstack/flowstack/internal/infrastructure/logger"
	"github.com/flowstack/flowstack/internal/infrastructure/redis"
	"github.com/flowstack/flowstack/internal/observability/metrics"
	"github.com/flowstack/flowstack/internal/observability/tracing"
	"github.com/flowstack/flowstack/internal/onboarding"
	"github.com/flowstack/flowstack/internal/repository"
	"github.com/flowstack/flowstack/internal/security/audit"
	"github.com/flowstack/flowstack/internal/security/auth"
	"github.com/flowstack/flowstack/internal/security/middleware"
	"github.com/flowstack/flowstack/internal/security/ratelimit"
	"github.com/flowstack/flowstack/internal/service"
	"github.com/flowstack/flowstack/pkg/cache"
	"github.com/flowstack/flowstack/pkg/config"
	"github.com/flowstack/flowstack/pkg/database"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting FlowStack server", slog.String("environment", cfg.Environment))

	ctx := context.Background()

	// 3. Initialize tracing (no-op unless an OTLP endpoint is configured)
	shutdownTracing, err := tracing.Init(ctx, log, "flowstack", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Initialize Redis client
	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer redisClient.Close()

	// 5. Initialize Postgres connection pool
	db, err := database.NewConnectionPool(ctx, &database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, log)
	if err != nil {
		log.Error("failed to connect to Postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	// 6. Initialize repositories
	userRepo := repository.NewPostgresUserRepository(db.GetDB(), log)
	sessionRepo := repository.NewPostgresSessionRepository(db.GetDB(), log)
	orgRepo := repository.NewPostgresOrganizationRepository(db.GetDB(), log)
	memberRepo := repository.NewPostgresMemberRepository(db.GetDB(), log)
	invitationRepo := repository.NewPostgresInvitationRepository(db.GetDB(), log)

	// 7. Select the onboarding state backend
	var stateStore onboarding.StateStore
	switch cfg.OnboardingStorage {
	case "redis":
		stateStore = repository.NewRedisStateStore(redisClient, log)
	default:
		stateStore = repository.NewPostgresStateStore(db.GetDB(), log)
	}
	if featureflags.Enabled("guarded_state_store") {
		stateStore = repository.NewGuardedStateStore(stateStore, log)
	}
	log.Info("onboarding state backend selected", slog.String("backend", cfg.OnboardingStorage))

	// 8. Initialize services
	orgService := service.NewOrganizationService(orgRepo, memberRepo, invitationRepo, sessionRepo, userRepo, stateStore, log)

	completionStep, steps := service.DefaultSteps(orgService)
	registry, err := onboarding.NewRegistry(completionStep, steps...)
	if err != nil {
		log.Error("invalid onboarding step registry", slog.String("error", err.Error()))
		os.Exit(1)
	}
	engine := onboarding.NewEngine(registry, stateStore, log)

	signupMeta := service.NewSignupMetadata(cache.New())
	tokenManager := auth.NewTokenManager(cfg.JWTSecret, "flowstack")
	authService := service.NewAuthService(
		userRepo,
		sessionRepo,
		memberRepo,
		tokenManager,
		engine,
		signupMeta,
		service.DefaultOnboardingPredicate(cfg.OnboardingEnabled),
		cfg.OnboardingPath,
		log,
	)
	activationSync := service.NewActivationSync(memberRepo, sessionRepo, stateStore, registry, cfg.RequireOrganization, log)

	// 9. Initialize handlers
	authHandler := handler.NewAuthHandler(authService, signupMeta, log)
	sessionHandler := handler.NewSessionHandler(sessionRepo, userRepo, activationSync, log)
	orgHandler := handler.NewOrganizationHandler(orgService, sessionRepo, orgRepo, log)
	healthHandler := handler.NewHealthHandler(db, redisClient, log)

	auditLogger := audit.NewLogger(log)
	onboardingHandler := handler.NewOnboardingHandler(engine, auditLogger, log)

	rateLimiter := ratelimit.NewLimiter(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	// 10. Setup HTTP routes
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

	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("/metrics", promhttp.Handler())

	// JWT runs before rate limiting and audit so both key on the
	// authenticated user rather than the remote address.
	protected := middleware.JWTMiddleware(tokenManager, log)(
		middleware.RateLimitMiddleware(rateLimiter, cfg.OnboardingRateLimitMax, cfg.OnboardingRateLimitWindow, log)(
			middleware.AuditMiddleware(auditLogger)(
				middleware.ValidateJSONContentType(log)(mux),
			),
		),
	)

	// CORS middleware honoring configured origins. Preflight requests are
	// answered here, before auth ever sees them.
	handlerWithCORS := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if originAllowed(cfg.CORSAllowedOrigins, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(cfg.CORSAllowedOrigins) > 0 {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigins[0])
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		protected.ServeHTTP(w, r)
	})

	// Chain middleware: request ID -> CORS -> JWT -> rate limit -> audit -> mux
	rootHandler := withRequestID(handlerWithCORS, log)
	instrumented := metrics.HTTPMetricsMiddleware(rootHandler)

	// 11. Start HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      otelhttp.NewHandler(instrumented, "flowstack"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("onboarding_backend", cfg.OnboardingStorage),
		slog.Bool("onboarding_enabled", cfg.OnboardingEnabled),
		slog.Int("onboarding_rate_limit", cfg.OnboardingRateLimitMax),
	)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.String("error", err.Error()))
		}
	}()

	// Wait for shutdown signal
	<-sigChan
	log.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}

type requestIDKey struct{}

// withRequestID attaches a request ID to the context and response headers for traceability
func withRequestID(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := generateRequestID()
		w.Header().Set("X-Request-ID", reqID)

		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		log.Info("request completed",
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("duration_ms", time.Since(start)),
		)
	})
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func generateRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}
	return fmt.Sprintf("req-%d", time.Now().UnixNano())
}
