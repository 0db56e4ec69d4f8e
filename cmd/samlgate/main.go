package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lanternsec/samlgate/pkg/audit"
	"github.com/lanternsec/samlgate/pkg/config"
	"github.com/lanternsec/samlgate/pkg/middleware"
	"github.com/lanternsec/samlgate/pkg/observability"
	"github.com/lanternsec/samlgate/pkg/provision"
	"github.com/lanternsec/samlgate/pkg/session"
	"github.com/lanternsec/samlgate/pkg/sso"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	metrics := observability.NewMetrics(nil)

	db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// RelayState store: Redis for multi-instance deployments, memory
	// otherwise.
	var states sso.RelayStateStore
	var redisClient *redis.Client
	var memoryStates *sso.MemoryRelayStateStore
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatalf("Invalid redis URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		states = sso.NewRedisRelayStateStore(redisClient)
		logger.Info("using redis relay state store")
	} else {
		memoryStates = sso.NewMemoryRelayStateStore()
		states = memoryStates
		logger.Warn("using in-memory relay state store; run a single instance or configure SAMLGATE_REDIS_URL")
	}

	certs := sso.NewCertificateStore()
	if cfg.ProvidersFile != "" {
		providers, err := config.LoadProviders(cfg.ProvidersFile)
		if err != nil {
			log.Fatalf("Failed to load providers: %v", err)
		}
		for _, provider := range providers {
			if err := certs.Register(provider); err != nil {
				log.Fatalf("Failed to register provider %q: %v", provider.Name, err)
			}
			logger.WithField("provider", provider.Name).Info("registered identity provider")
		}
	} else {
		logger.Warn("no providers file configured; all logins will fail until providers are registered")
	}

	identityStore, err := provision.NewPostgresIdentityStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize identity store: %v", err)
	}
	profileStore, err := provision.NewPostgresProfileStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize profile store: %v", err)
	}
	provisioner := provision.NewService(identityStore, profileStore, logger, cfg.Storage.StoreTimeout)

	sessionStore, err := session.NewPostgresStore(db)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	issuer := session.NewIssuer(sessionStore, cfg.Server.BaseURL, cfg.Storage.SessionTTL)

	auditor, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to initialize audit logger: %v", err)
	}
	defer auditor.Close()

	router := mux.NewRouter()
	ssoHandlers := sso.NewHandlers(certs, states, provisioner, issuer, auditor, logger, metrics, cfg.Server.RequestBudget)
	ssoHandlers.RegisterRoutes(router)
	provision.NewHandlers(provisioner, issuer, logger).RegisterRoutes(router)

	// Per-IP rate limit on the authentication surface; distributed when Redis
	// is available so the budget holds across instances.
	var loginLimiter middleware.Limiter
	var memoryLimiter *middleware.RateLimiter
	if redisClient != nil {
		loginLimiter = middleware.NewDistributedRateLimiter(redisClient, middleware.LoginRateLimitConfig(), "")
	} else {
		memoryLimiter = middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
		loginLimiter = memoryLimiter
	}
	limit := middleware.RateLimit(loginLimiter, logger)
	router.Use(func(next http.Handler) http.Handler {
		limited := limit(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/auth/") {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	appHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID,
		middleware.Logging(logger),
	)(router)

	// Scheduled cleanup: expired login tokens every 5 minutes, stale relay
	// state hourly (memory backend only; Redis expires keys itself).
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("*/5 * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if n, err := sessionStore.PurgeExpired(ctx); err != nil {
			logger.WithError(err).Warn("failed to purge expired login tokens")
		} else if n > 0 {
			logger.WithField("purged", n).Debug("purged expired login tokens")
		}
	}); err != nil {
		log.Fatalf("Failed to schedule token purge: %v", err)
	}
	if memoryStates != nil {
		if _, err := scheduler.AddFunc("@hourly", func() {
			if n := memoryStates.Purge(); n > 0 {
				logger.WithField("purged", n).Debug("purged stale relay state")
			}
		}); err != nil {
			log.Fatalf("Failed to schedule relay state purge: %v", err)
		}
	}
	if cfg.Storage.AuditRetention > 0 {
		if _, err := scheduler.AddFunc("@daily", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			cutoff := time.Now().Add(-cfg.Storage.AuditRetention)
			if n, err := auditor.PurgeOlderThan(ctx, cutoff); err != nil {
				logger.WithError(err).Warn("failed to purge old audit events")
			} else if n > 0 {
				logger.WithField("purged", n).Debug("purged old audit events")
			}
		}); err != nil {
			log.Fatalf("Failed to schedule audit retention purge: %v", err)
		}
	}
	if memoryLimiter != nil {
		if _, err := scheduler.AddFunc("@hourly", func() {
			memoryLimiter.Purge()
		}); err != nil {
			log.Fatalf("Failed to schedule rate limit purge: %v", err)
		}
	}
	scheduler.Start()

	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      appHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, ctx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		logger.WithField("addr", appServer.Addr).Info("samlgate listening")
		if err := appServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutting down gracefully")
	case <-ctx.Done():
		logger.Error("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := appServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("app server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	if redisClient != nil {
		redisClient.Close()
	}

	if err := group.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
