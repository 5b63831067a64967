package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/ComUnity/voiceid-service/internal/client"
	"github.com/ComUnity/voiceid-service/internal/config"
	"github.com/ComUnity/voiceid-service/internal/handler"
	"github.com/ComUnity/voiceid-service/internal/middleware"
	"github.com/ComUnity/voiceid-service/internal/repository"
	"github.com/ComUnity/voiceid-service/internal/service"
	"github.com/ComUnity/voiceid-service/internal/telemetry"
	"github.com/ComUnity/voiceid-service/internal/util"
	"github.com/ComUnity/voiceid-service/internal/util/logger"
	"github.com/ComUnity/voiceid-service/pkg/security"
)

var version = "development"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/app-config.yaml"
	}
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		configPath = ""
	}

	var resolver config.SecretResolver
	if r, err := config.NewAWSSecretResolver(ctx); err == nil {
		resolver = r
	}
	cfg, err := config.LoadConfig(ctx, configPath, resolver)
	if err != nil {
		panic(fmt.Errorf("failed to load config: %w", err))
	}

	logger.ReplaceGlobal(&logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
		Output:   cfg.Logger.Output,
	})
	defer logger.Sync()

	if err := run(ctx, cfg); err != nil {
		logger.Fatalf("voiceid-service stopped: %v", err)
	}
	logger.Info("voiceid-service stopped")
}

// app holds everything run needs to close on the way out.
type app struct {
	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("shutdown: %v", err)
		}
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	a := &app{}
	defer a.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	var checkers []handler.HealthChecker

	// Session store, attempt counters and rate-limit windows
	var (
		sessions repository.SessionStore
		counters repository.CounterStore
	)
	if cfg.Redis.URL != "" {
		rc, err := client.NewRedisClient(ctx, cfg.Redis, client.WithLatencyObserver(metrics.ObserveRedis))
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		a.onClose(rc.Close)
		store := repository.NewRedisStore(rc, cfg.Verification.KeyPrefix)
		sessions, counters = store, store
		checkers = append(checkers, handler.RedisHealthChecker{Client: rc})
	} else {
		logger.Warn("redis.url not set; sessions and lockouts are kept in process memory")
		store := repository.NewMemoryStore()
		sessions, counters = store, store
		checkers = append(checkers, handler.StaticHealthChecker{CheckName: "redis", Status: handler.HealthStatusDegraded, Message: "in-memory store"})
	}

	// Profiles and durable audit
	var sealer repository.TemplateSealer
	if cfg.KMS.KeyID != "" {
		tc, err := security.NewTemplateCipher(ctx, security.KMSConfig{
			KeyID:             cfg.KMS.KeyID,
			EncryptionContext: cfg.KMS.EncryptionContext,
			Timeout:           cfg.KMS.Timeout,
		})
		if err != nil {
			return fmt.Errorf("kms init: %w", err)
		}
		sealer = tc
	} else {
		logger.Warn("kms.key_id not set; voice templates are stored unencrypted")
	}

	var (
		profiles repository.ProfileRepository
		sinks    []telemetry.Appender
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		a.onClose(db.Close)
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)

		profileRepo := repository.NewPostgresProfileRepository(db, sealer)
		auditRepo := repository.NewPostgresAuditRepository(db)
		if err := profileRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("profile schema: %w", err)
		}
		if err := auditRepo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("audit schema: %w", err)
		}
		profiles = profileRepo
		sinks = append(sinks, auditRepo)
		checkers = append(checkers, handler.DatabaseHealthChecker{DB: db})
	} else {
		logger.Warn("database_url not set; profiles are kept in process memory")
		profiles = repository.NewMemoryProfileRepository()
	}

	if cfg.Kafka.Enabled {
		ks, err := telemetry.NewKafkaAuditSink(cfg.Kafka, cfg.Env)
		if err != nil {
			return fmt.Errorf("kafka audit sink: %w", err)
		}
		a.onClose(ks.Close)
		sinks = append(sinks, ks)
	}
	if cfg.Elasticsearch.Enabled {
		es, err := telemetry.NewESAuditSink(cfg.Elasticsearch, cfg.Env, metrics)
		if err != nil {
			return fmt.Errorf("elasticsearch audit sink: %w", err)
		}
		a.onClose(es.Close)
		sinks = append(sinks, es)
	}
	sinks = append(sinks, telemetry.LogAuditSink{})
	audit := telemetry.NewFanoutAuditSink(sinks...)

	// Providers
	var (
		calls     service.CallProvider
		notifier  service.Notifier
		matcher   service.BiometricMatcher
		templates service.TemplateGenerator
	)
	if cfg.Telephony.BaseURL != "" {
		tel := client.NewTelephonyClient(client.TelephonyConfig{
			BaseURL: cfg.Telephony.BaseURL,
			APIKey:  cfg.Telephony.APIKey,
			Timeout: cfg.Telephony.Timeout,
		})
		calls, notifier = tel, tel
	} else {
		logger.Warn("telephony.base_url not set; using the logging telephony stub")
		calls, notifier = stubTelephony{}, stubTelephony{}
	}
	if cfg.Matcher.BaseURL != "" {
		m := client.NewMatcherClient(client.MatcherConfig{
			BaseURL: cfg.Matcher.BaseURL,
			APIKey:  cfg.Matcher.APIKey,
			Timeout: cfg.Matcher.Timeout,
		})
		matcher, templates = m, m
	} else {
		logger.Warn("matcher.base_url not set; using the development matcher stub")
		matcher, templates = stubMatcher{}, stubMatcher{}
	}

	signingKey := cfg.Callback.SigningKey
	if signingKey == "" {
		signingKey = util.RandomKey()
		logger.Warn("callback.signing_key not set; generated an ephemeral key, callback URLs will not survive a restart")
	}
	tokens, err := util.NewCallbackTokenManager(signingKey, cfg.Callback.BaseURL, cfg.Callback.TokenTTL)
	if err != nil {
		return fmt.Errorf("callback tokens: %w", err)
	}

	loc, err := cfg.Risk.Location()
	if err != nil {
		return err
	}
	risk := service.NewRiskScorer(loc)

	orch, err := service.NewVerificationOrchestrator(cfg.Verification, service.Dependencies{
		Profiles:   profiles,
		Sessions:   sessions,
		Ledger:     service.NewAttemptLedger(counters, cfg.Verification.MaxFailures, cfg.Verification.LockoutTTL),
		Counters:   counters,
		Risk:       risk,
		Calls:      calls,
		Matcher:    matcher,
		Templates:  templates,
		Notifier:   notifier,
		Audit:      audit,
		Scripts:    tokens,
		FromNumber: cfg.Telephony.FromNumber,
	}, service.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}

	// Router
	ips := middleware.NewIPResolver(cfg.Server.TrustedProxyHeaders, cfg.Server.TrustedProxyCIDRs)
	limiter := middleware.NewCallRateLimiter(counters, cfg.RateLimit)

	headers := middleware.DefaultSecurityHeadersConfig()
	headers.ForceRedirect = cfg.Server.ForceHTTPS

	r := chi.NewRouter()
	r.Use(middleware.SecurityHeaders(headers))
	r.Use(chimw.RequestID, ips.Middleware, chimw.Recoverer, chimw.Timeout(cfg.Server.WriteTimeout))
	r.Use(middleware.RequestLog(metrics.ObserveHTTP))

	health := handler.NewHealthHandler(cfg.Env, version, checkers...)
	r.Handle("/health", health)
	r.HandleFunc("/ready", health.ReadinessHandler)
	r.HandleFunc("/live", health.LivenessHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	throttle := middleware.NewIPThrottle(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	r.Group(func(r chi.Router) {
		r.Use(throttle.Middleware)
		handler.NewVerificationHandler(orch, risk, cfg.Server.WriteTimeout).
			Routes(r, middleware.CallbackAuth(tokens), limiter.Middleware)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("Starting HTTP server on %s (env=%s, version=%s)", srv.Addr, cfg.Env, version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
