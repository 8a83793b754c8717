package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/casecurrentai/casecurrent/cmd/mainconfig"
	"github.com/casecurrentai/casecurrent/internal/api/router"
	appconfig "github.com/casecurrentai/casecurrent/internal/config"
	"github.com/casecurrentai/casecurrent/internal/events"
	"github.com/casecurrentai/casecurrent/internal/http/handlers"
	"github.com/casecurrentai/casecurrent/internal/intake"
	"github.com/casecurrentai/casecurrent/internal/numbers"
	"github.com/casecurrentai/casecurrent/internal/observability/metrics"
	"github.com/casecurrentai/casecurrent/internal/oncall"
	"github.com/casecurrentai/casecurrent/internal/orgs"
	"github.com/casecurrentai/casecurrent/internal/qualify"
	"github.com/casecurrentai/casecurrent/internal/realtime"
	"github.com/casecurrentai/casecurrent/internal/telephony"
	"github.com/casecurrentai/casecurrent/internal/webhookout"
	"github.com/casecurrentai/casecurrent/pkg/logging"

	"github.com/casecurrentai/casecurrent/internal/notify"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting casecurrent API server", "env", cfg.Env, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	defer pool.Close()

	rdb := connectRedis(cfg)
	defer func() { _ = rdb.Close() }()

	metricsHandler, ingestionMetrics := setupMetrics()

	// Stores.
	intakeStore := intake.NewStore(pool)
	numberStore := numbers.NewStore(pool)
	orgStore := orgs.NewStore(pool)
	processed := events.NewProcessedStore(pool, rdb)
	diag := events.NewDiagStore(pool)
	hookStore := webhookout.NewStore(pool)

	// Ingestion pipeline.
	engine := intake.NewEngine(intakeStore, processed,
		intake.WithEngineLogger(logger),
		intake.WithEngineMetrics(ingestionMetrics),
	)
	states := intake.NewStateMachine(intakeStore, logger)
	callRouter := oncall.NewRouter(orgStore, numberStore, diag,
		oncall.WithRouterMetrics(ingestionMetrics),
		oncall.WithRouterLogger(logger),
	)

	// Realtime hub for dashboard sessions.
	hub := realtime.NewHub(
		realtime.WithSweepInterval(cfg.RealtimeSweepInterval),
		realtime.WithStaleAfter(cfg.RealtimeStaleAfter),
		realtime.WithHubLogger(logger),
	)
	go hub.Run(ctx)

	// Notifications: realtime push with email fallback.
	var email notify.EmailSender
	if cfg.NotifyFromEmail != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		email = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
	}
	alerts := notify.NewService(email, hub, logger)

	// Outbound webhook dispatcher.
	dispatcher := webhookout.NewDispatcher(hookStore).
		WithRedis(rdb).
		WithMaxAttempts(cfg.WebhookMaxAttempts).
		WithBackoff(cfg.WebhookBackoff).
		WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}).
		WithMetrics(ingestionMetrics).
		WithLogger(logger)
	if err := dispatcher.Recover(ctx); err != nil {
		logger.Error("webhook delivery recovery failed", "error", err)
	}

	// Qualification.
	qualifyService := qualify.NewService(qualify.NewStore(pool), intakeStore, logger).
		WithEmitter(dispatcher)

	registry := telephony.NewRegistry(cfg.DefaultCountryCode,
		telephony.TwilioAdapter{},
		telephony.PlivoAdapter{},
		telephony.ElevenLabsAdapter{},
		telephony.VapiAdapter{},
	)
	telephonyHandler := handlers.NewTelephonyHandler(handlers.TelephonyDeps{
		Registry: registry,
		Numbers:  numberStore,
		Engine:   engine,
		States:   states,
		Router:   callRouter,
		Alerts:   alerts,
		Hooks:    dispatcher,
		Diag:     diag,
		Metrics:  ingestionMetrics,
		Logger:   logger,
	}, handlers.TelephonyConfig{
		PublicBaseURL:       cfg.PublicBaseURL,
		VoicemailGreeting:   cfg.VoicemailGreeting,
		NotConfiguredNotice: cfg.NotConfiguredNotice,
		TwilioAuthToken:     cfg.TwilioAuthToken,
		PlivoAuthToken:      cfg.PlivoAuthToken,
		ElevenLabsSecret:    cfg.ElevenLabsSecret,
		VapiSecret:          cfg.VapiSecret,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Telephony:          telephonyHandler,
		OnCall:             handlers.NewOnCallHandler(orgStore, numberStore, logger),
		Qualification:      qualify.NewHandler(qualifyService, logger),
		WebhookEndpoints:   webhookout.NewHandler(hookStore, logger),
		Realtime:           hub,
		MetricsHandler:     metricsHandler,
		APIJWTSecret:       cfg.APIJWTSecret,
		CORSAllowedOrigins: corsOrigins(cfg.Env),
		WebhookRateLimit:   20,
		WebhookRateBurst:   60,
		DB:                 pool,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Drain background work before the process exits: alert fanouts first,
	// then any webhook deliveries they spawned.
	telephonyHandler.Wait()
	dispatcher.Wait()

	logger.Info("server stopped")
}

// setupMetrics builds an isolated registry so tests and multiple instances
// never trip duplicate registration.
func setupMetrics() (http.Handler, *metrics.IngestionMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewIngestionMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m
}

func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if databaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not reachable at startup", "error", err)
	}
	return pool
}

func connectRedis(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// corsOrigins locks the browser surface down outside development.
func corsOrigins(env string) []string {
	if env == "development" {
		return []string{"*"}
	}
	return []string{
		"https://app.casecurrent.ai",
		"https://dashboard.casecurrent.ai",
	}
}
