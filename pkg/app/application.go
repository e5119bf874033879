package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/osvaldoandrade/domainscan/internal/backoff"
	"github.com/osvaldoandrade/domainscan/internal/metrics"
	"github.com/osvaldoandrade/domainscan/internal/middleware"
	"github.com/osvaldoandrade/domainscan/internal/providers"
	"github.com/osvaldoandrade/domainscan/internal/ratelimit"
	"github.com/osvaldoandrade/domainscan/internal/services"
	"github.com/osvaldoandrade/domainscan/internal/tracing"
	"github.com/osvaldoandrade/domainscan/internal/tracker"
	"github.com/osvaldoandrade/domainscan/pkg/analysisapi"
	"github.com/osvaldoandrade/domainscan/pkg/auth"
	"github.com/osvaldoandrade/domainscan/pkg/config"
	"github.com/osvaldoandrade/domainscan/pkg/persistence"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	API             analysisapi.API
	Scans           services.ScanService
	Reports         services.ReportsService
	Archive         persistence.PluginPersistence
	Logger          *slog.Logger
	Validator       auth.Validator
	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error

	redis             *redis.Client
	unregisterMetrics func()
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator sets a custom bearer validator
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		return nil
	}
}

// WithAnalysisAPI replaces the client built from the configured version.
func WithAnalysisAPI(api analysisapi.API) ApplicationOption {
	return func(app *Application) error {
		app.API = api
		return nil
	}
}

var setupTracing = tracing.Setup

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (_ *Application, err error) {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "domainscan", "env", cfg.Env)
	slog.SetDefault(logger)

	shutdown, err := setupTracing(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "domainscan",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing setup: %w", err)
	}

	app := &Application{
		Config:          cfg,
		Logger:          logger,
		TracingShutdown: shutdown,
	}
	defer func() {
		if err != nil {
			app.release()
		}
	}()

	// Apply options
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.API == nil {
		api, err := analysisapi.New(cfg.APIVersion, analysisapi.Options{
			BaseURL: cfg.APIBaseURL,
			Timeout: cfg.RequestTimeout(),
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		app.API = api
	}

	archive, err := persistence.NewPersistence(
		persistence.ProviderConfig{Type: cfg.ReportStore, Config: []byte(cfg.ReportStoreConfig)},
		persistence.PluginConfig{RedisAddr: cfg.RedisAddr, RedisPassword: cfg.RedisPassword, SQLitePath: cfg.SQLitePath},
	)
	if err != nil {
		return nil, fmt.Errorf("report store: %w", err)
	}
	app.Archive = archive

	// A shared limiter needs Redis; a single gateway can keep buckets in memory.
	if cfg.RedisAddr != "" {
		rdb, err := providers.NewRedisProvider(context.Background(), providers.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			logger.Warn("submission limiter degraded", "err", err)
		}
		app.redis = rdb
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.redis)
	} else {
		app.RateLimiter = ratelimit.NewLocalLimiter()
	}

	if app.Validator == nil {
		validator, err := auth.FromSettings(cfg.AuthProvider, cfg.AuthConfig)
		if err != nil {
			return nil, err
		}
		app.Validator = validator
	}

	webhook := services.NewWebhookService(
		logger,
		cfg.WebhookURL,
		cfg.WebhookHmacSecret,
		cfg.WebhookMaxAttempts,
		time.Duration(cfg.WebhookBaseBackoffSeconds)*time.Second,
		time.Duration(cfg.WebhookMaxBackoffSeconds)*time.Second,
		nil,
	)
	app.Scans = services.NewScanService(app.API, tracker.Options{
		Mode:                cfg.ObserveMode,
		PollInterval:        cfg.PollInterval(),
		MaxTransportRetries: cfg.MaxTransportRetries,
		ResultFetchAttempts: cfg.ResultFetchAttempts,
		Backoff:             backoff.Policy{Name: cfg.BackoffPolicy, Base: cfg.BackoffBase(), Max: cfg.BackoffMax()},
	}, webhook, logger)
	app.Reports = services.NewReportsService(app.API, app.Scans, archive.ReportStorage(), cfg.ReportStore, logger, time.Now)

	scans := app.Scans
	app.unregisterMetrics, err = metrics.RegisterArchiveCollector(prometheus.DefaultRegisterer, cfg.ReportStore, archiveStats{archive}, func() string {
		return string(scans.Current().Phase)
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestIDMiddleware(), middleware.TracingMiddleware("domainscan"), middleware.LoggerMiddleware(logger))
	app.Engine = engine

	return app, nil
}

// Close stops the tracker and releases the archive and Redis connections.
func (app *Application) Close() error {
	if app.Scans != nil {
		app.Scans.Close()
	}
	if app.unregisterMetrics != nil {
		app.unregisterMetrics()
	}
	var errs []error
	if app.Archive != nil {
		if err := app.Archive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// release undoes a partially built Application, tracing included.
func (app *Application) release() {
	if err := app.Close(); err != nil {
		app.Logger.Warn("release after failed start", "err", err)
	}
	if app.TracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.TracingShutdown(ctx)
	}
}

type archiveStats struct {
	p persistence.PluginPersistence
}

func (a archiveStats) Count(ctx context.Context) (int64, error) {
	return a.p.ReportStorage().Count(ctx)
}
func (a archiveStats) Health(ctx context.Context) error { return a.p.Health(ctx) }
