// Command server runs the domainscan gateway: it accepts scan submissions,
// observes the remote analysis task and serves its progress over HTTP, SSE
// and websockets.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/legacy" // Register legacy contract
	_ "github.com/osvaldoandrade/domainscan/pkg/analysisapi/v1"     // Register v1 contract
	"github.com/osvaldoandrade/domainscan/pkg/app"
	_ "github.com/osvaldoandrade/domainscan/pkg/auth/static" // Register static token auth provider
	"github.com/osvaldoandrade/domainscan/pkg/config"
	_ "github.com/osvaldoandrade/domainscan/pkg/persistence/memory" // Register report stores
	_ "github.com/osvaldoandrade/domainscan/pkg/persistence/redis"
	_ "github.com/osvaldoandrade/domainscan/pkg/persistence/sqlite"
)

const shutdownGrace = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Getenv("DOMAINSCAN_CONFIG_PATH")); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.LoadConfigOptional(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	app.SetupMappings(application)
	log := application.Logger

	// No WriteTimeout: event streams stay open for the whole scan.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           application.Engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.Info("gateway starting", "addr", srv.Addr, "apiBaseUrl", cfg.APIBaseURL, "apiVersion", cfg.APIVersion,
		"observeMode", cfg.ObserveMode, "reportStore", cfg.ReportStore)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = application.Close()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("gateway stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	// Stopping the scan first ends open event streams so Shutdown can drain.
	application.Scans.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := application.Close(); err != nil {
		log.Warn("close application", "err", err)
	}
	if application.TracingShutdown != nil {
		_ = application.TracingShutdown(shutdownCtx)
	}
	return nil
}
