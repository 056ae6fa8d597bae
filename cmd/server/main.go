package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shopify-analytics-agent/handler"
	"shopify-analytics-agent/internal/app"
	"shopify-analytics-agent/internal/config"
	"shopify-analytics-agent/internal/logging"
	"shopify-analytics-agent/internal/metrics"
)

func main() {
	envFile := flag.String("env", "", "path to a .env file exported before reading configuration")
	flag.Parse()

	if err := run(*envFile); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	routes := []string{handler.RouteAnalyze, handler.RouteValidateQuery, handler.RouteHealth}
	mux := http.NewServeMux()
	for _, r := range routes {
		mux.Handle(r, a.Handler)
	}
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           metrics.Middleware(routes...)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
