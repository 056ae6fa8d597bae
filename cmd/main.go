package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"shopify-analytics-agent/internal/app"
	"shopify-analytics-agent/internal/config"
	"shopify-analytics-agent/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build agent", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	lambda.Start(a.Handler.Handle)
}
