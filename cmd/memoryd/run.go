package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/config"
	"github.com/fyrsmithlabs/memoryd/internal/embedclient"
	"github.com/fyrsmithlabs/memoryd/internal/logging"
	"github.com/fyrsmithlabs/memoryd/internal/memorycore"
	"github.com/fyrsmithlabs/memoryd/internal/normalizeclient"
	"github.com/fyrsmithlabs/memoryd/internal/telemetry"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

// run loads configuration, wires the memory-core pipeline to its backing
// services, and blocks until ctx is cancelled.
//
// Initialization order:
//  1. Load and validate configuration
//  2. Initialize telemetry, then the logger (so the logger can emit to OTEL)
//  3. Connect the vector repository
//  4. Build the embed/normalize HTTP clients
//  5. Construct the memory core, ensure the default collection exists via
//     Startup, and run until shutdown
func run(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	logger, err := logging.NewLogger(loggingConfig(cfg), tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	zlog := logger.Underlying()
	zlog.Info("starting memoryd",
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("qdrant_host", cfg.Services.Qdrant.Host),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	store, err := vectorstore.NewQdrantRepository(cfg.QdrantConfig())
	if err != nil {
		return fmt.Errorf("connect vector repository: %w", err)
	}

	embed := embedclient.New(cfg.EmbedClientConfig())
	normalize := normalizeclient.New(cfg.NormalizeClientConfig())

	core := memorycore.New(embed, normalize, store, cfg.MemoryCoreConfig(), zlog)
	if err := core.Startup(ctx); err != nil {
		return fmt.Errorf("start memory core: %w", err)
	}
	zlog.Info("memory core ready",
		zap.String("collection", cfg.Collection.Name),
		zap.Int("vector_size", cfg.Collection.VectorSize))

	<-ctx.Done()

	zlog.Info("shutting down memoryd")
	if err := core.Shutdown(); err != nil {
		zlog.Error("memory core shutdown error", zap.Error(err))
	}
	return nil
}

// telemetryConfig derives internal/telemetry's config from the top-level
// observability section.
func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	tc.Endpoint = cfg.Observability.OTLPEndpoint
	tc.ServiceName = cfg.Observability.ServiceName
	tc.Insecure = cfg.Observability.OTLPInsecure
	if tc.Endpoint == "" {
		tc.Endpoint = "localhost:4317"
	}
	return tc
}

// loggingConfig derives internal/logging's config from the top-level
// observability section.
func loggingConfig(cfg *config.Config) *logging.Config {
	lc := logging.NewDefaultConfig()
	lc.Fields["service"] = cfg.Observability.ServiceName
	if cfg.Observability.EnableTelemetry {
		lc.Output.OTEL = true
	}
	return lc
}
