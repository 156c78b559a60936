// Nethra - continuous behavioral trust for mobile banking
package main

import (
	"context"
	"os"
	"time"

	"github.com/shxrxn/nethra-trust/internal/config"
	"github.com/shxrxn/nethra-trust/internal/logging"
	"github.com/shxrxn/nethra-trust/internal/server"
	"github.com/shxrxn/nethra-trust/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting nethra",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"remote_scorer", cfg.RemoteScorerURL != "",
		"sync_interval", cfg.SyncInterval,
	)

	ctx := context.Background()

	// Tracing (no-op when OTEL_EXPORTER_OTLP_ENDPOINT is unset)
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTraces(shutdownCtx); err != nil {
				logger.Warn("trace exporter shutdown", "error", err)
			}
		}()
	}

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
