package main

import (
	"fmt"
	"os"

	"github.com/kumarabd/gokit/logger"

	"github.com/netwatch/analytics-core/internal/config"
	"github.com/netwatch/analytics-core/internal/metrics"
	"github.com/netwatch/analytics-core/pkg/alert"
	"github.com/netwatch/analytics-core/pkg/analytics"
	"github.com/netwatch/analytics-core/pkg/logstore"
	"github.com/netwatch/analytics-core/pkg/monitoring"
	"github.com/netwatch/analytics-core/pkg/ratelimit"
	"github.com/netwatch/analytics-core/pkg/server"
)

// main is the entry point of the application
func main() {
	// Initialize a new logger with the application name and syslog format
	log, err := logger.New(config.ApplicationName, logger.Options{
		Format: logger.SyslogLogFormat,
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Initialize a new configuration handler
	configHandler, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}

	// Initialize a new metrics handler with the application name as namespace
	metricsHandler, err := metrics.New(config.ApplicationName)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Connect to the log store
	store, err := logstore.New(configHandler.LogStore, log, metricsHandler)
	if err != nil {
		log.Error().Err(err).Msg("log store initialization failed")
		os.Exit(1)
	}
	log.Info().Msg("log store initialized")

	// Aggregation engine over the log store
	engine := monitoring.New(store, log)

	// Anomaly oracle client and the services built on it
	oracle := analytics.NewClient(configHandler.Oracle, log, metricsHandler)
	analyticsService := analytics.NewService(oracle, store, log)
	alertCache := alert.New(configHandler.Alerts, oracle, log, metricsHandler)

	// Rate limiter with its daily sweep
	limiter := ratelimit.New(configHandler.RateLimit, log)
	limiter.Start()

	// Create server instance
	srv, err := server.New(configHandler.Server, engine, analyticsService, alertCache, limiter, log, metricsHandler)
	if err != nil {
		log.Error().Err(err).Msg("server initialization failed")
		os.Exit(1)
	}
	log.Info().Msg("server initialized")

	// Run the server with graceful shutdown
	ch := make(chan struct{})
	srv.Start(ch)
	<-ch
	log.Info().Msg("server stopped")

	limiter.Close()
	log.Info().Msg("rate limiter stopped")
}
