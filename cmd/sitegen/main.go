package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sitegen/internal/api"
	"sitegen/internal/config"
	"sitegen/internal/generate"
	"sitegen/internal/llm"
	"sitegen/internal/logger"
	"sitegen/internal/models"
	"sitegen/internal/observability"
	"sitegen/internal/ratelimit"
	"sitegen/internal/store"
	"sitegen/internal/version"
)

var (
	configFile   = flag.String("config", "", "Path to configuration file")
	writeExample = flag.String("write-example-config", "", "Write an example configuration file to this path and exit")
	printVersion = flag.Bool("version", false, "Print version information and exit")
)

const startupPingTimeout = 5 * time.Second

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *printVersion {
		fmt.Println(ver.String())
		return
	}

	if *writeExample != "" {
		if err := config.SaveExample(*writeExample); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the counter store
	counterStore, err := initializeStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer counterStore.Close()

	limiter, err := initializeLimiter(cfg, counterStore)
	if err != nil {
		slog.Error("Failed to initialize rate limiter", "error", err)
		os.Exit(1)
	}

	if cfg.LLM.APIKey == "" {
		slog.Warn("No LLM API key configured; requests to the provider will fail")
	}
	llmClient := llm.NewAnthropicClient(cfg.LLM, ver)
	generateService := generate.NewService(llmClient, cfg.LLM)

	handlers := api.NewHandlers(generateService,
		api.WithStore(counterStore),
		api.WithVersion(ver),
		api.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, limiter, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server",
			"addr", server.Addr,
			"store", cfg.Store.Type,
			"requests_per_window", cfg.RateLimit.RequestsPerWindow,
			"window", cfg.RateLimit.Window())

		var err error
		if cfg.Server.TLSEnabled {
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeStore creates the counter store, wraps it with instrumentation
// when metrics are enabled and checks connectivity. An unreachable store is
// only a warning: admission fails open until it comes back.
func initializeStore(cfg *models.Config) (store.Store, error) {
	factory := store.NewFactory()
	if err := factory.ValidateConfig(cfg.Store); err != nil {
		return nil, err
	}

	inner, err := factory.Create(cfg.Store)
	if err != nil {
		return nil, err
	}

	var s store.Store = inner
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(inner, cfg.Store.Type)
		if err != nil {
			inner.Close()
			return nil, fmt.Errorf("failed to instrument counter store: %w", err)
		}
		s = instrumented
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupPingTimeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		slog.Warn("Counter store unreachable at startup; admitting requests until it recovers",
			"store", cfg.Store.Type, "error", err)
	}

	return s, nil
}

// initializeLimiter builds the admission limiter. It returns nil when rate
// limiting is disabled, which leaves the generation routes ungated.
func initializeLimiter(cfg *models.Config, s store.Store) (ratelimit.Admitter, error) {
	if !cfg.RateLimit.Enabled {
		slog.Warn("Rate limiting is disabled")
		return nil, nil
	}

	opts := []ratelimit.Option{ratelimit.WithLogger(slog.Default())}
	if cfg.Metrics.Enabled {
		admissions, err := observability.NewAdmissionMetrics()
		if err != nil {
			return nil, fmt.Errorf("failed to create admission metrics: %w", err)
		}
		opts = append(opts, ratelimit.WithObserver(admissions))
	}

	limiter, err := ratelimit.NewLimiter(s, ratelimit.Policy{
		Limit:        int64(cfg.RateLimit.RequestsPerWindow),
		Window:       cfg.RateLimit.Window(),
		StoreTimeout: cfg.RateLimit.StoreTimeout,
	}, opts...)
	if err != nil {
		return nil, err
	}
	return limiter, nil
}
