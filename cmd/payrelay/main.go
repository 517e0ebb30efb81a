// payrelay batching relay
//
// Single-binary relay for NEP-141 token transfers on NEAR: accepts
// transfers over HTTP, coalesces them in a durable queue, and submits
// them to the chain in batched transactions.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "go.payrelay.dev/docs" // Swagger docs
	"go.payrelay.dev/internal/api"
	"go.payrelay.dev/internal/chain"
	"go.payrelay.dev/internal/chain/nearrpc"
	"go.payrelay.dev/internal/chain/neartx"
	"go.payrelay.dev/internal/common/health"
	"go.payrelay.dev/internal/common/lifecycle"
	"go.payrelay.dev/internal/config"
	"go.payrelay.dev/internal/events"
	"go.payrelay.dev/internal/executor"
	"go.payrelay.dev/internal/keystore"
	"go.payrelay.dev/internal/queue"
	"go.payrelay.dev/internal/validate"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Configure logging
	setupLogging()

	// "payrelay init-config [path]" writes an example config and exits
	if len(os.Args) > 1 && os.Args[1] == "init-config" {
		initConfig()
		return
	}

	slog.Info("Starting payrelay",
		"version", version,
		"build_time", buildTime)

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{
		NeedsStore: true,
	})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 2. EVENT BUS
	// ========================================
	bus := events.NewBus()

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.StoreCheck(func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return app.Store.Ping(pingCtx)
	}))

	if cfg.Events.Enabled {
		if err := setupForwarder(ctx, app, bus, healthChecker); err != nil {
			slog.Error("Failed to setup event forwarder", "error", err)
			os.Exit(1)
		}
	}

	// ========================================
	// 3. CHAIN ACCESS
	// ========================================
	rpcClient := nearrpc.New(&cfg.RPC)

	pingCtx, cancelPing := context.WithTimeout(ctx, 10*time.Second)
	if err := rpcClient.CheckHealth(pingCtx); err != nil {
		slog.Warn("NEAR node not reachable at startup", "url", cfg.RPC.URL, "error", err)
	}
	cancelPing()

	healthChecker.AddReadinessCheck(health.ChainRPCCheck(func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return rpcClient.CheckHealth(checkCtx)
	}))

	signer, params, err := setupSigner(ctx, cfg, rpcClient)
	if err != nil {
		slog.Error("Failed to setup signer", "error", err)
		os.Exit(1)
	}

	// ========================================
	// 4. COMPONENT WIRING
	// ========================================
	q := queue.New(app.Store, bus, &cfg.Queue)

	var checker api.RecipientChecker
	if cfg.Validation.Enabled {
		validator, err := validate.New(rpcClient, cfg.Chain.TokenContract, &cfg.Validation.Config)
		if err != nil {
			slog.Error("Failed to setup recipient validation", "error", err)
			os.Exit(1)
		}
		checker = validator
	}

	exec, err := executor.New(&cfg.Executor, q, signer, rpcClient, params, bus)
	if err != nil {
		slog.Error("Failed to setup executor", "error", err)
		os.Exit(1)
	}

	// A tick can legitimately take a full RPC round trip on top of the
	// configured interval before it counts as stale. A stalled tick loop
	// is a liveness failure: enqueues still work, so readiness stays up.
	staleAfter := 2 * (cfg.RPC.Timeout + cfg.Executor.Interval)
	healthChecker.AddLivenessCheck(health.ExecutorCheck(exec.Running, exec.LastTick, staleAfter))

	httpRouter := setupHTTPRouter(cfg, healthChecker, q, checker)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      httpRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ========================================
	// 5. SERVICE STARTUP
	// ========================================
	services := []lifecycle.Service{
		exec,
		lifecycle.NewHTTPService("http-server", httpServer),
	}

	slog.Info("payrelay ready",
		"port", cfg.HTTP.Port,
		"sender", cfg.Chain.SenderID,
		"tokenContract", cfg.Chain.TokenContract,
		"rpc", cfg.RPC.URL)

	// ========================================
	// 6. RUN UNTIL SHUTDOWN
	// ========================================
	if err := lifecycle.Run(ctx, services...); err != nil {
		slog.Error("Service error", "error", err)
		os.Exit(1)
	}

	slog.Info("payrelay stopped")
}

// setupLogging configures the slog default logger. Dev mode switches
// from JSON to human-readable output and enables debug logging.
func setupLogging() {
	if os.Getenv("PAYRELAY_DEV") == "true" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// initConfig writes an example config file and exits.
func initConfig() {
	path := "config.toml"
	if len(os.Args) > 2 {
		path = os.Args[2]
	}
	if err := config.WriteExampleConfig(path); err != nil {
		slog.Error("Failed to write config", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("Wrote example config", "path", path)
}

// setupForwarder connects the NATS event forwarder and attaches it to
// the bus.
func setupForwarder(ctx context.Context, app *lifecycle.App, bus *events.Bus, healthChecker *health.Checker) error {
	cfg := app.Config

	slog.Info("Connecting event forwarder", "url", cfg.Events.URL, "stream", cfg.Events.StreamName)

	fwd, err := events.NewForwarder(ctx, &cfg.Events.ForwarderConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	detach := fwd.Attach(bus)
	app.AddCleanup(func() error {
		detach()
		fwd.Close()
		return nil
	})

	healthChecker.AddReadinessCheck(health.NATSCheck(fwd.IsConnected))
	return nil
}

// setupSigner loads the signing key and builds the transaction signer.
func setupSigner(ctx context.Context, cfg *config.Config, rpcClient *nearrpc.Client) (*neartx.Signer, chain.Params, error) {
	keyProvider, err := keystore.NewProvider(&cfg.Signer)
	if err != nil {
		return nil, chain.Params{}, fmt.Errorf("failed to configure key provider: %w", err)
	}

	signingKey, err := keyProvider.Load(ctx)
	if err != nil {
		return nil, chain.Params{}, fmt.Errorf("failed to load signing key from %s: %w", keyProvider.Name(), err)
	}

	params := chain.DefaultParams(cfg.Chain.TokenContract)
	signer, err := neartx.NewSigner(cfg.Chain.SenderID, signingKey, params, rpcClient)
	if err != nil {
		return nil, chain.Params{}, fmt.Errorf("failed to build signer: %w", err)
	}

	slog.Info("Signer ready", "account", cfg.Chain.SenderID, "publicKey", signer.PublicKey())
	return signer, params, nil
}

// setupHTTPRouter creates the HTTP router with all routes and middleware.
func setupHTTPRouter(cfg *config.Config, healthChecker *health.Checker, q *queue.Queue, checker api.RecipientChecker) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(api.Metrics)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	r.Get("/q/health", healthChecker.HandleHealth)
	r.Get("/q/health/live", healthChecker.HandleLive)
	r.Get("/q/health/ready", healthChecker.HandleReady)

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/q/metrics", promhttp.Handler())

	// Mount API routes
	r.Route("/api", func(r chi.Router) {
		r.Mount("/transfers", api.NewTransferHandler(q, checker).Routes())
		r.Mount("/queue", api.NewQueueHandler(q).Routes())
	})

	return r
}
