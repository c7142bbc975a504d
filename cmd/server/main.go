// Kempenbot - insurance campaign chat server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/kempenbot/internal/config"
	"github.com/ashureev/kempenbot/internal/dialog"
	"github.com/ashureev/kempenbot/internal/domain"
	"github.com/ashureev/kempenbot/internal/flow"
	"github.com/ashureev/kempenbot/internal/middleware"
	"github.com/ashureev/kempenbot/internal/nlp"
	"github.com/ashureev/kempenbot/internal/server"
	"github.com/ashureev/kempenbot/internal/session"
	"github.com/ashureev/kempenbot/internal/sheet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	gateway, err := sheet.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := gateway.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	if err := gateway.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	flows, err := flow.LoadBuiltin()
	if err != nil {
		slog.Error("Failed to load campaign flows", "error", err)
		os.Exit(1)
	}
	slog.Info("Campaign flows loaded", "count", len(flows.All()))

	// Classifier is optional: when unreachable the machine degrades to
	// button-only matching instead of refusing to start.
	classifier := nlp.NewHTTPClient(nlp.HTTPClientConfig{
		BaseURL:        cfg.ClassifierURL,
		RequestTimeout: cfg.ClassifierTimeout,
	}, logger)
	healthCtx, cancelHealth := context.WithTimeout(context.Background(), 3*time.Second)
	if err := classifier.Health(healthCtx); err != nil {
		slog.Warn("Classifier unreachable, free-text matching degraded", "error", err)
	} else {
		slog.Info("Classifier connected", "url", cfg.ClassifierURL)
	}
	cancelHealth()

	dialogCfg := dialog.Config{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		ClassifyTimeout:     cfg.ClassifierTimeout,
		PersistTimeout:      cfg.PersistTimeout,
		DedupWindow:         cfg.DedupWindow,
		DedupSize:           cfg.DedupSize,
	}
	registry := session.NewRegistry(session.Config{
		ReconnectGrace: cfg.ReconnectGrace,
		IdleTTL:        cfg.SessionIdleTTL,
		SweepInterval:  cfg.SweepInterval,
	}, func(sess *domain.Session) *dialog.Machine {
		return dialog.New(sess, flows, classifier, gateway, dialogCfg, logger)
	}, logger)

	// Initialize handlers.
	wsHandler := server.NewWebSocketHandler(registry, cfg.FrontendURL, cfg.IsDevelopment(), cfg.OutboundQueueSize)
	healthHandler := server.NewHealthHandler(gateway, registry)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterHealth(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// WebSocket sessions stay open indefinitely, so no WriteTimeout.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry.StartSweeper(ctx)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
