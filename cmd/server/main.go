// Human handoff service: escalates chatbot conversations to live agents.
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

	"github.com/admithub/handoff/internal/api"
	"github.com/admithub/handoff/internal/config"
	"github.com/admithub/handoff/internal/events"
	"github.com/admithub/handoff/internal/handoff"
	"github.com/admithub/handoff/internal/middleware"
	"github.com/admithub/handoff/internal/realtime"
	"github.com/admithub/handoff/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Event bus is optional; the service runs fine without a broker.
	var publisher handoff.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange, "handoff-service", logger)
		if err != nil {
			slog.Warn("Failed to connect to event bus, lifecycle events disabled", "error", err)
		} else {
			defer func() {
				if closeErr := amqpPublisher.Close(); closeErr != nil {
					slog.Error("Failed to close event bus connection", "error", closeErr)
				}
			}()
			publisher = amqpPublisher
			slog.Info("Event bus connected", "exchange", cfg.AMQPExchange)
		}
	}
	if publisher == nil {
		slog.Info("Lifecycle event publishing disabled (AMQP_URL not set or connection failed)")
	}

	// Initialize services.
	hub := realtime.NewHub()
	coord := handoff.NewCoordinator(repo, hub, publisher, cfg.HandoffTimeout)
	defer coord.Stop()
	defer hub.CloseAll()

	// Initialize handlers.
	handoffHandler := api.NewHandoffHandler(repo, coord)
	wsHandler := realtime.NewWebSocketHandler(hub, coord, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	corsOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	handoffHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/handoff", wsHandler.ServeHTTP)

	// Create server.
	// Note: WebSocket connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
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
