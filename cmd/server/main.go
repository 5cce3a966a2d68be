// PeerMock - peer practice matchmaking and chat server
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
	"github.com/peermock/peermock/internal/api"
	"github.com/peermock/peermock/internal/chat"
	"github.com/peermock/peermock/internal/config"
	"github.com/peermock/peermock/internal/identity"
	"github.com/peermock/peermock/internal/match"
	"github.com/peermock/peermock/internal/middleware"
	"github.com/peermock/peermock/internal/prompt"
	"github.com/peermock/peermock/internal/store"
	"github.com/peermock/peermock/web"
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

	if err := repo.SeedPrompts(context.Background(), prompt.DefaultPrompts()); err != nil {
		slog.Error("Failed to seed prompts", "error", err)
		os.Exit(1)
	}

	// Queue entries left online by a previous process are orphans now;
	// release them before accepting traffic.
	if released, err := repo.ReleaseStaleAvailability(context.Background(), 0); err != nil {
		slog.Warn("Startup queue sweep failed", "error", err)
	} else if released > 0 {
		slog.Info("Startup queue sweep released entries", "count", released)
	}

	// Initialize services.
	matcher := match.NewMatcher(repo)
	hub := chat.NewHub()
	chatSvc := chat.NewService(repo, hub)
	assigner := prompt.NewAssigner(repo)

	var verifier *identity.TokenVerifier
	if cfg.AuthSecret != "" {
		verifier = identity.NewTokenVerifier(cfg.AuthSecret, cfg.AuthIssuer)
	}

	// Initialize handlers.
	handler := api.NewHandler(repo, matcher, chatSvc, assigner, match.Options{
		Interval:    cfg.Match.Interval,
		MaxAttempts: cfg.Match.MaxAttempts,
		Deadline:    cfg.Match.Deadline,
	})
	wsHandler := chat.NewWebSocketHandler(chatSvc, cfg.FrontendURL, cfg.IsDevelopment())

	r := newRouter(cfg, repo, handler, wsHandler, verifier)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout, message streams stay open
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	match.StartQueueSweeper(ctx, repo, cfg.QueueTTL)

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

// newRouter assembles the HTTP surface. Identity applies to the API and
// websocket groups only; the health endpoint and the embedded frontend stay
// reachable without a token, so a browser can load the app before it has one.
func newRouter(cfg *config.Config, repo store.Repository, handler *api.Handler, wsHandler *chat.WebSocketHandler, verifier *identity.TokenVerifier) chi.Router {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, verifier, cfg.IsDevelopment()))

		handler.RegisterRoutes(r)

		// WebSocket endpoint for live message delivery.
		r.Get("/ws/conversations/{id}", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	return r
}
