package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/setu/events-api/internal/auth"
	"github.com/setu/events-api/internal/config"
	"github.com/setu/events-api/internal/events"
	"github.com/setu/events-api/internal/http/handlers/event"
	"github.com/setu/events-api/internal/http/middleware"
	"github.com/setu/events-api/internal/metrics"
	"github.com/setu/events-api/internal/storage"
	"github.com/setu/events-api/internal/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log.Info("starting setu-events",
		slog.String("env", cfg.Env),
		slog.String("driver", cfg.Storage.Driver),
	)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialise storage: %w", err)
	}
	defer store.Close()
	log.Info("storage initialised", slog.String("driver", cfg.Storage.Driver))

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	svc := events.NewService(store)

	server := &http.Server{
		Addr:         cfg.HTTPServer.Addr,
		Handler:      newRouter(svc, store, jwtManager, cfg.HTTPServer.RateLimitPerMinute, log),
		ReadTimeout:  cfg.HTTPServer.ReadTimeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", slog.String("address", cfg.HTTPServer.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-done:
	}

	log.Info("shutdown signal received, stopping server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// newRouter wires the route table. Reads are public; everything that
// mutates requires a bearer token.
func newRouter(svc *events.Service, store storage.Storage, authn middleware.Authenticator, perMinute int, log *slog.Logger) http.Handler {
	router := http.NewServeMux()
	authed := middleware.Authenticate(authn)

	router.HandleFunc("GET /api/health", event.Health(store))
	router.Handle("GET /metrics", metrics.Handler())

	router.HandleFunc("GET /api/events", event.GetList(svc))
	router.HandleFunc("GET /api/events/{id}", event.GetByID(svc))
	router.Handle("POST /api/events", authed(event.New(svc)))
	router.Handle("PUT /api/events/{id}", authed(event.Update(svc)))
	router.Handle("DELETE /api/events/{id}", authed(event.Delete(svc)))
	router.Handle("POST /api/events/{id}/register", authed(event.Register(svc)))
	router.Handle("GET /api/events/my/registrations",
		authed(middleware.RequireRole(types.RoleStudent)(event.MyRegistrations(svc))))

	return middleware.RequestID(middleware.Logger(log)(middleware.RateLimit(perMinute)(router)))
}
