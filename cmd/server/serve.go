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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/manpreetbhatti/doodledock/backend/internal/api"
	"github.com/manpreetbhatti/doodledock/backend/internal/auth"
	"github.com/manpreetbhatti/doodledock/backend/internal/config"
	"github.com/manpreetbhatti/doodledock/backend/internal/db"
	"github.com/manpreetbhatti/doodledock/backend/internal/directory"
	"github.com/manpreetbhatti/doodledock/backend/internal/observability"
	"github.com/manpreetbhatti/doodledock/backend/internal/retention"
	"github.com/manpreetbhatti/doodledock/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the realtime server",
		Long: `Start the websocket session server and its read-only HTTP API.

Graceful shutdown is handled on SIGINT/SIGTERM: every live connection is
closed before the HTTP server stops.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{Level: level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer database.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	gate := auth.NewGate(tokens, database)

	rt := cfg.Realtime
	hub := ws.NewHub(directory.New(database), database, ws.Config{
		HeartbeatInterval:   rt.HeartbeatInterval,
		DrawThrottle:        rt.DrawThrottle,
		CursorThrottle:      rt.CursorThrottle,
		CollaboratorTimeout: rt.CollaboratorTimeout,
		MessagesPerSecond:   rt.MessagesPerSecond,
		MessageBurst:        rt.MessageBurst,
		Logger:              logger,
		Metrics:             metrics,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	if cfg.Retention.Enabled {
		svc := retention.New(database, retention.Config{
			Interval:     cfg.Retention.Interval,
			KeepMessages: cfg.Retention.KeepMessages,
			Logger:       logger,
		})
		svc.Start()
		defer svc.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(hub, gate, ws.HandlerConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SendBuffer:     rt.SendBuffer,
		MaxMessageSize: rt.MaxMessageSize,
	}))
	api.New(hub, database, logger).Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			"addr", server.Addr,
			"database", cfg.Database.Path,
			"endpoints", []string{"/ws?token={jwt}", "GET /health", "GET /api/stats", "GET /api/rooms", "GET /api/rooms/{id}/messages", "GET /metrics"},
		)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-sigCtx.Done():
	}

	logger.Info("shutting down server")
	stopHub()
	<-hub.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
		return err
	}
	fmt.Fprintln(os.Stderr, "server stopped")
	return nil
}
