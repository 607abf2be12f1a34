package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mindfulchat/meditation-gateway/internal/app"
	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/session"
	"github.com/mindfulchat/meditation-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("base_url", cfg.BaseURL()).
		Str("log_level", cfg.LogLevel).
		Bool("video_enabled", cfg.VideoEnabled).
		Bool("gist_publishing", cfg.GitHubGistToken != "").
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Meditation Gateway starting")

	services := app.Build(cfg, logger)

	sessions := session.NewManager(session.Deps{
		Config:   cfg,
		Speaker:  services.TTS,
		Blobs:    services.Blobs,
		Renderer: services.Tavus,
		ChatFor: func(accessToken string) session.ChatBackend {
			return services.Chat.ForUser(accessToken)
		},
		Logger: logger,
	})

	mux := http.NewServeMux()

	// Browser sessions
	mux.HandleFunc("/ws", sessions.Handler())

	// Text-to-speech function, also used directly by the web client
	mux.HandleFunc("/functions/v1/text-to-speech", tts.Handler(services.TTS))

	// Synthesized and uploaded audio
	mux.HandleFunc("GET /media/{id}", services.Blobs.Handler())

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(services.ReadinessChecks()))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No WriteTimeout: it would cut off long-lived /ws connections.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("sessions", sessions.Count()).Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked WebSocket connections are not closed by Shutdown.
	sessions.CloseAll()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
