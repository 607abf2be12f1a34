// Package app builds the process-wide service graph shared by the gateway
// server and the operator CLI.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/chat"
	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/publish"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
	"github.com/mindfulchat/meditation-gateway/internal/tts"
	"github.com/mindfulchat/meditation-gateway/internal/video"
)

// Services holds the clients for every remote dependency.
type Services struct {
	Config    *config.Config
	Blobs     *media.BlobStore
	Speech    *tts.ElevenLabsClient
	TTS       *tts.Service
	Publisher publish.AudioPublisher
	Chat      *chat.SupabaseClient
	Tavus     *video.TavusClient
}

// NewGuard returns the breaker and retry policy for one remote service.
// Breaker transitions and failures are exported as metrics.
func NewGuard(cfg *config.Config, service string) *resilience.Guard {
	retry := resilience.DefaultRetryConfig()
	if cfg.RetryMaxAttempts > 0 {
		retry.MaxAttempts = cfg.RetryMaxAttempts
	}
	if b := cfg.RetryBackoff(); b > 0 {
		retry.InitialBackoff = b
	}

	logger := observability.ForComponent("resilience")
	breaker := resilience.NewCircuitBreaker(service, cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset(),
		resilience.WithStateObserver(func(name string, state resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(state))
			logger.Warn().
				Str("service", name).
				Str("state", state.String()).
				Msg("Circuit breaker state changed")
		}),
		resilience.WithFailureObserver(observability.IncrementCircuitBreakerFailures),
	)
	return &resilience.Guard{Breaker: breaker, Retry: retry}
}

// Build wires every client from cfg.
func Build(cfg *config.Config, logger zerolog.Logger) *Services {
	s := &Services{Config: cfg}

	s.Blobs = media.NewBlobStore(cfg.BaseURL())
	s.Blobs.OnChange(observability.SetMediaBlobs)

	s.Speech = tts.NewElevenLabsClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsModelID, logger,
		tts.WithGuard(NewGuard(cfg, "elevenlabs")))

	if cfg.GitHubGistToken != "" {
		s.Publisher = publish.NewGistPublisher(cfg.GitHubGistToken, logger,
			publish.WithGistGuard(NewGuard(cfg, "github")))
	}

	limiter := tts.NewRateLimiter(cfg.TTSRateLimit, cfg.TTSRateWindow, cfg.TTSRateLimiterKeys, nil)
	var synth tts.SpeechSynthesizer
	if cfg.ElevenLabsAPIKey != "" {
		synth = s.Speech
	}
	s.TTS = tts.NewService(synth, s.Publisher, limiter, cfg.TTSMaxTextLength, logger)

	s.Chat = chat.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, logger,
		chat.WithSupabaseGuard(NewGuard(cfg, "supabase")))

	s.Tavus = video.NewTavusClient(logger, video.WithTavusGuard(NewGuard(cfg, "tavus")))
	return s
}

// ReadinessChecks returns the dependency checks served at /ready.
func (s *Services) ReadinessChecks() map[string]observability.HealthCheckFunc {
	return map[string]observability.HealthCheckFunc{
		"elevenlabs": func(context.Context) (bool, error) {
			if s.Config.ElevenLabsAPIKey == "" {
				return false, fmt.Errorf("ELEVENLABS_API_KEY not set")
			}
			return true, nil
		},
		"supabase": s.supabaseCheck,
	}
}

// supabaseCheck calls the auth health endpoint, which needs only the anon key.
func (s *Services) supabaseCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.Config.SupabaseURL+"/auth/v1/health", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("apikey", s.Config.SupabaseAnonKey)

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Errorf("supabase health returned %d", resp.StatusCode)
	}
	return true, nil
}
