package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the meditation gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service, used to build media URLs handed to
	// clients. Optional; if unset, http://localhost:PORT is used.
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:""`

	// ElevenLabs TTS configuration
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`
	DefaultVoice      string `envconfig:"DEFAULT_VOICE" default:"Drew"`

	// Text-to-speech function limits
	TTSMaxTextLength   int           `envconfig:"TTS_MAX_TEXT_LENGTH" default:"2000"`   // characters
	TTSRateLimit       int           `envconfig:"TTS_RATE_LIMIT" default:"5"`           // requests per window per user
	TTSRateWindow      time.Duration `envconfig:"TTS_RATE_WINDOW" default:"60s"`
	TTSRateLimiterKeys int           `envconfig:"TTS_RATE_LIMITER_KEYS" default:"10000"` // tracked users before eviction

	// GitHub gist publication of synthesized audio. Optional.
	GitHubGistToken string `envconfig:"GITHUB_GIST_TOKEN" default:""`

	// Supabase chat backend
	SupabaseURL     string `envconfig:"SUPABASE_URL" required:"true"`
	SupabaseAnonKey string `envconfig:"SUPABASE_ANON_KEY" required:"true"`

	// Tavus video generation
	VideoEnabled      bool          `envconfig:"VIDEO_ENABLED" default:"true"`
	TavusAPIKey       string        `envconfig:"TAVUS_API_KEY" default:""` // fallback when the user has none
	TavusReplicaID    string        `envconfig:"TAVUS_REPLICA_ID" default:"rca8a38779a8"`
	VideoPollInterval time.Duration `envconfig:"VIDEO_POLL_INTERVAL" default:"15s"`
	VideoHorizon      time.Duration `envconfig:"VIDEO_HORIZON" default:"90m"`

	// Background music
	DefaultMusicURL     string  `envconfig:"DEFAULT_MUSIC_URL" default:"https://obgbnrasiyozdnmoixxx.supabase.co/storage/v1/object/public/music//piano.mp3"`
	DefaultMusicName    string  `envconfig:"DEFAULT_MUSIC_NAME" default:"Default Piano Music"`
	MusicMaxUploadBytes int64   `envconfig:"MUSIC_MAX_UPLOAD_BYTES" default:"52428800"`
	MusicDefaultVolume  float64 `envconfig:"MUSIC_DEFAULT_VOLUME" default:"0.3"`
	MusicUnmuteVolume   float64 `envconfig:"MUSIC_UNMUTE_VOLUME" default:"0.7"`

	// Narration
	NarrationDebounce time.Duration `envconfig:"NARRATION_DEBOUNCE" default:"300ms"`

	// Per-user settings persistence
	SettingsDir string `envconfig:"SETTINGS_DIR" default:"./data/settings"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.ElevenLabsAPIKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if c.MusicDefaultVolume < 0 || c.MusicDefaultVolume > 1 {
		return fmt.Errorf("MUSIC_DEFAULT_VOLUME must be between 0 and 1, got %v", c.MusicDefaultVolume)
	}
	if c.TTSRateLimit <= 0 {
		return fmt.Errorf("TTS_RATE_LIMIT must be positive, got %d", c.TTSRateLimit)
	}
	if c.VideoPollInterval <= 0 {
		return fmt.Errorf("VIDEO_POLL_INTERVAL must be positive, got %s", c.VideoPollInterval)
	}
	return nil
}

// BaseURL returns the externally reachable base URL of this service
func (c *Config) BaseURL() string {
	if c.PublicBaseURL != "" {
		return c.PublicBaseURL
	}
	return "http://localhost:" + c.Port
}

// CircuitBreakerReset returns the breaker reset timeout as a duration
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff returns the initial retry backoff as a duration
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
