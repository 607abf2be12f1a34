package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
)

const defaultElevenLabsURL = "https://api.elevenlabs.io"

// ElevenLabsClient implements SpeechSynthesizer using the ElevenLabs REST API
type ElevenLabsClient struct {
	apiKey     string
	apiURL     string
	modelID    string
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

// elevenLabsRequest is the request payload for the text-to-speech endpoint
type elevenLabsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

type elevenLabsError struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
}

// ElevenLabsOption customizes the client.
type ElevenLabsOption func(*ElevenLabsClient)

// WithBaseURL points the client at a different host (used in tests).
func WithBaseURL(u string) ElevenLabsOption {
	return func(c *ElevenLabsClient) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithGuard wraps calls with a breaker and retry policy.
func WithGuard(g *resilience.Guard) ElevenLabsOption {
	return func(c *ElevenLabsClient) { c.guard = g }
}

// NewElevenLabsClient creates a new ElevenLabs TTS client
func NewElevenLabsClient(apiKey, modelID string, logger zerolog.Logger, opts ...ElevenLabsOption) *ElevenLabsClient {
	c := &ElevenLabsClient{
		apiKey:     apiKey,
		apiURL:     defaultElevenLabsURL,
		modelID:    modelID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "elevenlabs").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize converts text to MP3 audio
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error) {
	if c.apiKey == "" {
		return nil, apperr.New(apperr.KindUnavailable, "TTS service not configured - missing API key")
	}

	payload, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.5,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var audio []byte
	err = c.guard.Do(ctx, func(ctx context.Context) error {
		data, err := c.do(ctx, voice, payload)
		if err != nil {
			return err
		}
		audio = data
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, apperr.Wrap(apperr.KindUnavailable, err, "TTS service temporarily unavailable")
	}
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func (c *ElevenLabsClient) do(ctx context.Context, voice Voice, payload []byte) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.apiURL, voice.VendorID())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindTransport, err, "TTS service temporarily unavailable")
	}
	defer resp.Body.Close()

	c.logger.Debug().Int("status", resp.StatusCode).Str("voice", string(voice)).Msg("ElevenLabs API response")

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransport, err, "failed to read audio response")
	}
	if len(audio) == 0 {
		return nil, apperr.New(apperr.KindTransport, "TTS service returned empty audio")
	}
	return audio, nil
}

func (c *ElevenLabsClient) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	c.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("ElevenLabs API error")

	message := "TTS service temporarily unavailable"
	var parsed elevenLabsError
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail.Message != "" {
		message = parsed.Detail.Message
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.New(apperr.KindRateLimit, message)
	case resp.StatusCode >= 500:
		return resilience.NewRetryableError(apperr.New(apperr.KindTransport, message))
	case resp.StatusCode == http.StatusUnauthorized:
		return apperr.New(apperr.KindUnavailable, message)
	default:
		return apperr.New(apperr.KindTransport, message)
	}
}
