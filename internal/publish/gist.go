package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
)

const defaultGistAPIURL = "https://api.github.com/gists"

// GistPublisher stores audio as a public GitHub gist and returns the raw URL
// of the audio file.
type GistPublisher struct {
	token      string
	apiURL     string
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
	now        func() time.Time
}

type gistFile struct {
	Content string `json:"content"`
}

type gistRequest struct {
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]gistFile `json:"files"`
}

type gistResponse struct {
	Files map[string]struct {
		RawURL string `json:"raw_url"`
	} `json:"files"`
}

// GistOption customizes a GistPublisher.
type GistOption func(*GistPublisher)

// WithGistAPIURL overrides the GitHub endpoint (used in tests).
func WithGistAPIURL(u string) GistOption {
	return func(p *GistPublisher) { p.apiURL = u }
}

// WithGistGuard wraps uploads with a breaker and retry policy.
func WithGistGuard(g *resilience.Guard) GistOption {
	return func(p *GistPublisher) { p.guard = g }
}

// WithGistClock overrides the time source used for file names.
func WithGistClock(now func() time.Time) GistOption {
	return func(p *GistPublisher) { p.now = now }
}

// NewGistPublisher creates a publisher authenticated with token.
func NewGistPublisher(token string, logger zerolog.Logger, opts ...GistOption) *GistPublisher {
	p := &GistPublisher{
		token:      token,
		apiURL:     defaultGistAPIURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "gist_publisher").Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish uploads the base64 audio as a gist file.
func (p *GistPublisher) Publish(ctx context.Context, audioBase64 string) (string, error) {
	if p.token == "" {
		return "", apperr.New(apperr.KindUnavailable, "GitHub token not configured")
	}

	now := p.now().UTC()
	fileName := fmt.Sprintf("tts_audio_%d.mp3", now.UnixMilli())
	stamp := now.Format(time.RFC3339)

	body, err := json.Marshal(gistRequest{
		Description: "TTS Audio - " + stamp,
		Public:      true,
		Files: map[string]gistFile{
			fileName: {Content: audioBase64},
			"README.md": {Content: "# TTS Audio File\n\nGenerated on: " + stamp +
				"\n\nThis is a temporary audio file for text-to-speech functionality."},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal gist: %w", err)
	}

	var rawURL string
	err = p.guard.Do(ctx, func(ctx context.Context) error {
		u, err := p.create(ctx, body, fileName)
		if err != nil {
			return err
		}
		rawURL = u
		return nil
	})
	if err != nil {
		return "", err
	}

	p.logger.Info().Str("file", fileName).Msg("Audio published to gist")
	return rawURL, nil
}

func (p *GistPublisher) create(ctx context.Context, body []byte, fileName string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Authorization", "token "+p.token)
	req.Header.Set("User-Agent", "TTS-Audio-Service")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransport, err, "gist upload failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn().Int("status", resp.StatusCode).Str("body", string(detail)).Msg("GitHub API error")
		kind := apperr.KindTransport
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = apperr.KindRateLimit
		}
		return "", apperr.New(kind, fmt.Sprintf("GitHub API error: status %d", resp.StatusCode))
	}

	var gist gistResponse
	if err := json.NewDecoder(resp.Body).Decode(&gist); err != nil {
		return "", apperr.Wrap(apperr.KindTransport, err, "failed to decode gist response")
	}
	f, ok := gist.Files[fileName]
	if !ok || f.RawURL == "" {
		return "", apperr.New(apperr.KindTransport, "gist response missing raw_url")
	}
	return f.RawURL, nil
}
