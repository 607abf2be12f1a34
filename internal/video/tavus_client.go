package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
)

const defaultTavusURL = "https://tavusapi.com"

// SubmitRequest describes a render. Exactly one of Script or AudioURL is
// normally set.
type SubmitRequest struct {
	ReplicaID string `json:"replica_id"`
	Script    string `json:"script,omitempty"`
	AudioURL  string `json:"audio_url,omitempty"`
	VideoName string `json:"video_name"`
}

// Renderer submits and inspects video jobs.
type Renderer interface {
	Submit(ctx context.Context, apiKey string, req SubmitRequest) (string, error)
	Status(ctx context.Context, apiKey, videoID string) (Report, error)
}

// TavusClient implements Renderer using the Tavus REST API
type TavusClient struct {
	apiURL     string
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

type TavusOption func(*TavusClient)

// WithTavusURL points the client at a different host (used in tests).
func WithTavusURL(u string) TavusOption {
	return func(c *TavusClient) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithTavusGuard wraps submissions with a breaker and retry policy. Status
// polls are never retried.
func WithTavusGuard(g *resilience.Guard) TavusOption {
	return func(c *TavusClient) { c.guard = g }
}

func NewTavusClient(logger zerolog.Logger, opts ...TavusOption) *TavusClient {
	c := &TavusClient{
		apiURL:     defaultTavusURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "tavus").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit starts a render and returns its video id.
func (c *TavusClient) Submit(ctx context.Context, apiKey string, sr SubmitRequest) (string, error) {
	if apiKey == "" {
		return "", apperr.New(apperr.KindUnavailable, "Video service not configured - missing API key")
	}
	body, err := json.Marshal(sr)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var out struct {
		VideoID string `json:"video_id"`
	}
	// Not retried: a 5xx may arrive after the render was accepted.
	err = c.guard.Once(ctx, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, "/v2/videos", apiKey, body, &out, "Tavus API error")
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", apperr.Wrap(apperr.KindUnavailable, err, "Video service temporarily unavailable")
	}
	if err != nil {
		return "", err
	}
	if out.VideoID == "" {
		return "", apperr.New(apperr.KindTransport, "No video ID returned from Tavus API")
	}
	c.logger.Info().Str("video_id", out.VideoID).Str("video_name", sr.VideoName).Msg("Video submitted")
	return out.VideoID, nil
}

// Status fetches the current job status.
func (c *TavusClient) Status(ctx context.Context, apiKey, videoID string) (Report, error) {
	if apiKey == "" {
		return Report{}, apperr.New(apperr.KindUnavailable, "Video service not configured - missing API key")
	}
	var r Report
	err := c.do(ctx, http.MethodGet, "/v2/videos/"+url.PathEscape(videoID), apiKey, nil, &r, "Status check failed")
	if err != nil {
		return Report{}, err
	}
	c.logger.Debug().Str("video_id", videoID).Str("status", string(r.Status)).Msg("Video status")
	return r, nil
}

func (c *TavusClient) do(ctx context.Context, method, path, apiKey string, body []byte, out any, failure string) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.KindTransport, err, failure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(detail)).Msg(failure)
		msg := fmt.Sprintf("%s: %d", failure, resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return apperr.New(apperr.KindRateLimit, msg)
		case resp.StatusCode >= 500:
			return resilience.NewRetryableError(apperr.New(apperr.KindTransport, msg))
		default:
			return apperr.New(apperr.KindTransport, msg)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindTransport, err, "failed to decode Tavus response")
	}
	return nil
}
