package tts

import (
	"context"
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/publish"
)

const (
	MsgTextRequired = "Text is required"
	MsgTextTooLong  = "Text too long for TTS conversion"
	MsgRateLimited  = "Too many TTS requests. Please try again later."
)

// Service validates, rate limits and synthesizes speech, then publishes the
// audio when a publisher is configured.
type Service struct {
	synth         SpeechSynthesizer
	publisher     publish.AudioPublisher
	limiter       *RateLimiter
	maxTextLength int
	logger        zerolog.Logger
}

// NewService wires a Service. publisher and limiter may be nil.
func NewService(synth SpeechSynthesizer, publisher publish.AudioPublisher, limiter *RateLimiter, maxTextLength int, logger zerolog.Logger) *Service {
	if maxTextLength <= 0 {
		maxTextLength = 2000
	}
	return &Service{
		synth:         synth,
		publisher:     publisher,
		limiter:       limiter,
		maxTextLength: maxTextLength,
		logger:        logger.With().Str("component", "tts").Logger(),
	}
}

// Speak handles one synthesis request. Requests without a user id are not
// rate limited.
func (s *Service) Speak(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := s.speak(ctx, req)
	status := "success"
	if err != nil {
		status = apperr.KindOf(err).String()
	}
	observability.RecordTTSRequest(status, time.Since(start))
	return res, err
}

func (s *Service) speak(ctx context.Context, req Request) (*Result, error) {
	voice, ok := ParseVoice(req.Voice)
	if !ok {
		voice = DefaultVoice
	}
	logger := s.logger.With().
		Str("voice", string(voice)).
		Int("text_length", utf8.RuneCountInString(req.Text)).
		Str("user_id", req.UserID).
		Logger()
	logger.Info().Msg("TTS request received")

	if req.UserID != "" && s.limiter != nil && !s.limiter.Allow("tts_"+req.UserID) {
		logger.Warn().Msg("TTS rate limit exceeded")
		observability.RecordRateLimited("tts")
		return nil, apperr.New(apperr.KindRateLimit, MsgRateLimited)
	}
	if req.Text == "" {
		return nil, apperr.New(apperr.KindValidation, MsgTextRequired)
	}
	if n := utf8.RuneCountInString(req.Text); n > s.maxTextLength {
		logger.Error().Int("max", s.maxTextLength).Msg("Text too long for TTS")
		return nil, apperr.New(apperr.KindValidation, MsgTextTooLong)
	}
	if s.synth == nil {
		return nil, apperr.New(apperr.KindUnavailable, "TTS service not configured - missing API key")
	}

	audio, err := s.synth.Synthesize(ctx, req.Text, voice)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("Speech synthesis failed")
			observability.RecordError(apperr.KindOf(err).String(), "tts")
		}
		return nil, err
	}

	result := &Result{Audio: audio}
	if s.publisher != nil {
		url, err := s.publisher.Publish(ctx, base64.StdEncoding.EncodeToString(audio))
		if err != nil {
			logger.Warn().Err(err).Msg("Audio publication failed, continuing without public URL")
		} else {
			result.PublicURL = url
		}
	}

	logger.Info().Int("audio_bytes", len(audio)).Bool("published", result.PublicURL != "").Msg("TTS conversion successful")
	return result, nil
}
