package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

type fakeSynth struct {
	calls int
	voice Voice
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, voice Voice) ([]byte, error) {
	f.calls++
	f.voice = voice
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + text), nil
}

type fakePublisher struct {
	url string
	err error
}

func (f *fakePublisher) Publish(context.Context, string) (string, error) {
	return f.url, f.err
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/functions/v1/text-to-speech", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Success(t *testing.T) {
	synth := &fakeSynth{}
	svc := NewService(synth, &fakePublisher{url: "https://gist.example/raw"}, nil, 2000, zerolog.Nop())

	rec := post(t, Handler(svc), `{"text":"Relax","voice":"Lavender","userId":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	audio, _ := base64.StdEncoding.DecodeString(resp.Audio)
	if string(audio) != "audio:Relax" {
		t.Errorf("Unexpected audio %q", audio)
	}
	if resp.PublicURL == nil || *resp.PublicURL != "https://gist.example/raw" {
		t.Errorf("Unexpected publicUrl %v", resp.PublicURL)
	}
	if synth.voice != VoiceLavender {
		t.Errorf("Expected Lavender, got %s", synth.voice)
	}
}

func TestHandler_PublishFailureLeavesURLNull(t *testing.T) {
	svc := NewService(&fakeSynth{}, &fakePublisher{err: errors.New("gist down")}, nil, 2000, zerolog.Nop())

	rec := post(t, Handler(svc), `{"text":"Relax"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"publicUrl":null`) {
		t.Errorf("Expected null publicUrl, got %s", rec.Body.String())
	}
}

func TestHandler_UnknownVoiceFallsBackToDefault(t *testing.T) {
	synth := &fakeSynth{}
	svc := NewService(synth, nil, nil, 2000, zerolog.Nop())

	post(t, Handler(svc), `{"text":"Relax","voice":"Nobody"}`)
	if synth.voice != DefaultVoice {
		t.Errorf("Expected default voice, got %s", synth.voice)
	}
}

func TestHandler_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		synth  SpeechSynthesizer
		body   string
		status int
		errMsg string
	}{
		{"missing text", &fakeSynth{}, `{"text":""}`, http.StatusBadRequest, MsgTextRequired},
		{"text too long", &fakeSynth{}, `{"text":"` + strings.Repeat("a", 2001) + `"}`, http.StatusBadRequest, MsgTextTooLong},
		{"malformed body", &fakeSynth{}, `{`, http.StatusBadRequest, "Invalid request body"},
		{"unconfigured", nil, `{"text":"hi"}`, http.StatusServiceUnavailable, "TTS service not configured - missing API key"},
		{"vendor failure", &fakeSynth{err: apperr.New(apperr.KindTransport, "TTS service temporarily unavailable")}, `{"text":"hi"}`, http.StatusBadGateway, "TTS service temporarily unavailable"},
		{"vendor rate limit", &fakeSynth{err: apperr.New(apperr.KindRateLimit, "slow down")}, `{"text":"hi"}`, http.StatusTooManyRequests, "slow down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.synth, nil, nil, 2000, zerolog.Nop())
			rec := post(t, Handler(svc), tt.body)
			if rec.Code != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, rec.Code)
			}
			var body map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body["error"] != tt.errMsg {
				t.Errorf("Expected error %q, got %q", tt.errMsg, body["error"])
			}
		})
	}
}

func TestHandler_RateLimitBeforeValidation(t *testing.T) {
	c := clock.NewFake(time.Unix(0, 0))
	synth := &fakeSynth{}
	svc := NewService(synth, nil, NewRateLimiter(5, time.Minute, 100, c), 2000, zerolog.Nop())
	h := Handler(svc)

	for i := 0; i < 5; i++ {
		if rec := post(t, h, `{"text":"hi","userId":"u1"}`); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	// Even an invalid request is counted and rejected once the window is full.
	rec := post(t, h, `{"text":"","userId":"u1"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), MsgRateLimited) {
		t.Errorf("Unexpected body %s", rec.Body.String())
	}

	// Anonymous requests bypass the limiter.
	if rec := post(t, h, `{"text":"hi"}`); rec.Code != http.StatusOK {
		t.Errorf("Expected anonymous request to pass, got %d", rec.Code)
	}
	if synth.calls != 6 {
		t.Errorf("Expected 6 synthesis calls, got %d", synth.calls)
	}
}

func TestHandler_Preflight(t *testing.T) {
	svc := NewService(&fakeSynth{}, nil, nil, 2000, zerolog.Nop())
	req := httptest.NewRequest(http.MethodOptions, "/functions/v1/text-to-speech", nil)
	rec := httptest.NewRecorder()
	Handler(svc).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("Unexpected preflight response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Methods") != "POST, OPTIONS" {
		t.Error("Expected allowed methods header")
	}
}
