package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
)

func testConfig(supabaseURL string) *config.Config {
	return &config.Config{
		Port:                       "8080",
		ElevenLabsAPIKey:           "el-key",
		SupabaseURL:                supabaseURL,
		SupabaseAnonKey:            "anon",
		TTSMaxTextLength:           2000,
		TTSRateLimit:               5,
		TTSRateWindow:              time.Minute,
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
	}
}

func TestBuild_PublisherOnlyWithToken(t *testing.T) {
	cfg := testConfig("http://supabase.invalid")
	if s := Build(cfg, zerolog.Nop()); s.Publisher != nil {
		t.Error("Publisher should be nil without a gist token")
	}

	cfg.GitHubGistToken = "ghp_test"
	if s := Build(cfg, zerolog.Nop()); s.Publisher == nil {
		t.Error("Publisher should be set with a gist token")
	}
}

func TestBuild_MediaURLs(t *testing.T) {
	cfg := testConfig("http://supabase.invalid")
	cfg.PublicBaseURL = "https://gw.example"
	s := Build(cfg, zerolog.Nop())

	b := s.Blobs.Put([]byte("x"), "audio/mpeg")
	if got := s.Blobs.URL(b.ID); got != "https://gw.example/media/"+b.ID {
		t.Errorf("Unexpected blob URL %s", got)
	}
}

func TestNewGuard_OpensAfterConfiguredFailures(t *testing.T) {
	cfg := testConfig("")
	g := NewGuard(cfg, "test-service")

	fail := func(context.Context) error { return resilience.NewRetryableError(context.DeadlineExceeded) }
	_ = g.Do(context.Background(), fail)
	_ = g.Do(context.Background(), fail)

	if g.Breaker.GetState() != resilience.StateOpen {
		t.Errorf("Expected open breaker, got %v", g.Breaker.GetState())
	}
	if g.Retry.MaxAttempts != 1 || g.Retry.InitialBackoff != time.Millisecond {
		t.Errorf("Unexpected retry config %+v", g.Retry)
	}
}

func TestReadinessChecks_Supabase(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/health" || r.Header.Get("apikey") != "anon" {
			t.Errorf("Unexpected request %s", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	s := Build(testConfig(server.URL), zerolog.Nop())
	check := s.ReadinessChecks()["supabase"]

	if ok, err := check(context.Background()); !ok || err != nil {
		t.Errorf("Expected healthy, got %v, %v", ok, err)
	}
	healthy = false
	if ok, _ := check(context.Background()); ok {
		t.Error("Expected unhealthy")
	}
}
