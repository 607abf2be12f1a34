package cli

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/suggest"
)

func execute(t *testing.T, deps *Dependencies, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func noConfig() (*config.Config, error) {
	return nil, errors.New("config should not be loaded")
}

func TestSuggestCmd(t *testing.T) {
	reply := "Let's try a breathing exercise to ease your anxiety."
	out, err := execute(t, &Dependencies{LoadConfig: noConfig}, "suggest", reply)
	if err != nil {
		t.Fatalf("suggest failed: %v", err)
	}
	if !strings.Contains(out, "Topic: "+suggest.Topic(reply)) {
		t.Errorf("Missing topic in output:\n%s", out)
	}
	for i, q := range suggest.Generate(reply) {
		if !strings.Contains(out, q) {
			t.Errorf("Missing suggestion %d in output:\n%s", i+1, out)
		}
	}
}

func TestSpeakCmd_UnknownVoice(t *testing.T) {
	_, err := execute(t, &Dependencies{LoadConfig: noConfig}, "speak", "--voice", "Robot", "hello")
	if err == nil || !strings.Contains(err.Error(), "unknown voice") {
		t.Errorf("Expected unknown voice error, got %v", err)
	}
}

func TestVideoStatusCmd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "flag-key-000000000000" {
			t.Errorf("Expected key from flag, got %q", r.Header.Get("x-api-key"))
		}
		_, _ = w.Write([]byte(`{"status":"rendering"}`))
	}))
	defer server.Close()

	cfg := testConfig()
	deps := &Dependencies{LoadConfig: func() (*config.Config, error) { return cfg, nil }, Logger: zerolog.Nop()}
	services, err := deps.Services()
	if err != nil {
		t.Fatalf("Services() failed: %v", err)
	}
	services.Tavus = newTavusForTest(server.URL)

	out, err := execute(t, deps, "video", "status", "--api-key", "flag-key-000000000000", "v-1")
	if err != nil {
		t.Fatalf("video status failed: %v", err)
	}
	if !strings.Contains(out, "Video is being rendered...") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}

func TestVideoWaitCmd_Completed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed","hosted_url":"https://videos.example/v-1"}`))
	}))
	defer server.Close()

	cfg := testConfig()
	deps := &Dependencies{LoadConfig: func() (*config.Config, error) { return cfg, nil }, Logger: zerolog.Nop()}
	services, _ := deps.Services()
	services.Tavus = newTavusForTest(server.URL)

	out, err := execute(t, deps, "video", "wait", "v-1")
	if err != nil {
		t.Fatalf("video wait failed: %v", err)
	}
	if !strings.Contains(out, "Video is ready: https://videos.example/v-1") {
		t.Errorf("Unexpected output:\n%s", out)
	}
}
