package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_LevelAndFields(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)

	logger.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("Expected info to be filtered at warn level, got %s", buf.String())
	}

	logger.Warn().Str("session_id", "s1").Msg("visible")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if entry["service"] != "meditation-gateway" || entry["session_id"] != "s1" {
		t.Errorf("Unexpected entry %v", entry)
	}
}

func TestNewLogger_UnknownLevelDefaultsToInfo(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	newLogger(&bytes.Buffer{}, "verbose", false)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestNewCorrelationID(t *testing.T) {
	if a, b := NewCorrelationID(), NewCorrelationID(); a == "" || a == b {
		t.Errorf("Expected unique correlation ids, got %q and %q", a, b)
	}
}
