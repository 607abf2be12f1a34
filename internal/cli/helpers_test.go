package cli

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/video"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "8080",
		ElevenLabsAPIKey:  "el-key",
		SupabaseURL:       "http://supabase.invalid",
		SupabaseAnonKey:   "anon",
		TavusAPIKey:       "env-key-0000000000000",
		TavusReplicaID:    "rca8a38779a8",
		TTSMaxTextLength:  2000,
		TTSRateLimit:      5,
		TTSRateWindow:     time.Minute,
		VideoPollInterval: time.Second,
		VideoHorizon:      time.Hour,
	}
}

func newTavusForTest(url string) *video.TavusClient {
	return video.NewTavusClient(zerolog.Nop(), video.WithTavusURL(url))
}
