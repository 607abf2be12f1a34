package tts

import (
	"context"
	"strings"
)

// Voice is one of the narrator voices offered to users.
type Voice string

const (
	VoiceJames    Voice = "James"
	VoiceCassidy  Voice = "Cassidy"
	VoiceDrew     Voice = "Drew"
	VoiceLavender Voice = "Lavender"

	DefaultVoice = VoiceDrew
)

// ElevenLabs voice ids.
var voiceIDs = map[Voice]string{
	VoiceJames:    "EkK5I93UQWFDigLMpZcX",
	VoiceCassidy:  "56AoDkrOh6qfVPDXZ7Pt",
	VoiceDrew:     "wgHvco1wiREKN0BdyVx5",
	VoiceLavender: "QwvsCFsQcnpWxmP1z7V9",
}

// Voices lists the supported voices in display order.
func Voices() []Voice {
	return []Voice{VoiceJames, VoiceCassidy, VoiceDrew, VoiceLavender}
}

// ParseVoice matches a voice name case-insensitively.
func ParseVoice(name string) (Voice, bool) {
	for _, v := range Voices() {
		if strings.EqualFold(string(v), strings.TrimSpace(name)) {
			return v, true
		}
	}
	return "", false
}

// VendorID returns the provider voice id, falling back to the default voice.
func (v Voice) VendorID() string {
	if id, ok := voiceIDs[v]; ok {
		return id
	}
	return voiceIDs[DefaultVoice]
}

// SpeechSynthesizer turns text into MP3 bytes.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string, voice Voice) ([]byte, error)
}

// Request is the body accepted by the text-to-speech function.
type Request struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	UserID string `json:"userId"`
}

// Result is synthesized audio plus, when publication succeeded, a public URL.
type Result struct {
	Audio     []byte
	PublicURL string
}

// Response is the JSON body returned by the text-to-speech function.
type Response struct {
	Audio     string  `json:"audio"`
	PublicURL *string `json:"publicUrl"`
}
