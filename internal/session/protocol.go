package session

import "encoding/json"

// Client → server message types.
const (
	TypeSendMessage     = "send_message"
	TypeSelectChat      = "select_chat"
	TypeNewChat         = "new_chat"
	TypeListChats       = "list_chats"
	TypePlayText        = "play_text"
	TypePlayLatest      = "play_latest"
	TypeStopAudio       = "stop_audio"
	TypeSetVoice        = "set_voice"
	TypeMusicUpload     = "music_upload"
	TypeMusicRemove     = "music_remove"
	TypeMusicVolume     = "music_volume"
	TypeMusicToggleMute = "music_toggle_mute"
	TypeMusicPause      = "music_pause"
	TypeMusicResume     = "music_resume"
	TypeGenerateVideo   = "generate_video"
	TypeSetVideoKey     = "set_video_key"
	TypeClearVideoKey   = "clear_video_key"
	TypeMediaEvent      = "media_event"
)

// Server → client message types.
const (
	TypeSession        = "session"
	TypeMedia          = "media"
	TypeNotice         = "notice"
	TypeMessages       = "messages"
	TypeSuggestions    = "suggestions"
	TypeChats          = "chats"
	TypeNarrationState = "narration_state"
	TypeMusicState     = "music_state"
	TypeVideoState     = "video_state"
	TypeError          = "error"
)

// Media command operations.
const (
	OpLoad    = "load"
	OpPlay    = "play"
	OpPause   = "pause"
	OpStop    = "stop"
	OpVolume  = "volume"
	OpRelease = "release"
)

// ClientMessage is any message sent by the browser. Only the fields of the
// given type are set.
type ClientMessage struct {
	Type string `json:"type"`

	Text   string   `json:"text,omitempty"`
	ChatID string   `json:"chatId,omitempty"`
	Voice  string   `json:"voice,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Key    string   `json:"key,omitempty"`

	// music_upload
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"` // base64 in JSON

	// media_event
	Resource string `json:"resource,omitempty"`
	Event    string `json:"event,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ServerMessage wraps every message sent to the browser.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// MediaCommand tells the browser what to do with one media element.
type MediaCommand struct {
	Op       string   `json:"op"`
	Resource string   `json:"resource"`
	URL      string   `json:"url,omitempty"`
	Loop     bool     `json:"loop,omitempty"`
	Volume   *float64 `json:"volume,omitempty"`
}

// ErrorPayload reports a request that could not be handled.
type ErrorPayload struct {
	Request string `json:"request,omitempty"`
	Message string `json:"message"`
}

func decodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
