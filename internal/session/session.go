// Package session hosts one WebSocket connection per open browser tab and
// wires the chat, narration, music and video controllers of that user to it.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/chat"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/music"
	"github.com/mindfulchat/meditation-gateway/internal/narration"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/tts"
	"github.com/mindfulchat/meditation-gateway/internal/video"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	outboundBuffer = 256
)

var errSessionClosed = errors.New("session closed")

// Hello is the first message of every session.
type Hello struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Voices    []tts.Voice     `json:"voices"`
	Narration narration.State `json:"narration"`
	Music     music.Track     `json:"music"`
	Video     VideoPayload    `json:"video"`
}

// VideoPayload is the video_state payload.
type VideoPayload struct {
	video.State
	History []video.GeneratedVideo `json:"history"`
}

// Session is one connected client.
type Session struct {
	id     string
	userID string
	conn   *websocket.Conn
	logger zerolog.Logger

	readLimit int64

	metrics *observability.SessionMetrics

	out       chan ServerMessage
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	tasks     sync.WaitGroup

	player    *RemotePlayer
	chat      *chat.Controller
	narration *narration.Controller
	music     *music.Controller
	video     *video.Controller
}

func newSession(conn *websocket.Conn, userID, accessToken string, deps *Deps) *Session {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      id,
		userID:  userID,
		conn:    conn,
		logger:  observability.ForSession(id, userID),
		metrics: observability.NewSessionMetrics(id),
		out:     make(chan ServerMessage, outboundBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,

		readLimit: deps.Config.MusicMaxUploadBytes*4/3 + 64*1024,
	}
	s.player = NewRemotePlayer(s.send)

	notifier := notify.Func(func(n notify.Notice) {
		_ = s.send(ServerMessage{Type: TypeNotice, Payload: n})
	})

	store := deps.openSettings(userID, s.logger)

	backend := deps.ChatFor(accessToken)
	s.chat = chat.NewController(chat.Options{
		UserID:   userID,
		Store:    backend,
		Answerer: backend,
		Notifier: notifier,
		Logger:   s.logger,
	})

	cfg := deps.Config
	defaultVolume := cfg.MusicDefaultVolume
	s.music = music.NewController(music.Options{
		DefaultURL:     cfg.DefaultMusicURL,
		DefaultName:    cfg.DefaultMusicName,
		MaxUploadBytes: cfg.MusicMaxUploadBytes,
		DefaultVolume:  &defaultVolume,
		UnmuteVolume:   cfg.MusicUnmuteVolume,
		Player:         s.player,
		Blobs:          deps.Blobs,
		Settings:       store,
		Notifier:       notifier,
		Logger:         s.logger,
	})

	voice, ok := tts.ParseVoice(cfg.DefaultVoice)
	if !ok {
		voice = tts.DefaultVoice
	}
	s.narration = narration.NewController(narration.Options{
		UserID:   userID,
		Voice:    voice,
		Debounce: cfg.NarrationDebounce,
		Speaker:  deps.Speaker,
		Player:   s.player,
		Blobs:    deps.Blobs,
		Music:    s.music,
		Replies:  s.chat,
		Notifier: notifier,
		Clock:    deps.Clock,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})

	s.video = video.NewController(video.Options{
		Enabled:       cfg.VideoEnabled,
		ReplicaID:     cfg.TavusReplicaID,
		PollInterval:  cfg.VideoPollInterval,
		Horizon:       cfg.VideoHorizon,
		DefaultAPIKey: cfg.TavusAPIKey,
		Renderer:      deps.Renderer,
		Settings:      store,
		Notifier:      notifier,
		Clock:         deps.Clock,
		Logger:        s.logger,
	})

	s.chat.OnState(func(st chat.State) {
		_ = s.send(ServerMessage{Type: TypeMessages, Payload: st})
		_ = s.send(ServerMessage{Type: TypeSuggestions, Payload: st.Suggestions})
	})
	s.narration.OnState(func(st narration.State) {
		_ = s.send(ServerMessage{Type: TypeNarrationState, Payload: st})
	})
	s.music.OnState(func(t music.Track) {
		_ = s.send(ServerMessage{Type: TypeMusicState, Payload: t})
	})
	s.video.OnState(func(st video.State) {
		_ = s.send(ServerMessage{Type: TypeVideoState, Payload: VideoPayload{State: st, History: s.video.History()}})
	})
	return s
}

func (s *Session) ID() string { return s.id }

// run serves the connection until the client goes away.
func (s *Session) run() {
	s.metrics.RecordSessionStart()
	s.logger.Info().Msg("Session started")

	go s.writeLoop()

	_ = s.send(ServerMessage{Type: TypeSession, Payload: Hello{
		SessionID: s.id,
		UserID:    s.userID,
		Voices:    tts.Voices(),
		Narration: s.narration.State(),
		Music:     s.music.Track(),
		Video:     VideoPayload{State: s.video.State(), History: s.video.History()},
	}})
	if err := s.music.Init(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Background music not loaded")
	}

	s.readLoop()
	s.close()
}

func (s *Session) readLoop() {
	s.conn.SetReadLimit(s.readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		msg, err := decodeClientMessage(data)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to parse client message")
			s.sendError("", "Invalid message")
			continue
		}
		s.handle(msg)
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Error().Err(err).Str("type", msg.Type).Msg("Error writing to client")
				observability.RecordError("ws_write_error", "session")
				s.conn.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// send queues msg for the writer. It blocks while the queue is full and
// fails once the session is closing.
func (s *Session) send(msg ServerMessage) error {
	if s.ctx.Err() != nil {
		return errSessionClosed
	}
	select {
	case s.out <- msg:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

func (s *Session) sendError(request, message string) {
	_ = s.send(ServerMessage{Type: TypeError, Payload: ErrorPayload{Request: request, Message: message}})
}

// async runs fn off the read loop so media events keep flowing while it
// waits on the network.
func (s *Session) async(request string, fn func(ctx context.Context) error) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		if err := fn(s.ctx); err != nil {
			s.report(request, err)
		}
	}()
}

// report forwards a failed request. Aborted requests and failures that the
// controllers already surfaced as notices are only logged.
func (s *Session) report(request string, err error) {
	if apperr.Is(err, apperr.KindAborted) || errors.Is(err, errSessionClosed) {
		return
	}
	s.logger.Debug().Err(err).Str("request", request).Msg("Request failed")
	switch {
	case errors.Is(err, narration.ErrBusy),
		errors.Is(err, video.ErrInFlight),
		errors.Is(err, video.ErrDisabled),
		errors.Is(err, video.ErrNoScript),
		apperr.Is(err, apperr.KindValidation):
		s.sendError(request, userMessage(err))
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, narration.ErrBusy):
		return "Audio is already being prepared"
	case errors.Is(err, video.ErrInFlight):
		return "A video is already being generated"
	case errors.Is(err, video.ErrDisabled):
		return "Video generation is disabled"
	case errors.Is(err, video.ErrNoScript):
		return "No AI response to turn into a video"
	}
	return apperr.Message(err)
}

func (s *Session) handle(msg ClientMessage) {
	switch msg.Type {
	case TypeSendMessage:
		s.async(msg.Type, func(ctx context.Context) error { return s.chat.Send(ctx, msg.Text) })

	case TypeSelectChat:
		s.async(msg.Type, func(ctx context.Context) error { return s.chat.SelectChat(ctx, msg.ChatID) })

	case TypeNewChat:
		s.chat.NewChat()

	case TypeListChats:
		s.async(msg.Type, func(ctx context.Context) error {
			chats, err := s.chat.ListChats(ctx)
			if err != nil {
				return err
			}
			return s.send(ServerMessage{Type: TypeChats, Payload: chats})
		})

	case TypePlayText:
		if _, err := s.narration.PlaySpecificText(msg.Text); err != nil {
			s.report(msg.Type, err)
		}

	case TypePlayLatest:
		s.narration.PlayLatestResponse()

	case TypeStopAudio:
		s.narration.Stop()

	case TypeSetVoice:
		v, ok := tts.ParseVoice(msg.Voice)
		if !ok {
			s.sendError(msg.Type, "Unknown voice")
			return
		}
		s.narration.SetVoice(v)

	case TypeMusicUpload:
		up := music.Upload{Name: msg.Name, MIMEType: msg.MIMEType, Data: msg.Data}
		s.async(msg.Type, func(ctx context.Context) error { return s.music.Upload(ctx, up) })

	case TypeMusicRemove:
		s.async(msg.Type, func(ctx context.Context) error { return s.music.Remove(ctx) })

	case TypeMusicVolume:
		if msg.Volume == nil {
			s.sendError(msg.Type, "Volume is required")
			return
		}
		if err := s.music.SetVolume(*msg.Volume); err != nil {
			s.logger.Warn().Err(err).Msg("Music volume not persisted")
		}

	case TypeMusicToggleMute:
		if err := s.music.ToggleMute(); err != nil {
			s.logger.Warn().Err(err).Msg("Music volume not persisted")
		}

	case TypeMusicPause:
		if err := s.music.Pause(); err != nil {
			s.logger.Warn().Err(err).Msg("Music pause failed")
		}

	case TypeMusicResume:
		s.async(msg.Type, func(ctx context.Context) error { return s.music.Resume(ctx) })

	case TypeGenerateVideo:
		script := msg.Text
		if strings.TrimSpace(script) == "" {
			script, _ = s.chat.LatestReply()
		}
		s.async(msg.Type, func(ctx context.Context) error { return s.video.Generate(ctx, script) })

	case TypeSetVideoKey:
		if err := s.video.SetAPIKey(msg.Key); err != nil {
			s.logger.Debug().Err(err).Msg("Video API key rejected")
		}

	case TypeClearVideoKey:
		if err := s.video.ClearAPIKey(); err != nil {
			s.logger.Warn().Err(err).Msg("Video API key not cleared")
		}

	case TypeMediaEvent:
		if !s.player.Dispatch(msg.Resource, media.Event(msg.Event), msg.Error) {
			s.logger.Debug().Str("resource", msg.Resource).Str("event", msg.Event).Msg("Event for unknown resource")
		}

	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown message type")
		s.sendError(msg.Type, "Unknown message type")
	}
}

// close stops every controller and the writer. It is safe to call twice.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.narration.Close()
		s.video.Cancel()
		s.tasks.Wait()
		// A submission answered during Wait may have started a poller.
		s.video.Cancel()
		s.music.Close()
		close(s.done)
		s.conn.Close()
		s.metrics.RecordSessionEnd()
		s.logger.Info().Int("open_resources", s.player.Len()).Msg("Session ended")
	})
}
