package session

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/chat"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/config"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/narration"
	"github.com/mindfulchat/meditation-gateway/internal/settings"
	"github.com/mindfulchat/meditation-gateway/internal/video"
)

var upgrader = websocket.Upgrader{
	// Browsers connect from the app's own origin or a dev server.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ChatBackend persists chats and answers questions.
type ChatBackend interface {
	chat.Store
	chat.Answerer
}

// Deps are the process-wide services shared by every session.
type Deps struct {
	Config   *config.Config
	Speaker  narration.Speaker
	Blobs    *media.BlobStore
	Renderer video.Renderer
	// ChatFor returns the chat backend acting for the holder of accessToken.
	// An empty token means the anonymous key.
	ChatFor func(accessToken string) ChatBackend
	Clock   clock.Clock
	Logger  zerolog.Logger
}

// openSettings opens the user's settings file, falling back to memory when
// the directory is unusable.
func (d *Deps) openSettings(userID string, logger zerolog.Logger) settings.Store {
	if d.Config.SettingsDir == "" {
		return settings.NewMemoryStore()
	}
	store, err := settings.OpenFileStore(d.Config.SettingsDir, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("Settings not persisted for this session")
		return settings.NewMemoryStore()
	}
	return store
}

// Manager accepts WebSocket connections and tracks live sessions.
type Manager struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps) *Manager {
	return &Manager{deps: deps, sessions: make(map[string]*Session)}
}

// Handler upgrades GET /ws?user_id=<id> and serves the session until the
// client disconnects.
func (m *Manager) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.deps.Logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		s := newSession(conn, userID, r.URL.Query().Get("access_token"), &m.deps)
		m.add(s)
		defer m.remove(s)
		s.run()
	}
}

// Count returns the number of connected sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll disconnects every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

func (m *Manager) add(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
}
