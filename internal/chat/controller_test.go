package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/suggest"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	createErr error
	saveErr   map[bool]error
	listErr   error
	sessions  []Session
	saved     []Message
	stored    map[string][]Message
	touched   []string
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{saveErr: map[bool]error{}, stored: map[string][]Message{}}
}

func (s *fakeStore) CreateSession(_ context.Context, _ string, title string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return Session{}, s.createErr
	}
	sess := Session{ID: "chat-" + string(rune('a'+len(s.sessions))), Title: title}
	s.sessions = append(s.sessions, sess)
	return sess, nil
}

func (s *fakeStore) ListSessions(context.Context, string) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Session(nil), s.sessions...), nil
}

func (s *fakeStore) TouchSession(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, id)
	return nil
}

func (s *fakeStore) SaveMessage(_ context.Context, sessionID, _ string, text string, isUser bool) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveErr[isUser]; err != nil {
		return Message{}, err
	}
	s.nextID++
	m := Message{ID: "db-" + string(rune('0'+s.nextID)), Text: text, IsUser: isUser, Timestamp: epoch.Add(time.Duration(s.nextID) * time.Second)}
	s.saved = append(s.saved, m)
	s.stored[sessionID] = append(s.stored[sessionID], m)
	return m, nil
}

func (s *fakeStore) ListMessages(_ context.Context, sessionID, _ string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Message(nil), s.stored[sessionID]...), nil
}

type fakeAnswerer struct {
	reply string
	err   error
	reqs  []AnswerRequest
}

func (a *fakeAnswerer) Answer(_ context.Context, req AnswerRequest) (string, error) {
	a.reqs = append(a.reqs, req)
	return a.reply, a.err
}

func newTestController(store *fakeStore, answerer *fakeAnswerer) (*Controller, *notify.Recorder) {
	rec := &notify.Recorder{}
	c := NewController(Options{
		UserID:   "u1",
		Store:    store,
		Answerer: answerer,
		Notifier: rec,
		Clock:    clock.NewFake(epoch),
		Logger:   zerolog.Nop(),
	})
	return c, rec
}

func TestController_SendHappyPath(t *testing.T) {
	store := newFakeStore()
	answerer := &fakeAnswerer{reply: "Let us begin a calming breathing exercise."}
	c, rec := newTestController(store, answerer)

	if err := c.Send(context.Background(), "  I feel anxious  "); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "db-1" || !msgs[0].IsUser || msgs[0].Text != "I feel anxious" {
		t.Errorf("User message not reconciled: %+v", msgs[0])
	}
	if msgs[1].ID != "db-2" || msgs[1].IsUser {
		t.Errorf("AI message not reconciled: %+v", msgs[1])
	}
	if c.ChatID() != "chat-a" {
		t.Errorf("Expected chat-a, got %q", c.ChatID())
	}
	if len(answerer.reqs) != 1 || answerer.reqs[0] != (AnswerRequest{Question: "I feel anxious", ChatID: "chat-a", UserID: "u1"}) {
		t.Errorf("Unexpected answer requests %+v", answerer.reqs)
	}
	want := suggest.Generate(answerer.reply)
	got := c.Suggestions()
	if len(got) != 3 || got[0] != want[0] {
		t.Errorf("Expected suggestions %v, got %v", want, got)
	}
	if reply, ok := c.LatestReply(); !ok || reply != answerer.reply {
		t.Errorf("LatestReply() = %q, %v", reply, ok)
	}
	if len(store.touched) != 1 || store.touched[0] != "chat-a" {
		t.Errorf("Expected session touch, got %v", store.touched)
	}
	if len(rec.Notices()) != 0 {
		t.Errorf("Unexpected notices %v", rec.Notices())
	}
	if c.State().Loading {
		t.Error("Loading should be cleared")
	}

	// A second message reuses the session.
	if err := c.Send(context.Background(), "more"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if len(store.sessions) != 1 {
		t.Errorf("Expected one session, got %d", len(store.sessions))
	}
}

func TestController_SendEmpty(t *testing.T) {
	c, _ := newTestController(newFakeStore(), &fakeAnswerer{})
	if err := c.Send(context.Background(), "   "); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if len(c.Messages()) != 0 {
		t.Error("Blank input must not add a message")
	}
}

func TestController_SendRevertsOptimisticMessage(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeStore)
		notice string
	}{
		{"session creation fails", func(s *fakeStore) { s.createErr = errors.New("offline") }, MsgCreateFailed},
		{"user message save fails", func(s *fakeStore) { s.saveErr[true] = errors.New("rls") }, MsgSaveFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tt.setup(store)
			answerer := &fakeAnswerer{reply: "hi"}
			c, rec := newTestController(store, answerer)

			var seen []int
			c.OnState(func(s State) { seen = append(seen, len(s.Messages)) })

			if err := c.Send(context.Background(), "hello"); err == nil {
				t.Fatal("Expected error")
			}
			if len(c.Messages()) != 0 {
				t.Errorf("Optimistic message not reverted: %+v", c.Messages())
			}
			if len(seen) == 0 || seen[0] != 1 {
				t.Errorf("Optimistic message was never shown: %v", seen)
			}
			if !rec.Has(notify.LevelError, tt.notice) {
				t.Errorf("Expected notice %q, got %v", tt.notice, rec.Notices())
			}
			if len(answerer.reqs) != 0 {
				t.Error("Answer must not be requested")
			}
		})
	}
}

func TestController_AnswerFailureKeepsUserMessage(t *testing.T) {
	store := newFakeStore()
	c, rec := newTestController(store, &fakeAnswerer{err: apperr.New(apperr.KindTransport, "function timeout")})

	if err := c.Send(context.Background(), "hello"); err == nil {
		t.Fatal("Expected error")
	}
	msgs := c.Messages()
	if len(msgs) != 1 || msgs[0].ID != "db-1" {
		t.Errorf("Expected persisted user message, got %+v", msgs)
	}
	if !rec.Has(notify.LevelError, MsgSendFailed+"function timeout") {
		t.Errorf("Unexpected notices %v", rec.Notices())
	}
}

func TestController_AIMessageSaveFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr[false] = errors.New("rls")
	c, rec := newTestController(store, &fakeAnswerer{reply: ""})

	if err := c.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Text != FallbackReply {
		t.Errorf("Expected fallback reply, got %q", msgs[1].Text)
	}
	if !strings.HasPrefix(msgs[1].ID, "ai_") {
		t.Errorf("Expected unreconciled id, got %q", msgs[1].ID)
	}
	if !rec.Has(notify.LevelError, MsgSaveAIFailed) {
		t.Errorf("Unexpected notices %v", rec.Notices())
	}
}

func TestController_SelectAndNewChat(t *testing.T) {
	store := newFakeStore()
	store.stored["chat-x"] = []Message{
		{ID: "1", Text: "hello", IsUser: true},
		{ID: "2", Text: "Try a body scan before sleep.", IsUser: false},
	}
	c, _ := newTestController(store, &fakeAnswerer{})

	if err := c.SelectChat(context.Background(), "chat-x"); err != nil {
		t.Fatalf("SelectChat() failed: %v", err)
	}
	if c.ChatID() != "chat-x" || len(c.Messages()) != 2 {
		t.Errorf("Unexpected state %+v", c.State())
	}
	if got := c.Suggestions(); len(got) != 3 {
		t.Errorf("Expected suggestions from last AI message, got %v", got)
	}

	// Selecting the current chat does not reload.
	store.listErr = errors.New("should not be called")
	if err := c.SelectChat(context.Background(), "chat-x"); err != nil {
		t.Errorf("Reselecting should be a no-op, got %v", err)
	}
	store.listErr = nil

	c.NewChat()
	st := c.State()
	if st.ChatID != "" || len(st.Messages) != 0 || len(st.Suggestions) != 0 {
		t.Errorf("NewChat() left state %+v", st)
	}
}

func TestController_LoadChatFailure(t *testing.T) {
	store := newFakeStore()
	store.listErr = errors.New("offline")
	c, rec := newTestController(store, &fakeAnswerer{})

	if err := c.LoadChat(context.Background(), "chat-x"); err == nil {
		t.Fatal("Expected error")
	}
	if !rec.Has(notify.LevelError, MsgLoadFailed) {
		t.Errorf("Unexpected notices %v", rec.Notices())
	}
	if c.State().Loading {
		t.Error("Loading should be cleared")
	}
}

func TestTitle(t *testing.T) {
	short := "Help me sleep"
	if got := Title(short); got != short {
		t.Errorf("Title(%q) = %q", short, got)
	}
	long := strings.Repeat("a", 60)
	if got := Title(long); got != strings.Repeat("a", 50)+"..." {
		t.Errorf("Title() = %q", got)
	}
	accented := strings.Repeat("é", 51)
	if got := []rune(Title(accented)); len(got) != 53 {
		t.Errorf("Expected rune-aware truncation, got %d runes", len(got))
	}
}
