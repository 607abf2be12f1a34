// Package chat keeps the visible conversation of one user in step with the
// chat backend.
package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/suggest"
)

const (
	MsgCreateFailed = "Failed to create chat session"
	MsgSaveFailed   = "Failed to save message"
	MsgSendFailed   = "Failed to send message: "
	MsgSaveAIFailed = "Failed to save AI response"
	MsgLoadFailed   = "Failed to load chat messages"
	MsgListFailed   = "Failed to load chats"
	FallbackReply   = "Sorry, I could not generate a response."

	maxTitleLength    = 50
	titleEllipsis     = "..."
	userIDPrefix      = "user_"
	assistantIDPrefix = "ai_"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = apperr.New(apperr.KindValidation, "Message is empty")

// State is what clients render for the conversation.
type State struct {
	ChatID      string    `json:"chatId,omitempty"`
	Messages    []Message `json:"messages"`
	Suggestions []string  `json:"suggestions"`
	Loading     bool      `json:"loading"`
}

type Options struct {
	UserID   string
	Store    Store
	Answerer Answerer
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   zerolog.Logger
}

type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu          sync.Mutex
	chatID      string
	messages    []Message
	suggestions []string
	loading     bool
	listener    func(State)
}

func NewController(opts Options) *Controller {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "chat").Logger(),
	}
}

// OnState registers the state listener. It is called outside the lock.
func (c *Controller) OnState(fn func(State)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Messages returns a copy of the visible conversation.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Controller) Suggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.suggestions...)
}

// LatestReply returns the text of the most recent AI message.
func (c *Controller) LatestReply() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if !c.messages[i].IsUser {
			return c.messages[i].Text, true
		}
	}
	return "", false
}

// Send posts a user message and appends the AI reply.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	tempID := userIDPrefix + uuid.NewString()
	c.mutate(func() {
		c.messages = append(c.messages, Message{ID: tempID, Text: text, IsUser: true, Timestamp: c.opts.Clock.Now()})
		c.suggestions = nil
		c.loading = true
	})
	defer c.mutate(func() { c.loading = false })

	chatID := c.ChatID()
	if chatID == "" {
		sess, err := c.opts.Store.CreateSession(ctx, c.opts.UserID, Title(text))
		if err != nil {
			c.logger.Error().Err(err).Msg("Chat session creation failed")
			c.revert(tempID)
			notify.Error(c.opts.Notifier, MsgCreateFailed)
			return err
		}
		chatID = sess.ID
		c.mutate(func() { c.chatID = chatID })
		c.logger.Info().Str("chat_id", chatID).Msg("Chat session created")
	}

	saved, err := c.opts.Store.SaveMessage(ctx, chatID, c.opts.UserID, text, true)
	if err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("User message not saved")
		c.revert(tempID)
		notify.Error(c.opts.Notifier, MsgSaveFailed)
		return err
	}
	c.reconcile(tempID, saved)
	observability.RecordChatMessage("user")

	reply, err := c.opts.Answerer.Answer(ctx, AnswerRequest{Question: text, ChatID: chatID, UserID: c.opts.UserID})
	if err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("Answer function failed")
		notify.Error(c.opts.Notifier, MsgSendFailed+apperr.Message(err))
		return err
	}
	if strings.TrimSpace(reply) == "" {
		reply = FallbackReply
	}

	aiTemp := assistantIDPrefix + uuid.NewString()
	c.mutate(func() {
		c.messages = append(c.messages, Message{ID: aiTemp, Text: reply, IsUser: false, Timestamp: c.opts.Clock.Now()})
		c.suggestions = suggest.Generate(reply)
	})
	observability.RecordChatMessage("ai")

	if saved, err := c.opts.Store.SaveMessage(ctx, chatID, c.opts.UserID, reply, false); err != nil {
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("AI message not saved")
		notify.Error(c.opts.Notifier, MsgSaveAIFailed)
	} else {
		c.reconcile(aiTemp, saved)
	}

	if err := c.opts.Store.TouchSession(ctx, chatID, c.opts.Clock.Now()); err != nil {
		c.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Session timestamp not updated")
	}
	return nil
}

// LoadChat replaces the visible conversation with the stored one.
func (c *Controller) LoadChat(ctx context.Context, chatID string) error {
	c.mutate(func() { c.loading = true })
	msgs, err := c.opts.Store.ListMessages(ctx, chatID, c.opts.UserID)
	if err != nil {
		c.mutate(func() { c.loading = false })
		c.logger.Error().Err(err).Str("chat_id", chatID).Msg("Chat messages not loaded")
		notify.Error(c.opts.Notifier, MsgLoadFailed)
		return err
	}

	c.mutate(func() {
		c.loading = false
		c.messages = msgs
		c.suggestions = nil
		for i := len(msgs) - 1; i >= 0; i-- {
			if !msgs[i].IsUser {
				c.suggestions = suggest.Generate(msgs[i].Text)
				break
			}
		}
	})
	return nil
}

// SelectChat switches to chatID. Selecting the current chat is a no-op.
func (c *Controller) SelectChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	if chatID == c.chatID {
		c.mu.Unlock()
		return nil
	}
	c.chatID = chatID
	c.suggestions = nil
	c.mu.Unlock()

	if chatID == "" {
		c.mutate(func() { c.messages = nil })
		return nil
	}
	return c.LoadChat(ctx, chatID)
}

// NewChat clears the conversation. The session is created on the next Send.
func (c *Controller) NewChat() {
	c.mutate(func() {
		c.chatID = ""
		c.messages = nil
		c.suggestions = nil
	})
}

func (c *Controller) ListChats(ctx context.Context) ([]Session, error) {
	sessions, err := c.opts.Store.ListSessions(ctx, c.opts.UserID)
	if err != nil {
		c.logger.Error().Err(err).Msg("Chat list not loaded")
		notify.Error(c.opts.Notifier, MsgListFailed)
		return nil, err
	}
	return sessions, nil
}

// Title derives a session title from the first message.
func Title(text string) string {
	r := []rune(text)
	if len(r) <= maxTitleLength {
		return text
	}
	return string(r[:maxTitleLength]) + titleEllipsis
}

func (c *Controller) revert(id string) {
	c.mutate(func() {
		for i, m := range c.messages {
			if m.ID == id {
				c.messages = append(c.messages[:i:i], c.messages[i+1:]...)
				return
			}
		}
	})
}

func (c *Controller) reconcile(tempID string, saved Message) {
	c.mutate(func() {
		for i, m := range c.messages {
			if m.ID != tempID {
				continue
			}
			if saved.ID != "" {
				c.messages[i].ID = saved.ID
			}
			if !saved.Timestamp.IsZero() {
				c.messages[i].Timestamp = saved.Timestamp
			}
			return
		}
	})
}

// mutate applies fn under the lock and publishes the result.
func (c *Controller) mutate(fn func()) {
	c.mu.Lock()
	fn()
	st, l := c.snapshotLocked(), c.listener
	c.mu.Unlock()
	if l != nil {
		l(st)
	}
}

func (c *Controller) snapshotLocked() State {
	return State{
		ChatID:      c.chatID,
		Messages:    append([]Message{}, c.messages...),
		Suggestions: append([]string{}, c.suggestions...),
		Loading:     c.loading,
	}
}
