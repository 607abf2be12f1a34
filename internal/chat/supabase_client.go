package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/resilience"
)

// SupabaseClient implements Store over PostgREST and Answerer over the
// webhook-handler edge function.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	userToken  string
	httpClient *http.Client
	guard      *resilience.Guard
	logger     zerolog.Logger
}

type SupabaseOption func(*SupabaseClient)

// WithSupabaseGuard wraps every call with a breaker and retry policy.
func WithSupabaseGuard(g *resilience.Guard) SupabaseOption {
	return func(c *SupabaseClient) { c.guard = g }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) SupabaseOption {
	return func(c *SupabaseClient) { c.httpClient = hc }
}

func NewSupabaseClient(baseURL, anonKey string, logger zerolog.Logger, opts ...SupabaseOption) *SupabaseClient {
	c := &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "supabase").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ForUser returns a client that authenticates as the user holding token.
// An empty token keeps the anon key.
func (c *SupabaseClient) ForUser(token string) *SupabaseClient {
	cp := *c
	cp.userToken = token
	return &cp
}

type sessionRow struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Title     string    `json:"title"`
	IsArticle bool      `json:"is_article"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type messageRow struct {
	ID            string    `json:"id,omitempty"`
	ChatSessionID string    `json:"chat_session_id"`
	UserID        string    `json:"user_id"`
	Content       string    `json:"content"`
	IsUser        bool      `json:"is_user"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
}

func (r sessionRow) session() Session {
	return Session{ID: r.ID, Title: r.Title, IsArticle: r.IsArticle, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func (r messageRow) message() Message {
	return Message{ID: r.ID, Text: r.Content, IsUser: r.IsUser, Timestamp: r.CreatedAt}
}

func (c *SupabaseClient) CreateSession(ctx context.Context, userID, title string) (Session, error) {
	payload := map[string]any{"user_id": userID, "title": title, "is_article": false}
	var rows []sessionRow
	if err := c.call(ctx, http.MethodPost, "/rest/v1/chat_sessions", nil, payload, &rows); err != nil {
		return Session{}, err
	}
	if len(rows) == 0 {
		return Session{}, apperr.New(apperr.KindTransport, "chat session insert returned no row")
	}
	return rows[0].session(), nil
}

func (c *SupabaseClient) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "updated_at.desc")

	var rows []sessionRow
	if err := c.call(ctx, http.MethodGet, "/rest/v1/chat_sessions", q, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.session())
	}
	return out, nil
}

func (c *SupabaseClient) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	q := url.Values{}
	q.Set("id", "eq."+sessionID)
	payload := map[string]string{"updated_at": at.UTC().Format(time.RFC3339Nano)}
	return c.call(ctx, http.MethodPatch, "/rest/v1/chat_sessions", q, payload, nil)
}

func (c *SupabaseClient) SaveMessage(ctx context.Context, sessionID, userID, text string, isUser bool) (Message, error) {
	payload := messageRow{ChatSessionID: sessionID, UserID: userID, Content: text, IsUser: isUser}
	var rows []messageRow
	if err := c.call(ctx, http.MethodPost, "/rest/v1/chat_messages", nil, insertMessage(payload), &rows); err != nil {
		return Message{}, err
	}
	if len(rows) == 0 {
		return Message{}, apperr.New(apperr.KindTransport, "chat message insert returned no row")
	}
	return rows[0].message(), nil
}

// insertMessage drops server-assigned columns from the insert body.
func insertMessage(r messageRow) map[string]any {
	return map[string]any{
		"chat_session_id": r.ChatSessionID,
		"user_id":         r.UserID,
		"content":         r.Content,
		"is_user":         r.IsUser,
	}
}

func (c *SupabaseClient) ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("chat_session_id", "eq."+sessionID)
	q.Set("user_id", "eq."+userID)
	q.Set("order", "created_at.asc")

	var rows []messageRow
	if err := c.call(ctx, http.MethodGet, "/rest/v1/chat_messages", q, nil, &rows); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.message())
	}
	return out, nil
}

// Answer invokes the webhook-handler function.
func (c *SupabaseClient) Answer(ctx context.Context, req AnswerRequest) (string, error) {
	var out struct {
		Response string `json:"response"`
		Answer   string `json:"answer"`
	}
	if err := c.call(ctx, http.MethodPost, "/functions/v1/webhook-handler", nil, req, &out); err != nil {
		return "", err
	}
	if out.Response != "" {
		return out.Response, nil
	}
	return out.Answer, nil
}

func (c *SupabaseClient) call(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = b
	}

	err := c.guard.Do(ctx, func(ctx context.Context) error {
		return c.do(ctx, method, path, query, body, out)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return apperr.Wrap(apperr.KindUnavailable, err, "Chat backend temporarily unavailable")
	}
	return err
}

func (c *SupabaseClient) do(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	bearer := c.anonKey
	if c.userToken != "" {
		bearer = c.userToken
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost && strings.HasPrefix(path, "/rest/") {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Wrap(apperr.KindTransport, err, "chat backend request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("body", string(detail)).
			Msg("Supabase request failed")
		msg := backendMessage(detail, resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return apperr.New(apperr.KindRateLimit, msg)
		case resp.StatusCode >= 500:
			return resilience.NewRetryableError(apperr.New(apperr.KindTransport, msg))
		default:
			return apperr.New(apperr.KindTransport, msg)
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.KindTransport, err, "failed to decode chat backend response")
	}
	return nil
}

// backendMessage extracts PostgREST or function error text.
func backendMessage(body []byte, status int) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return fmt.Sprintf("chat backend returned status %d", status)
}
