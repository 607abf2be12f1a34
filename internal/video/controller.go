// Package video turns chat replies into avatar videos and tracks each render
// until it completes, fails or runs past its horizon.
package video

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/settings"
)

var (
	ErrNoScript = errors.New("video: no script to render")
	ErrInFlight = errors.New("video: a video is already being generated")
	ErrDisabled = errors.New("video: generation is disabled")
)

const (
	DefaultReplicaID = "rca8a38779a8"
	MinAPIKeyLength  = 20

	msgInitializing = "Initializing video generation..."
	msgUnderway     = "Video is under generation and may take 5-90 minutes depending on Tavus"
	MsgStarted      = "Video generation started!"
	MsgCompleted    = "Video generation completed!"
	MsgReady        = "Video is ready!"
	MsgFailed       = "Video generation failed"
	MsgTimedOut     = "Video generation timed out"
	msgTimedOutText = "Video not generated from Tavus. Please try again later."
	MsgPollError    = "Error checking video status"
	msgSubmitFailed = "Failed to start video generation: "
	MsgKeyEmpty     = "Please enter a valid Tavus API key"
	MsgKeyTooShort  = "API key appears to be too short. Please check your key."
	MsgKeySaved     = "Tavus API key saved! Your key will be used for video generation."
	MsgKeyRemoved   = "API key removed. Using default key."
)

// Phase is the controller state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
	PhaseTimedOut   Phase = "timed_out"
)

// State is what clients render for video generation.
type State struct {
	Phase          Phase   `json:"phase"`
	JobID          string  `json:"jobId,omitempty"`
	Status         Status  `json:"status,omitempty"`
	StatusText     string  `json:"statusText,omitempty"`
	Progress       float64 `json:"progress"`
	ElapsedMinutes int     `json:"elapsedMinutes"`
	CurrentURL     string  `json:"currentUrl,omitempty"`
	Error          string  `json:"error,omitempty"`
	HasCustomKey   bool    `json:"hasCustomKey"`
	Enabled        bool    `json:"enabled"`
}

// Busy reports whether a job is being submitted or polled.
func (s State) Busy() bool {
	return s.Phase == PhaseSubmitting || s.Phase == PhasePolling
}

type Options struct {
	Enabled       bool
	ReplicaID     string
	PollInterval  time.Duration
	Horizon       time.Duration
	DefaultAPIKey string

	Renderer Renderer
	Settings settings.Store
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   zerolog.Logger
}

type Controller struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	history  []GeneratedVideo
	cancel   context.CancelFunc
	done     chan struct{}
	listener func(State)
}

func NewController(opts Options) *Controller {
	if opts.ReplicaID == "" {
		opts.ReplicaID = DefaultReplicaID
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Settings == nil {
		opts.Settings = settings.NewMemoryStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	_, custom := opts.Settings.Get(settings.KeyVideoAPIKey)
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "video").Logger(),
		state:  State{Phase: PhaseIdle, HasCustomKey: custom, Enabled: opts.Enabled},
	}
}

func (c *Controller) OnState(fn func(State)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns finished videos, most recent first.
func (c *Controller) History() []GeneratedVideo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]GeneratedVideo, len(c.history))
	copy(out, c.history)
	return out
}

// APIKey returns the user's key, or the configured one when none is saved.
func (c *Controller) APIKey() string {
	if k, ok := c.opts.Settings.Get(settings.KeyVideoAPIKey); ok && k != "" {
		return k
	}
	return c.opts.DefaultAPIKey
}

// SetAPIKey saves a per-user key.
func (c *Controller) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		notify.Error(c.opts.Notifier, MsgKeyEmpty)
		return apperr.New(apperr.KindValidation, MsgKeyEmpty)
	}
	if len(key) < MinAPIKeyLength {
		notify.Error(c.opts.Notifier, MsgKeyTooShort)
		return apperr.New(apperr.KindValidation, MsgKeyTooShort)
	}
	if err := c.opts.Settings.Set(settings.KeyVideoAPIKey, key); err != nil {
		notify.Error(c.opts.Notifier, "Failed to save API key")
		return fmt.Errorf("save video api key: %w", err)
	}
	c.update(func(s *State) { s.HasCustomKey = true })
	notify.Success(c.opts.Notifier, MsgKeySaved)
	return nil
}

// ClearAPIKey removes the per-user key.
func (c *Controller) ClearAPIKey() error {
	if err := c.opts.Settings.Delete(settings.KeyVideoAPIKey); err != nil {
		notify.Error(c.opts.Notifier, "Failed to remove API key")
		return fmt.Errorf("remove video api key: %w", err)
	}
	c.update(func(s *State) { s.HasCustomKey = false })
	notify.Success(c.opts.Notifier, MsgKeyRemoved)
	return nil
}

// Generate submits script for rendering and starts polling in the
// background. It returns once the submission has been answered. Polling
// stops when ctx is done.
func (c *Controller) Generate(ctx context.Context, script string) error {
	if !c.opts.Enabled {
		return ErrDisabled
	}
	if strings.TrimSpace(script) == "" {
		return ErrNoScript
	}

	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return ErrInFlight
	}
	c.state = State{
		Phase:        PhaseSubmitting,
		StatusText:   msgInitializing,
		HasCustomKey: c.state.HasCustomKey,
		Enabled:      c.state.Enabled,
	}
	st, fn := c.state, c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}

	apiKey := c.APIKey()
	name := fmt.Sprintf("Meditation_%d", c.opts.Clock.Now().UnixMilli())
	videoID, err := c.opts.Renderer.Submit(ctx, apiKey, SubmitRequest{
		ReplicaID: c.opts.ReplicaID,
		Script:    script,
		VideoName: name,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Error generating video")
		observability.RecordVideoJob("submit_failed")
		notify.Error(c.opts.Notifier, msgSubmitFailed+apperr.Message(err))
		c.update(func(s *State) {
			s.Phase = PhaseIdle
			s.StatusText = ""
			s.Error = apperr.Message(err)
		})
		return err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.state.Phase = PhasePolling
	c.state.JobID = videoID
	c.state.StatusText = msgUnderway
	st, fn = c.state, c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
	notify.Success(c.opts.Notifier, MsgStarted)
	c.logger.Info().Str("video_id", videoID).Str("video_name", name).Msg("Video generation started")

	poller := NewPoller(videoID, c.opts.Clock, c.opts.PollInterval, c.opts.Horizon, func(ctx context.Context) (Report, error) {
		return c.opts.Renderer.Status(ctx, apiKey, videoID)
	})
	poller.OnSample = c.onSample
	go c.poll(pollCtx, poller, done)
	return nil
}

// Cancel stops polling the current job, if any, and waits for the poller to
// exit. The controller returns to idle.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Wait blocks until the current poller, if any, has exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) poll(ctx context.Context, p *Poller, done chan struct{}) {
	defer close(done)

	outcome, err := p.Run(ctx)
	job := p.Job()
	observability.RecordVideoJob(outcome.String())
	logger := c.logger.With().Str("video_id", job.ID).Str("outcome", outcome.String()).Logger()

	switch outcome {
	case OutcomeCompleted:
		c.mu.Lock()
		video := GeneratedVideo{
			ID:        job.ID,
			URL:       job.HostedURL,
			Name:      fmt.Sprintf("Video %d", len(c.history)+1),
			CreatedAt: c.opts.Clock.Now(),
		}
		c.history = append([]GeneratedVideo{video}, c.history...)
		c.mu.Unlock()
		c.finish(func(s *State) {
			s.Phase = PhaseCompleted
			s.StatusText = MsgCompleted
			s.CurrentURL = job.HostedURL
		})
		logger.Info().Str("url", job.HostedURL).Msg("Video ready")
		notify.Success(c.opts.Notifier, MsgReady)
	case OutcomeFailed:
		c.finish(func(s *State) {
			s.Phase = PhaseFailed
			s.StatusText = MsgFailed
			s.Error = MsgFailed
		})
		logger.Warn().Msg("Video generation failed")
		notify.Error(c.opts.Notifier, MsgFailed)
	case OutcomeTimedOut:
		c.finish(func(s *State) {
			s.Phase = PhaseTimedOut
			s.StatusText = msgTimedOutText
			s.Error = MsgTimedOut
		})
		logger.Warn().Msg("Video generation timed out")
		notify.Error(c.opts.Notifier, MsgTimedOut)
	case OutcomeError:
		c.finish(func(s *State) {
			s.Phase = PhaseIdle
			s.StatusText = MsgPollError
			s.Error = apperr.Message(err)
		})
		logger.Error().Err(err).Msg("Error polling video status")
		notify.Error(c.opts.Notifier, MsgPollError)
	case OutcomeCancelled:
		c.finish(func(s *State) {
			s.Phase = PhaseIdle
			s.StatusText = ""
		})
		logger.Debug().Msg("Video polling cancelled")
	}
}

func (c *Controller) onSample(s Sample) {
	observability.RecordVideoPoll(string(s.Job.Status))
	c.update(func(st *State) {
		st.Progress = s.Progress
		st.ElapsedMinutes = s.ElapsedMinutes
		if s.Job.Status != "" {
			st.Status = s.Job.Status
			if s.Job.Status != StatusCompleted && s.Job.Status != StatusFailed {
				st.StatusText = s.Job.Status.Message()
			}
		}
	})
}

// finish applies a terminal update and forgets the poller.
func (c *Controller) finish(mut func(*State)) {
	c.mu.Lock()
	mut(&c.state)
	c.cancel = nil
	st, fn := c.state, c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Controller) update(mut func(*State)) {
	c.mu.Lock()
	mut(&c.state)
	st, fn := c.state, c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
