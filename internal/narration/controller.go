// Package narration reads chat replies aloud. It owns at most one playing
// narration resource and coordinates background music around it.
package narration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/tts"
)

var (
	// ErrBusy is returned when a play request arrives while another one
	// still holds the lock.
	ErrBusy = errors.New("narration: a playback request is already pending")
	// ErrNothingToPlay is returned for blank text.
	ErrNothingToPlay = apperr.New(apperr.KindValidation, "Nothing to play")
)

const (
	MsgNoResponse    = "No AI response to play"
	MsgPlaybackError = "Playback error"
	msgPlayFailed    = "Failed to play audio: "
)

// Speaker synthesizes speech. *tts.Service satisfies it.
type Speaker interface {
	Speak(ctx context.Context, req tts.Request) (*tts.Result, error)
}

// Background is the music started while narration plays.
type Background interface {
	Play(ctx context.Context) error
	Stop() error
}

// ReplySource yields the text of the most recent AI reply.
type ReplySource interface {
	LatestReply() (string, bool)
}

// State is what clients render for narration.
type State struct {
	Processing   bool      `json:"processing"`
	Playing      bool      `json:"playing"`
	Voice        tts.Voice `json:"voice"`
	LastAudioURL string    `json:"lastAudioUrl,omitempty"`
}

// Options configures a Controller.
type Options struct {
	UserID   string
	Voice    tts.Voice
	Debounce time.Duration

	Speaker  Speaker
	Player   media.Player
	Blobs    *media.BlobStore
	Music    Background
	Replies  ReplySource
	Notifier notify.Notifier
	Clock    clock.Clock
	Logger   zerolog.Logger
	Metrics  *observability.SessionMetrics
}

// playback is one loaded narration resource and everything needed to tear
// it down.
type playback struct {
	res    media.Resource
	blobID string
	detach []func()
	once   sync.Once
}

func (p *playback) teardown(blobs *media.BlobStore) {
	p.once.Do(func() {
		_ = p.res.Stop()
		for _, d := range p.detach {
			d()
		}
		_ = p.res.Release()
		if blobs != nil {
			blobs.Revoke(p.blobID)
		}
	})
}

// Controller serializes narration requests through a TaskQueue guarded by a
// single lock.
type Controller struct {
	opts      Options
	queue     *TaskQueue
	debouncer *Debouncer
	logger    zerolog.Logger
	lifetime  context.Context
	shutdown  context.CancelFunc

	mu       sync.Mutex
	locked   bool
	gen      uint64
	cancel   context.CancelFunc
	current  *playback
	state    State
	listener func(State)
}

func NewController(opts Options) *Controller {
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Voice == "" {
		opts.Voice = tts.DefaultVoice
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 300 * time.Millisecond
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	return &Controller{
		opts:      opts,
		queue:     NewTaskQueue(8),
		debouncer: NewDebouncer(opts.Debounce, opts.Clock),
		logger:    opts.Logger.With().Str("component", "narration").Logger(),
		lifetime:  lifetime,
		shutdown:  shutdown,
		state:     State{Voice: opts.Voice},
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
	return c.state
}

// LastAudioURL returns the public URL of the most recent synthesized audio.
func (c *Controller) LastAudioURL() string {
	return c.State().LastAudioURL
}

// SetVoice changes the voice used by later requests.
func (c *Controller) SetVoice(v tts.Voice) {
	c.update(func(s *State) { s.Voice = v })
}

// PlaySpecificText narrates text. The processing state is published before
// returning; the returned channel reports the queued task's result.
func (c *Controller) PlaySpecificText(text string) (<-chan error, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNothingToPlay
	}

	c.mu.Lock()
	if c.locked {
		c.mu.Unlock()
		observability.RecordNarrationRejected()
		return nil, ErrBusy
	}
	c.locked = true
	c.gen++
	gen := c.gen
	if c.cancel != nil {
		// supersede the request still synthesizing
		c.cancel()
	}
	ctx, cancel := context.WithCancel(c.lifetime)
	c.cancel = cancel
	c.state.Processing = true
	c.state.Playing = false
	voice := c.state.Voice
	st, fn := c.state, c.listener
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordNarrationStart()
	}

	return c.queue.Submit(func() error {
		return c.run(ctx, gen, text, voice)
	}), nil
}

// PlayLatestResponse narrates the latest AI reply after a quiet period.
// Repeated calls within the period collapse into one.
func (c *Controller) PlayLatestResponse() {
	c.debouncer.Trigger(c.playLatest)
}

func (c *Controller) playLatest() {
	text, ok := "", false
	if c.opts.Replies != nil {
		text, ok = c.opts.Replies.LatestReply()
	}
	if !ok || strings.TrimSpace(text) == "" {
		notify.Error(c.opts.Notifier, MsgNoResponse)
		return
	}
	if _, err := c.PlaySpecificText(text); err != nil {
		c.logger.Debug().Err(err).Msg("Latest response not played")
	}
}

// Stop aborts any in-flight synthesis, halts playback and releases the lock.
func (c *Controller) Stop() {
	c.debouncer.Cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	cur := c.current
	c.current = nil
	c.locked = false
	c.state.Processing = false
	c.state.Playing = false
	st, fn := c.state, c.listener
	c.mu.Unlock()

	if cur != nil {
		cur.teardown(c.opts.Blobs)
		c.recordEnd("cancelled")
	}
	c.stopMusic()
	if fn != nil {
		fn(st)
	}
}

// Close stops playback and the worker.
func (c *Controller) Close() {
	c.Stop()
	c.shutdown()
	c.queue.Close()
}

func (c *Controller) run(ctx context.Context, gen uint64, text string, voice tts.Voice) error {
	// Release the previous resource and the lock before starting.
	c.mu.Lock()
	prev := c.current
	c.current = nil
	if c.gen == gen {
		c.locked = false
	}
	c.mu.Unlock()
	if prev != nil {
		prev.teardown(c.opts.Blobs)
	}
	c.stopMusic()

	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindAborted, err, "")
	}

	start := time.Now()
	res, err := c.opts.Speaker.Speak(ctx, tts.Request{Text: text, Voice: string(voice), UserID: c.opts.UserID})
	if ctx.Err() != nil {
		c.logger.Debug().Msg("Discarding superseded narration")
		return apperr.Wrap(apperr.KindAborted, ctx.Err(), "")
	}
	if err != nil {
		c.fail(gen, err)
		return err
	}
	c.logger.Info().
		Dur("synthesis_time", time.Since(start)).
		Int("audio_bytes", len(res.Audio)).
		Str("voice", string(voice)).
		Msg("Narration synthesized")

	c.mu.Lock()
	if res.PublicURL != "" {
		c.state.LastAudioURL = res.PublicURL
	}
	c.mu.Unlock()

	var blob *media.Blob
	src := media.Source{Volume: 1}
	if c.opts.Blobs != nil {
		blob = c.opts.Blobs.Put(res.Audio, "audio/mpeg")
		src.URL = c.opts.Blobs.URL(blob.ID)
	} else {
		src.URL = res.PublicURL
	}

	resource, err := c.opts.Player.Load(ctx, src)
	if err != nil {
		if blob != nil {
			c.opts.Blobs.Revoke(blob.ID)
		}
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindAborted, ctx.Err(), "")
		}
		c.fail(gen, err)
		return err
	}

	pb := &playback{res: resource}
	if blob != nil {
		pb.blobID = blob.ID
	}
	pb.detach = []func(){
		resource.On(media.EventPlay, func(error) { c.onPlay(pb) }),
		resource.On(media.EventEnded, func(error) { c.finish(pb) }),
		resource.On(media.EventError, func(err error) {
			c.logger.Error().Err(err).Msg("Narration playback error")
			notify.Error(c.opts.Notifier, MsgPlaybackError)
			c.finish(pb)
		}),
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		pb.teardown(c.opts.Blobs)
		return apperr.Wrap(apperr.KindAborted, ctx.Err(), "")
	}
	c.current = pb
	c.mu.Unlock()

	if err := resource.Play(ctx); err != nil {
		c.finish(pb)
		if ctx.Err() != nil {
			return apperr.Wrap(apperr.KindAborted, ctx.Err(), "")
		}
		c.fail(gen, err)
		return err
	}
	return nil
}

// fail reports a failed request and returns to idle unless a newer request
// has taken over.
func (c *Controller) fail(gen uint64, err error) {
	c.logger.Error().Err(err).Msg("Narration failed")
	notify.Error(c.opts.Notifier, msgPlayFailed+apperr.Message(err))
	c.recordEnd("failed")

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.locked = false
	c.state.Processing = false
	c.state.Playing = false
	st, fn := c.state, c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *Controller) onPlay(pb *playback) {
	c.mu.Lock()
	if c.current != pb {
		c.mu.Unlock()
		return
	}
	c.state.Playing = true
	c.state.Processing = false
	st, fn := c.state, c.listener
	c.mu.Unlock()

	c.recordEnd("played")
	if fn != nil {
		fn(st)
	}
	if c.opts.Music != nil {
		if err := c.opts.Music.Play(c.lifetime); err != nil {
			c.logger.Warn().Err(err).Msg("Background music did not start")
		}
	}
}

// finish tears down pb after it ended or failed.
func (c *Controller) finish(pb *playback) {
	c.mu.Lock()
	if c.current != pb {
		c.mu.Unlock()
		return
	}
	c.current = nil
	pending := c.locked
	if !pending {
		c.state.Processing = false
	}
	c.state.Playing = false
	st, fn := c.state, c.listener
	c.mu.Unlock()

	pb.teardown(c.opts.Blobs)
	c.stopMusic()
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

func (c *Controller) stopMusic() {
	if c.opts.Music == nil {
		return
	}
	if err := c.opts.Music.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop background music")
	}
}

func (c *Controller) recordEnd(outcome string) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RecordNarrationEnd(outcome)
	}
}
