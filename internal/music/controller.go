// Package music controls the looping background track played under
// narration.
package music

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/observability"
	"github.com/mindfulchat/meditation-gateway/internal/settings"
)

const (
	DefaultTrackURL  = "https://obgbnrasiyozdnmoixxx.supabase.co/storage/v1/object/public/music//piano.mp3"
	DefaultTrackName = "Default Piano Music"

	DefaultVolume  = 0.3
	UnmuteVolume   = 0.7
	MaxUploadBytes = 50 * 1024 * 1024

	MsgNotAudio       = "Please select an audio file"
	MsgTooLarge       = "Audio file size must be less than 50MB"
	MsgUploaded       = "Background music uploaded successfully"
	MsgLoadFailed     = "Failed to load audio file"
	MsgResetToDefault = "Reset to default piano music"
)

// Upload is a user-supplied audio file.
type Upload struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Track describes the active background track. Name is empty when no track
// could be loaded.
type Track struct {
	Name     string  `json:"name,omitempty"`
	Volume   float64 `json:"volume"`
	IsCustom bool    `json:"isCustom"`
}

type Options struct {
	DefaultURL     string
	DefaultName    string
	MaxUploadBytes int64
	// DefaultVolume applies until the user picks one. Nil means 0.3.
	DefaultVolume *float64
	UnmuteVolume  float64

	Player   media.Player
	Blobs    *media.BlobStore
	Settings settings.Store
	Notifier notify.Notifier
	Logger   zerolog.Logger
}

// Controller owns one looping media resource, either the default track or a
// user upload.
type Controller struct {
	opts          Options
	defaultVolume float64
	logger        zerolog.Logger

	// op serializes operations that replace or drive the resource.
	op sync.Mutex

	mu       sync.Mutex
	track    Track
	res      media.Resource
	detach   func()
	blobID   string
	listener func(Track)
}

func NewController(opts Options) *Controller {
	if opts.DefaultURL == "" {
		opts.DefaultURL = DefaultTrackURL
	}
	if opts.DefaultName == "" {
		opts.DefaultName = DefaultTrackName
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = MaxUploadBytes
	}
	defaultVolume := DefaultVolume
	if opts.DefaultVolume != nil {
		defaultVolume = clamp(*opts.DefaultVolume)
	}
	if opts.UnmuteVolume <= 0 {
		opts.UnmuteVolume = UnmuteVolume
	}
	if opts.Settings == nil {
		opts.Settings = settings.NewMemoryStore()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	return &Controller{
		opts:          opts,
		defaultVolume: defaultVolume,
		logger:        opts.Logger.With().Str("component", "music").Logger(),
		track:         Track{Volume: defaultVolume},
	}
}

// OnState registers a listener for track changes.
func (c *Controller) OnState(fn func(Track)) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

func (c *Controller) Track() Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

// Init restores the persisted volume and loads the default track.
func (c *Controller) Init(ctx context.Context) error {
	v := clamp(settings.Float(c.opts.Settings, settings.KeyMusicVolume, c.defaultVolume))
	c.mu.Lock()
	c.track.Volume = v
	c.mu.Unlock()

	c.op.Lock()
	defer c.op.Unlock()
	return c.loadDefaultLocked(ctx)
}

// Upload validates and adopts a user track. Rejected uploads change nothing.
func (c *Controller) Upload(ctx context.Context, up Upload) error {
	if !strings.HasPrefix(up.MIMEType, "audio/") {
		observability.RecordMusicUpload("rejected_type")
		notify.Error(c.opts.Notifier, MsgNotAudio)
		return apperr.New(apperr.KindValidation, MsgNotAudio)
	}
	if int64(len(up.Data)) > c.opts.MaxUploadBytes {
		observability.RecordMusicUpload("rejected_size")
		notify.Error(c.opts.Notifier, MsgTooLarge)
		return apperr.New(apperr.KindValidation, MsgTooLarge)
	}

	c.op.Lock()
	defer c.op.Unlock()

	c.releaseLocked()

	blob := c.opts.Blobs.Put(up.Data, up.MIMEType)
	res, err := c.opts.Player.Load(ctx, media.Source{
		URL:    c.opts.Blobs.URL(blob.ID),
		Loop:   true,
		Volume: c.Track().Volume,
	})
	if err != nil {
		c.opts.Blobs.Revoke(blob.ID)
		observability.RecordMusicUpload("load_failed")
		notify.Error(c.opts.Notifier, MsgLoadFailed)
		c.logger.Error().Err(err).Str("file", up.Name).Msg("Failed to load custom music")
		return c.loadDefaultLocked(ctx)
	}

	detach := res.On(media.EventError, func(err error) { c.onCustomError(res, err) })
	c.adopt(res, detach, blob.ID, up.Name, true)

	observability.RecordMusicUpload("accepted")
	c.logger.Info().Str("file", up.Name).Int("bytes", len(up.Data)).Msg("Custom background music loaded")
	notify.Success(c.opts.Notifier, MsgUploaded)
	return nil
}

// Remove discards a custom track and returns to the default one.
func (c *Controller) Remove(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.releaseLocked()
	if err := c.loadDefaultLocked(ctx); err != nil {
		return err
	}
	notify.Success(c.opts.Notifier, MsgResetToDefault)
	return nil
}

// SetVolume clamps v to [0,1], applies it and persists it.
func (c *Controller) SetVolume(v float64) error {
	v = clamp(v)

	c.mu.Lock()
	c.track.Volume = v
	res := c.res
	t, fn := c.track, c.listener
	c.mu.Unlock()

	if res != nil {
		if err := res.SetVolume(v); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to apply volume")
		}
	}
	if fn != nil {
		fn(t)
	}
	return settings.SetFloat(c.opts.Settings, settings.KeyMusicVolume, v)
}

// ToggleMute silences the track or restores the unmute level.
func (c *Controller) ToggleMute() error {
	if c.Track().Volume == 0 {
		return c.SetVolume(c.opts.UnmuteVolume)
	}
	return c.SetVolume(0)
}

// Play starts the loaded track. A default track that fails to play is
// reloaded.
func (c *Controller) Play(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	res, t := c.res, c.track
	c.mu.Unlock()
	if res == nil || t.Name == "" {
		return nil
	}

	if err := res.Play(ctx); err != nil {
		c.logger.Error().Err(err).Str("track", t.Name).Msg("Error playing background music")
		if !t.IsCustom {
			c.releaseLocked()
			return c.loadDefaultLocked(ctx)
		}
		return err
	}
	c.logger.Debug().Str("track", t.Name).Bool("custom", t.IsCustom).Msg("Background music started")
	return nil
}

// Resume continues a paused track.
func (c *Controller) Resume(ctx context.Context) error {
	c.op.Lock()
	defer c.op.Unlock()

	c.mu.Lock()
	res, t := c.res, c.track
	c.mu.Unlock()
	if res == nil || t.Name == "" {
		return nil
	}
	if err := res.Play(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Error resuming background music")
		return err
	}
	return nil
}

// Stop pauses and rewinds.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()
	if res := c.resource(); res != nil {
		return res.Stop()
	}
	return nil
}

// Pause pauses without rewinding.
func (c *Controller) Pause() error {
	c.op.Lock()
	defer c.op.Unlock()
	if res := c.resource(); res != nil {
		return res.Pause()
	}
	return nil
}

// Close releases the active resource.
func (c *Controller) Close() {
	c.op.Lock()
	defer c.op.Unlock()
	c.releaseLocked()
}

func (c *Controller) resource() media.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.res
}

// loadDefaultLocked replaces the active resource with the default track.
// The caller holds c.op and has released the previous resource.
func (c *Controller) loadDefaultLocked(ctx context.Context) error {
	c.releaseLocked()

	res, err := c.opts.Player.Load(ctx, media.Source{
		URL:    c.opts.DefaultURL,
		Loop:   true,
		Volume: c.Track().Volume,
	})
	if err != nil {
		// No notification for the default track.
		c.logger.Warn().Err(err).Msg("Default music failed to load")
		c.adopt(nil, nil, "", "", false)
		return nil
	}

	detach := res.On(media.EventError, func(err error) { c.onDefaultError(res, err) })
	c.adopt(res, detach, "", c.opts.DefaultName, false)
	return nil
}

func (c *Controller) onDefaultError(res media.Resource, err error) {
	c.mu.Lock()
	if c.res != res {
		c.mu.Unlock()
		return
	}
	c.track.Name = ""
	t, fn := c.track, c.listener
	c.mu.Unlock()

	c.logger.Warn().Err(err).Msg("Default music failed to load")
	if fn != nil {
		fn(t)
	}
}

func (c *Controller) onCustomError(res media.Resource, err error) {
	c.op.Lock()
	defer c.op.Unlock()

	if c.resource() != res {
		return
	}
	c.logger.Error().Err(err).Msg("Custom music failed to load")
	notify.Error(c.opts.Notifier, MsgLoadFailed)
	observability.RecordMusicUpload("load_failed")
	// releaseLocked revokes the custom blob.
	_ = c.loadDefaultLocked(context.Background())
}

// adopt installs res as the active resource and publishes the new track.
func (c *Controller) adopt(res media.Resource, detach func(), blobID, name string, custom bool) {
	c.mu.Lock()
	c.res = res
	c.detach = detach
	c.blobID = blobID
	c.track.Name = name
	c.track.IsCustom = custom
	t, fn := c.track, c.listener
	c.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

// releaseLocked pauses and releases the active resource and revokes its
// blob. The caller holds c.op.
func (c *Controller) releaseLocked() {
	c.mu.Lock()
	res, detach, blobID := c.res, c.detach, c.blobID
	c.res, c.detach, c.blobID = nil, nil, ""
	c.mu.Unlock()

	if res == nil {
		return
	}
	_ = res.Pause()
	if detach != nil {
		detach()
	}
	_ = res.Release()
	if blobID != "" && c.opts.Blobs != nil {
		c.opts.Blobs.Revoke(blobID)
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
