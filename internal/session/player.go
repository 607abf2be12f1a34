package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/media"
)

var errReleased = apperr.New(apperr.KindPlayback, "media resource released")

// RemotePlayer drives media elements in the browser. Commands go out as
// "media" messages; the browser reports back with "media_event".
type RemotePlayer struct {
	send func(ServerMessage) error

	mu        sync.Mutex
	resources map[string]*remoteResource
}

func NewRemotePlayer(send func(ServerMessage) error) *RemotePlayer {
	return &RemotePlayer{send: send, resources: make(map[string]*remoteResource)}
}

func (p *RemotePlayer) Load(ctx context.Context, src media.Source) (media.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := &remoteResource{
		id:        "res_" + uuid.NewString(),
		player:    p,
		listeners: make(map[media.Event]map[int]func(error)),
	}
	vol := src.Volume
	p.mu.Lock()
	p.resources[r.id] = r
	p.mu.Unlock()

	if err := p.command(MediaCommand{Op: OpLoad, Resource: r.id, URL: src.URL, Loop: src.Loop, Volume: &vol}); err != nil {
		p.forget(r.id)
		return nil, err
	}
	return r, nil
}

// Dispatch delivers a browser event to the resource's listeners. Events for
// unknown or released resources are dropped.
func (p *RemotePlayer) Dispatch(resourceID string, ev media.Event, errText string) bool {
	p.mu.Lock()
	r, ok := p.resources[resourceID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	var err error
	if ev == media.EventError {
		if errText == "" {
			errText = "media error"
		}
		err = apperr.New(apperr.KindPlayback, errText)
	}
	r.emit(ev, err)
	return true
}

// Len returns the number of live resources.
func (p *RemotePlayer) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

func (p *RemotePlayer) forget(id string) {
	p.mu.Lock()
	delete(p.resources, id)
	p.mu.Unlock()
}

func (p *RemotePlayer) command(cmd MediaCommand) error {
	if err := p.send(ServerMessage{Type: TypeMedia, Payload: cmd}); err != nil {
		return apperr.Wrap(apperr.KindPlayback, err, "media command not delivered")
	}
	return nil
}

type remoteResource struct {
	id     string
	player *RemotePlayer

	mu        sync.Mutex
	released  bool
	nextID    int
	listeners map[media.Event]map[int]func(error)
}

func (r *remoteResource) ID() string { return r.id }

func (r *remoteResource) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.do(MediaCommand{Op: OpPlay})
}

func (r *remoteResource) Pause() error { return r.do(MediaCommand{Op: OpPause}) }

func (r *remoteResource) Stop() error { return r.do(MediaCommand{Op: OpStop}) }

func (r *remoteResource) SetVolume(v float64) error {
	return r.do(MediaCommand{Op: OpVolume, Volume: &v})
}

func (r *remoteResource) On(ev media.Event, fn func(error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners[ev] == nil {
		r.listeners[ev] = make(map[int]func(error))
	}
	r.nextID++
	id := r.nextID
	r.listeners[ev][id] = fn
	return func() {
		r.mu.Lock()
		delete(r.listeners[ev], id)
		r.mu.Unlock()
	}
}

// Release tells the browser to drop the element. Releasing twice is a no-op.
func (r *remoteResource) Release() error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return nil
	}
	r.released = true
	r.listeners = make(map[media.Event]map[int]func(error))
	r.mu.Unlock()

	r.player.forget(r.id)
	err := r.player.command(MediaCommand{Op: OpRelease, Resource: r.id})
	if errors.Is(err, errSessionClosed) {
		return nil
	}
	return err
}

func (r *remoteResource) do(cmd MediaCommand) error {
	r.mu.Lock()
	released := r.released
	r.mu.Unlock()
	if released {
		return errReleased
	}
	cmd.Resource = r.id
	return r.player.command(cmd)
}

func (r *remoteResource) emit(ev media.Event, err error) {
	r.mu.Lock()
	fns := make([]func(error), 0, len(r.listeners[ev]))
	for _, fn := range r.listeners[ev] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
