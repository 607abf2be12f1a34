// Package mediatest provides an in-memory media.Player for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/mindfulchat/meditation-gateway/internal/media"
)

// Player records every resource it loads.
type Player struct {
	mu        sync.Mutex
	resources []*Resource
	nextID    int

	// LoadErr, when set, is returned by Load.
	LoadErr error
	// PlayErr, when set, is returned by every Resource.Play.
	PlayErr error
}

func (p *Player) Load(_ context.Context, src media.Source) (media.Resource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	p.nextID++
	r := &Resource{
		id:        fmt.Sprintf("res-%d", p.nextID),
		src:       src,
		volume:    src.Volume,
		listeners: make(map[media.Event]map[int]func(error)),
		player:    p,
	}
	p.resources = append(p.resources, r)
	return r, nil
}

// Resources returns every loaded resource in load order.
func (p *Player) Resources() []*Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Resource, len(p.resources))
	copy(out, p.resources)
	return out
}

// Last returns the most recently loaded resource, or nil.
func (p *Player) Last() *Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.resources) == 0 {
		return nil
	}
	return p.resources[len(p.resources)-1]
}

// PlayingCount returns how many resources are currently playing.
func (p *Player) PlayingCount() int {
	n := 0
	for _, r := range p.Resources() {
		if r.Playing() {
			n++
		}
	}
	return n
}

// Resource is a fake media element.
type Resource struct {
	id     string
	src    media.Source
	player *Player

	mu        sync.Mutex
	playing   bool
	position  int
	volume    float64
	released  bool
	plays     int
	stops     int
	pauses    int
	nextLis   int
	listeners map[media.Event]map[int]func(error)
	attached  int
	detached  int
}

func (r *Resource) ID() string          { return r.id }
func (r *Resource) Source() media.Source { return r.src }

func (r *Resource) Play(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays++
	if r.player.PlayErr != nil {
		return r.player.PlayErr
	}
	r.playing = true
	r.position++
	return nil
}

func (r *Resource) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses++
	r.playing = false
	return nil
}

func (r *Resource) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.playing = false
	r.position = 0
	return nil
}

func (r *Resource) SetVolume(v float64) error {
	r.mu.Lock()
	r.volume = v
	r.mu.Unlock()
	return nil
}

func (r *Resource) On(ev media.Event, fn func(error)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listeners[ev] == nil {
		r.listeners[ev] = make(map[int]func(error))
	}
	r.nextLis++
	id := r.nextLis
	r.listeners[ev][id] = fn
	r.attached++

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.listeners[ev][id]; ok {
			delete(r.listeners[ev], id)
		}
		r.detached++
	}
}

func (r *Resource) Release() error {
	r.mu.Lock()
	r.released = true
	r.playing = false
	r.mu.Unlock()
	return nil
}

// Emit fires ev to the currently attached listeners.
func (r *Resource) Emit(ev media.Event, err error) {
	r.mu.Lock()
	if ev != media.EventPlay {
		r.playing = false
	}
	fns := make([]func(error), 0, len(r.listeners[ev]))
	for _, fn := range r.listeners[ev] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

func (r *Resource) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

func (r *Resource) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

func (r *Resource) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Position is 0 after Stop and grows with each Play.
func (r *Resource) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Counts returns the number of Play, Pause and Stop calls.
func (r *Resource) Counts() (plays, pauses, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plays, r.pauses, r.stops
}

// Listeners returns how many listeners were attached and how many detach
// calls were made.
func (r *Resource) Listeners() (attached, detached int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached, r.detached
}
