package media

import "context"

// Event is a lifecycle notification raised by a Resource.
type Event string

const (
	EventPlay  Event = "play"
	EventEnded Event = "ended"
	EventError Event = "error"
)

// Source describes what a Resource should load.
type Source struct {
	URL    string
	Loop   bool
	Volume float64
}

// Player creates playable resources on the client.
type Player interface {
	Load(ctx context.Context, src Source) (Resource, error)
}

// Resource is one media element. Listeners registered with On receive the
// event's error (nil for play and ended) and are removed by calling the
// returned detach function.
type Resource interface {
	ID() string
	Play(ctx context.Context) error
	Pause() error
	// Stop pauses and rewinds to the start.
	Stop() error
	SetVolume(v float64) error
	On(ev Event, fn func(error)) (detach func())
	Release() error
}
