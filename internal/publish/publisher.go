// Package publish makes synthesized audio reachable at a public URL so
// that external services (the video renderer) can fetch it.
package publish

import "context"

// AudioPublisher uploads MP3 bytes and returns a publicly reachable URL.
type AudioPublisher interface {
	Publish(ctx context.Context, audioBase64 string) (string, error)
}
