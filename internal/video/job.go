package video

import (
	"fmt"
	"time"
)

// Status is the job status vocabulary reported by the renderer.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRendering  Status = "rendering"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusProcessing:
		return 2
	case StatusRendering:
		return 3
	case StatusUploading:
		return 4
	case StatusCompleted:
		return 5
	case StatusFailed:
		// Outranks a completed report that never carried a URL.
		return 6
	default:
		return 0
	}
}

// Message is the progress text shown for a non-terminal status.
func (s Status) Message() string {
	switch s {
	case StatusQueued:
		return "Video queued for processing..."
	case StatusProcessing:
		return "Video is being processed..."
	case StatusRendering:
		return "Video is being rendered..."
	case StatusUploading:
		return "Video is being uploaded..."
	default:
		return fmt.Sprintf("Video status: %s", s)
	}
}

// Job tracks one render. Status only moves forward and the hosted URL is
// fixed once the job has completed with one.
type Job struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	HostedURL string `json:"hostedUrl,omitempty"`
}

// Observe applies a reported status and returns whether the job changed.
// Regressions and reports after a terminal state are ignored.
func (j *Job) Observe(status Status, hostedURL string) bool {
	if j.Done() {
		return false
	}
	changed := false
	if status.rank() > j.Status.rank() || (status.rank() == 0 && j.Status.rank() == 0 && status != j.Status) {
		j.Status = status
		changed = true
	}
	if j.Status == StatusCompleted && hostedURL != "" && j.HostedURL == "" {
		j.HostedURL = hostedURL
		changed = true
	}
	return changed
}

// Done reports whether the job completed with a URL or failed.
func (j *Job) Done() bool {
	return (j.Status == StatusCompleted && j.HostedURL != "") || j.Status == StatusFailed
}

// GeneratedVideo is a finished render kept in the session history.
type GeneratedVideo struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
