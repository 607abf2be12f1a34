package video

import (
	"context"
	"math"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

const (
	DefaultPollInterval = 15 * time.Second
	DefaultHorizon      = 90 * time.Minute
)

// Outcome is the result of one poll step.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeTimedOut
	OutcomeError
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Report is one status response from the renderer.
type Report struct {
	Status    Status `json:"status"`
	HostedURL string `json:"hosted_url,omitempty"`
}

// PollFunc fetches the current status of a job.
type PollFunc func(ctx context.Context) (Report, error)

// Sample is the progress computed at each step.
type Sample struct {
	Elapsed        time.Duration
	Progress       float64
	ElapsedMinutes int
	Job            Job
}

// Poller samples a job on a fixed interval until it completes with a URL,
// fails, or the horizon passes.
type Poller struct {
	Clock    clock.Clock
	Interval time.Duration
	Horizon  time.Duration
	Poll     PollFunc
	// OnSample, when set, is called after every step.
	OnSample func(Sample)

	start time.Time
	job   Job
	done  bool
}

// NewPoller creates a poller for jobID starting now.
func NewPoller(jobID string, clk clock.Clock, interval, horizon time.Duration, poll PollFunc) *Poller {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Poller{
		Clock:    clk,
		Interval: interval,
		Horizon:  horizon,
		Poll:     poll,
		start:    clk.Now(),
		job:      Job{ID: jobID},
	}
}

// Job returns the job as last observed.
func (p *Poller) Job() Job { return p.job }

// Step takes one sample. A sample at or past the horizon times out without
// polling. After a non-pending outcome, Step does nothing further.
func (p *Poller) Step(ctx context.Context) (Outcome, error) {
	if p.done {
		return OutcomeCancelled, nil
	}

	elapsed := p.Clock.Now().Sub(p.start)
	sample := Sample{
		Elapsed:        elapsed,
		Progress:       math.Min(float64(elapsed)/float64(p.Horizon)*100, 100),
		ElapsedMinutes: int(elapsed / time.Minute),
	}

	if elapsed >= p.Horizon {
		p.done = true
		sample.Job = p.job
		p.emit(sample)
		return OutcomeTimedOut, nil
	}

	report, err := p.Poll(ctx)
	if err != nil {
		p.done = true
		sample.Job = p.job
		p.emit(sample)
		if ctx.Err() != nil {
			return OutcomeCancelled, ctx.Err()
		}
		return OutcomeError, err
	}

	p.job.Observe(report.Status, report.HostedURL)
	sample.Job = p.job
	p.emit(sample)

	switch {
	case p.job.Status == StatusCompleted && p.job.HostedURL != "":
		p.done = true
		return OutcomeCompleted, nil
	case p.job.Status == StatusFailed:
		p.done = true
		return OutcomeFailed, nil
	default:
		return OutcomePending, nil
	}
}

// Run samples immediately and then every Interval until a non-pending
// outcome or ctx is done.
func (p *Poller) Run(ctx context.Context) (Outcome, error) {
	for {
		outcome, err := p.Step(ctx)
		if outcome != OutcomePending {
			return outcome, err
		}
		select {
		case <-ctx.Done():
			p.done = true
			return OutcomeCancelled, ctx.Err()
		case <-p.Clock.After(p.Interval):
		}
	}
}

func (p *Poller) emit(s Sample) {
	if p.OnSample != nil {
		p.OnSample(s)
	}
}
