package narration

import (
	"sync"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

// Debouncer collapses bursts of calls into one, run after a quiet period.
type Debouncer struct {
	wait  time.Duration
	clock clock.Clock

	mu    sync.Mutex
	timer clock.Timer
}

func NewDebouncer(wait time.Duration, clk clock.Clock) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debouncer{wait: wait, clock: clk}
}

// Trigger schedules fn, replacing any call still waiting.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.wait, fn)
}

// Cancel drops a pending call, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
