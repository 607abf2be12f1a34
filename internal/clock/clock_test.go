package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFuncFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	fired := 0
	c.AfterFunc(300*time.Millisecond, func() { fired++ })

	c.Advance(299 * time.Millisecond)
	if fired != 0 {
		t.Fatalf("Expected timer not to fire yet, fired %d times", fired)
	}

	c.Advance(time.Millisecond)
	if fired != 1 {
		t.Errorf("Expected timer to fire once, fired %d times", fired)
	}
	if c.Pending() != 0 {
		t.Errorf("Expected no pending timers, got %d", c.Pending())
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("Expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("Expected second Stop to report false")
	}

	c.Advance(2 * time.Second)
	if fired {
		t.Error("Expected stopped timer not to fire")
	}
}

func TestFake_AfterChannel(t *testing.T) {
	c := NewFake(time.Unix(100, 0))
	ch := c.After(15 * time.Second)

	c.Advance(15 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(time.Unix(115, 0)) {
			t.Errorf("Expected fire time 115s, got %v", got)
		}
	default:
		t.Fatal("Expected After channel to be ready")
	}
}
