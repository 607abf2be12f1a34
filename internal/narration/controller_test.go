package narration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindfulchat/meditation-gateway/internal/apperr"
	"github.com/mindfulchat/meditation-gateway/internal/clock"
	"github.com/mindfulchat/meditation-gateway/internal/media"
	"github.com/mindfulchat/meditation-gateway/internal/media/mediatest"
	"github.com/mindfulchat/meditation-gateway/internal/notify"
	"github.com/mindfulchat/meditation-gateway/internal/tts"
)

// fakeSpeaker returns audio for the request text. When block is set, Speak
// waits until the request is released or its context is cancelled.
type fakeSpeaker struct {
	mu        sync.Mutex
	requests  []tts.Request
	err       error
	publicURL string
	block     bool
	started   chan string
	release   chan struct{}
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{started: make(chan string, 16), release: make(chan struct{})}
}

func (f *fakeSpeaker) Speak(ctx context.Context, req tts.Request) (*tts.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	block, err, url := f.block, f.err, f.publicURL
	f.mu.Unlock()

	f.started <- req.Text
	if block {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.release:
		}
	}
	if err != nil {
		return nil, err
	}
	return &tts.Result{Audio: []byte("mp3:" + req.Text), PublicURL: url}, nil
}

func (f *fakeSpeaker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeMusic struct {
	mu           sync.Mutex
	plays, stops int
}

func (m *fakeMusic) Play(context.Context) error {
	m.mu.Lock()
	m.plays++
	m.mu.Unlock()
	return nil
}

func (m *fakeMusic) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *fakeMusic) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays, m.stops
}

type replies struct {
	text string
	ok   bool
}

func (r replies) LatestReply() (string, bool) { return r.text, r.ok }

type harness struct {
	ctrl    *Controller
	speaker *fakeSpeaker
	player  *mediatest.Player
	music   *fakeMusic
	blobs   *media.BlobStore
	notes   *notify.Recorder
	clock   *clock.Fake

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, r ReplySource) *harness {
	t.Helper()
	h := &harness{
		speaker: newFakeSpeaker(),
		player:  &mediatest.Player{},
		music:   &fakeMusic{},
		blobs:   media.NewBlobStore("http://gateway.test"),
		notes:   &notify.Recorder{},
		clock:   clock.NewFake(time.Unix(0, 0)),
	}
	h.ctrl = NewController(Options{
		UserID:   "user-1",
		Speaker:  h.speaker,
		Player:   h.player,
		Blobs:    h.blobs,
		Music:    h.music,
		Replies:  r,
		Notifier: h.notes,
		Clock:    h.clock,
		Logger:   zerolog.Nop(),
	})
	h.ctrl.OnState(func(s State) {
		h.mu.Lock()
		h.states = append(h.states, s)
		h.mu.Unlock()
	})
	t.Cleanup(h.ctrl.Close)
	return h
}

// drain waits until every task queued so far has finished.
func (h *harness) drain() {
	<-h.ctrl.queue.Submit(func() error { return nil })
}

func (h *harness) play(t *testing.T, text string) <-chan error {
	t.Helper()
	done, err := h.ctrl.PlaySpecificText(text)
	if err != nil {
		t.Fatalf("PlaySpecificText(%q) failed: %v", text, err)
	}
	return done
}

func TestPlaySpecificText_Lifecycle(t *testing.T) {
	h := newHarness(t, nil)

	done := h.play(t, "Breathe slowly")

	// Processing is published before the request completes.
	h.mu.Lock()
	first := h.states[0]
	h.mu.Unlock()
	if !first.Processing || first.Playing {
		t.Fatalf("Expected processing state first, got %+v", first)
	}

	if err := <-done; err != nil {
		t.Fatalf("Task failed: %v", err)
	}

	res := h.player.Last()
	if res == nil {
		t.Fatal("Expected a loaded resource")
	}
	if h.blobs.Len() != 1 {
		t.Fatalf("Expected one blob, got %d", h.blobs.Len())
	}

	res.Emit(media.EventPlay, nil)
	st := h.ctrl.State()
	if !st.Playing || st.Processing {
		t.Errorf("Expected playing state, got %+v", st)
	}
	if plays, _ := h.music.counts(); plays != 1 {
		t.Errorf("Expected background music to start, got %d plays", plays)
	}

	res.Emit(media.EventEnded, nil)
	st = h.ctrl.State()
	if st.Playing || st.Processing {
		t.Errorf("Expected idle state after end, got %+v", st)
	}
	attached, detached := res.Listeners()
	if attached != 3 || detached != 3 {
		t.Errorf("Expected 3 listeners attached and detached, got %d/%d", attached, detached)
	}
	if !res.Released() {
		t.Error("Expected resource to be released")
	}
	if h.blobs.Len() != 0 {
		t.Error("Expected blob to be revoked")
	}
	if _, stops := h.music.counts(); stops < 2 {
		t.Errorf("Expected background music to stop at teardown, got %d stops", stops)
	}
}

func TestPlaySpecificText_AtMostOnePlaying(t *testing.T) {
	h := newHarness(t, nil)

	texts := []string{"one", "two", "three", "four"}
	for _, text := range texts {
		if err := <-h.play(t, text); err != nil {
			t.Fatalf("Task %q failed: %v", text, err)
		}
		h.player.Last().Emit(media.EventPlay, nil)
		if n := h.player.PlayingCount(); n != 1 {
			t.Fatalf("Expected exactly one playing resource, got %d", n)
		}
	}

	resources := h.player.Resources()
	if len(resources) != len(texts) {
		t.Fatalf("Expected %d resources, got %d", len(texts), len(resources))
	}
	for _, r := range resources[:len(resources)-1] {
		attached, detached := r.Listeners()
		if attached != 3 || detached != 3 {
			t.Errorf("Resource %s: expected listeners detached exactly once each, got %d/%d", r.ID(), attached, detached)
		}
		if r.Position() != 0 {
			t.Errorf("Resource %s: expected rewind on teardown", r.ID())
		}
	}

	// A late event from a superseded resource is ignored.
	resources[0].Emit(media.EventEnded, nil)
	if !h.ctrl.State().Playing {
		t.Error("Stale ended event must not stop the current narration")
	}
}

func TestPlaySpecificText_BusyWhileQueued(t *testing.T) {
	h := newHarness(t, nil)

	gate := make(chan struct{})
	blocker := h.ctrl.queue.Submit(func() error {
		<-gate
		return nil
	})

	done := h.play(t, "first")
	if _, err := h.ctrl.PlaySpecificText("second"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	close(gate)
	<-blocker
	if err := <-done; err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	if h.speaker.calls() != 1 {
		t.Errorf("Expected one synthesis call, got %d", h.speaker.calls())
	}
}

func TestPlaySpecificText_SupersedesInFlightSynthesis(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.block = true

	first := h.play(t, "first")
	<-h.speaker.started

	second := h.play(t, "second")
	if err := <-first; !apperr.Is(err, apperr.KindAborted) {
		t.Errorf("Expected superseded request to be aborted, got %v", err)
	}

	<-h.speaker.started
	close(h.speaker.release)
	if err := <-second; err != nil {
		t.Fatalf("Second request failed: %v", err)
	}

	resources := h.player.Resources()
	if len(resources) != 1 {
		t.Fatalf("Expected only the second request to load audio, got %d resources", len(resources))
	}
	if len(h.notes.Notices()) != 0 {
		t.Errorf("Expected the aborted request to be discarded silently, got %+v", h.notes.Notices())
	}
}

func TestStop_AbortsSynthesis(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.block = true

	done := h.play(t, "long meditation")
	<-h.speaker.started

	h.ctrl.Stop()
	if err := <-done; !apperr.Is(err, apperr.KindAborted) {
		t.Errorf("Expected aborted, got %v", err)
	}

	st := h.ctrl.State()
	if st.Processing || st.Playing {
		t.Errorf("Expected idle after stop, got %+v", st)
	}
	if len(h.player.Resources()) != 0 {
		t.Error("Expected no resource to be loaded after stop")
	}
	if len(h.notes.Notices()) != 0 {
		t.Errorf("Expected no notification, got %+v", h.notes.Notices())
	}

	// The lock is released.
	close(h.speaker.release)
	if _, err := h.ctrl.PlaySpecificText("again"); err != nil {
		t.Errorf("Expected lock to be free after stop, got %v", err)
	}
}

func TestStop_HaltsPlayback(t *testing.T) {
	h := newHarness(t, nil)

	if err := <-h.play(t, "calm"); err != nil {
		t.Fatal(err)
	}
	res := h.player.Last()
	res.Emit(media.EventPlay, nil)

	h.ctrl.Stop()
	if res.Playing() || !res.Released() {
		t.Error("Expected resource stopped and released")
	}
	if _, detached := res.Listeners(); detached != 3 {
		t.Errorf("Expected 3 detaches, got %d", detached)
	}

	// A second stop does not detach again.
	h.ctrl.Stop()
	if _, detached := res.Listeners(); detached != 3 {
		t.Errorf("Expected listeners detached exactly once, got %d", detached)
	}
}

func TestPlaySpecificText_SynthesisFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.err = apperr.New(apperr.KindRateLimit, "Too many TTS requests. Please try again later.")

	if err := <-h.play(t, "hello"); err == nil {
		t.Fatal("Expected error")
	}
	if !h.notes.Has(notify.LevelError, "Failed to play audio: Too many TTS requests. Please try again later.") {
		t.Errorf("Expected failure notification, got %+v", h.notes.Notices())
	}
	st := h.ctrl.State()
	if st.Processing || st.Playing {
		t.Errorf("Expected idle after failure, got %+v", st)
	}
	if _, err := h.ctrl.PlaySpecificText("retry"); err != nil {
		t.Errorf("Expected lock released after failure, got %v", err)
	}
}

func TestPlaybackErrorEvent(t *testing.T) {
	h := newHarness(t, nil)

	if err := <-h.play(t, "hello"); err != nil {
		t.Fatal(err)
	}
	res := h.player.Last()
	res.Emit(media.EventError, errors.New("decode failed"))

	if !h.notes.Has(notify.LevelError, MsgPlaybackError) {
		t.Errorf("Expected playback error notification, got %+v", h.notes.Notices())
	}
	if !res.Released() || h.blobs.Len() != 0 {
		t.Error("Expected resource torn down")
	}
	if st := h.ctrl.State(); st.Processing || st.Playing {
		t.Errorf("Expected idle, got %+v", st)
	}
}

func TestPlayLatestResponse_NoMessages(t *testing.T) {
	h := newHarness(t, replies{})

	h.ctrl.PlayLatestResponse()
	h.clock.Advance(300 * time.Millisecond)
	h.drain()

	if h.speaker.calls() != 0 {
		t.Errorf("Expected no network call, got %d", h.speaker.calls())
	}
	if !h.notes.Has(notify.LevelError, MsgNoResponse) {
		t.Errorf("Expected %q notification, got %+v", MsgNoResponse, h.notes.Notices())
	}
}

func TestPlayLatestResponse_Debounced(t *testing.T) {
	h := newHarness(t, replies{text: "Let your shoulders drop.", ok: true})

	for i := 0; i < 4; i++ {
		h.ctrl.PlayLatestResponse()
		h.clock.Advance(50 * time.Millisecond)
	}
	h.drain()
	if h.speaker.calls() != 0 {
		t.Fatalf("Expected nothing before the quiet period, got %d calls", h.speaker.calls())
	}

	h.clock.Advance(300 * time.Millisecond)
	h.drain()
	if h.speaker.calls() != 1 {
		t.Errorf("Expected one synthesis call, got %d", h.speaker.calls())
	}
}

func TestLastAudioURL(t *testing.T) {
	h := newHarness(t, nil)
	h.speaker.publicURL = "https://gist.example/raw/audio.mp3"

	if err := <-h.play(t, "hello"); err != nil {
		t.Fatal(err)
	}
	if got := h.ctrl.LastAudioURL(); got != "https://gist.example/raw/audio.mp3" {
		t.Errorf("Unexpected LastAudioURL %q", got)
	}
}

func TestSetVoice(t *testing.T) {
	h := newHarness(t, nil)
	h.ctrl.SetVoice(tts.VoiceCassidy)

	if err := <-h.play(t, "hello"); err != nil {
		t.Fatal(err)
	}
	h.speaker.mu.Lock()
	voice := h.speaker.requests[0].Voice
	userID := h.speaker.requests[0].UserID
	h.speaker.mu.Unlock()
	if voice != "Cassidy" || userID != "user-1" {
		t.Errorf("Unexpected request voice=%s user=%s", voice, userID)
	}
}

func TestPlaySpecificText_BlankText(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.PlaySpecificText("   "); !errors.Is(err, ErrNothingToPlay) {
		t.Errorf("Expected ErrNothingToPlay, got %v", err)
	}
}
