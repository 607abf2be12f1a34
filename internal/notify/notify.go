package notify

import "sync"

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a user-visible notification.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notifier delivers notices to the user.
type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to a Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

func Error(n Notifier, msg string)   { n.Notify(Notice{Level: LevelError, Message: msg}) }
func Success(n Notifier, msg string) { n.Notify(Notice{Level: LevelSuccess, Message: msg}) }
func Info(n Notifier, msg string)    { n.Notify(Notice{Level: LevelInfo, Message: msg}) }

// Recorder keeps every notice it receives.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Has reports whether a notice with the given level and message was recorded.
func (r *Recorder) Has(level Level, msg string) bool {
	for _, n := range r.Notices() {
		if n.Level == level && n.Message == msg {
			return true
		}
	}
	return false
}
