package chat

import (
	"sync"
	"time"
)

// Window bounds a session to a fixed wall-clock duration. The countdown starts
// when the window is created and is not tied to protocol progress. Terminate
// guarantees the finalization path runs once no matter how many times expiry,
// shutdown or transport events race toward it.
type Window struct {
	timer    *time.Timer
	deadline time.Time

	once sync.Once
	done chan struct{}
}

// StartWindow starts a countdown of length d.
func StartWindow(d time.Duration) *Window {
	if d <= 0 {
		d = DefaultWindow
	}
	return &Window{
		timer:    time.NewTimer(d),
		deadline: time.Now().Add(d),
		done:     make(chan struct{}),
	}
}

// C fires once when the window expires.
func (w *Window) C() <-chan time.Time { return w.timer.C }

// Deadline is the instant the window expires.
func (w *Window) Deadline() time.Time { return w.deadline }

// Terminate runs fn if no earlier call did, stops the timer and reports whether fn ran.
func (w *Window) Terminate(fn func()) bool {
	ran := false
	w.once.Do(func() {
		w.timer.Stop()
		fn()
		close(w.done)
		ran = true
	})
	return ran
}

// Done is closed after termination completed.
func (w *Window) Done() <-chan struct{} { return w.done }
