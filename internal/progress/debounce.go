package progress

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before an auto-save is written.
const DefaultDebounce = 500 * time.Millisecond

// Debouncer coalesces bursts of calls into one deferred call. Arm resets the
// quiet period; only the most recently armed function runs.
type Debouncer struct {
	// run is held while a call executes so Flush and Cancel can wait for a
	// timer-fired call that is already in progress.
	run     sync.Mutex
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending func()
	gen     uint64
}

// NewDebouncer creates a Debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{delay: delay}
}

// Arm schedules fn to run after the quiet period, replacing any pending call.
func (d *Debouncer) Arm(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Cancel drops the pending call, if any, and waits for a call already
// running to return.
func (d *Debouncer) Cancel() {
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disarm()
}

// Flush runs the pending call synchronously, if one is armed. A call already
// running is waited for first.
func (d *Debouncer) Flush() {
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	fn := d.pending
	d.disarm()
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Pending reports whether a call is armed.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

func (d *Debouncer) fire(gen uint64) {
	d.run.Lock()
	defer d.run.Unlock()
	d.mu.Lock()
	// A timer that lost the race with Arm, Cancel or Flush is stale.
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()

	fn()
}

// disarm must be called with mu held.
func (d *Debouncer) disarm() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.gen++
}
