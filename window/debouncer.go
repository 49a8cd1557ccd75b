package window

import (
	"sync"
	"time"

	"github.com/surehelp/flume/queue"
)

// DebounceFlushFunc receives a closed per-key window: every coalesced
// message in arrival order, the last being the one whose payload should
// execute.
type DebounceFlushFunc func(key string, msgs []*queue.Message)

// debounceWindow is one open per-key window. gen advances every time
// the quiet timer is rearmed; a timer that fires with a stale gen lost
// the race with an Add and must not flush.
type debounceWindow struct {
	msgs     []*queue.Message
	quiet    *time.Timer
	gen      uint64
	deadline time.Time
}

// Debouncer coalesces bursts of messages per key for one debounced job.
// Each Add restarts the key's quiet-period timer; the window closes when
// the key goes quiet for the full period, or at the hard timeout measured
// from the first message, whichever comes first. The hard timeout bounds
// staleness under a sustained stream of updates.
//
// It is safe for concurrent use.
type Debouncer struct {
	period  time.Duration
	timeout time.Duration
	flush   DebounceFlushFunc

	mu      sync.Mutex
	windows map[string]*debounceWindow
	closed  bool
}

// NewDebouncer creates a debouncer for one job. flush runs on a timer
// goroutine, or on the caller's goroutine during Close.
func NewDebouncer(period, timeout time.Duration, flush DebounceFlushFunc) *Debouncer {
	if timeout < period {
		timeout = period
	}
	return &Debouncer{
		period:  period,
		timeout: timeout,
		flush:   flush,
		windows: make(map[string]*debounceWindow),
	}
}

// Add appends a reserved message to the key's window, opening one if
// needed, and restarts the quiet-period timer. The timer never extends
// past the window's hard deadline.
func (d *Debouncer) Add(key string, msg *queue.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	w := d.windows[key]
	if w == nil {
		w = &debounceWindow{deadline: time.Now().Add(d.timeout)}
		d.windows[key] = w
	}
	w.msgs = append(w.msgs, msg)

	wait := d.period
	if until := time.Until(w.deadline); until < wait {
		wait = until
		if wait < 0 {
			wait = 0
		}
	}
	if w.quiet != nil {
		// Stop can miss a timer that already fired and is waiting on
		// d.mu; the gen bump below invalidates it either way.
		w.quiet.Stop()
	}
	w.gen++
	gen := w.gen
	w.quiet = time.AfterFunc(wait, func() { d.fire(key, gen) })
}

// fire closes the key's window and flushes it. A stale gen means the
// window was rearmed after this timer was set, so the flush is skipped.
func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	w := d.windows[key]
	if w == nil || w.gen != gen || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.windows, key)
	d.mu.Unlock()

	d.flush(key, w.msgs)
}

// Pending returns the number of open windows.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// Close flushes every open window and rejects further Adds.
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	windows := d.windows
	d.windows = make(map[string]*debounceWindow)
	d.mu.Unlock()

	for key, w := range windows {
		if w.quiet != nil {
			w.quiet.Stop()
		}
		d.flush(key, w.msgs)
	}
}
