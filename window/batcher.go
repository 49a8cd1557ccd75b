package window

import (
	"sync"
	"time"

	"github.com/surehelp/flume/queue"
)

// FlushFunc receives a closed window's messages in arrival order.
type FlushFunc func(msgs []*queue.Message)

// Batcher accumulates messages for one batch job and flushes when either
// the window reaches maxSize (immediately) or the oldest message has
// waited maxWait. It is safe for concurrent use.
type Batcher struct {
	maxSize int
	maxWait time.Duration
	flush   FlushFunc

	mu     sync.Mutex
	buf    []*queue.Message
	timer  *time.Timer
	closed bool
}

// NewBatcher creates a batcher for one job. flush is called with each
// closed window; a size-triggered flush runs on the caller's goroutine,
// a time-triggered one on the timer's.
func NewBatcher(maxSize int, maxWait time.Duration, flush FlushFunc) *Batcher {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Batcher{
		maxSize: maxSize,
		maxWait: maxWait,
		flush:   flush,
	}
}

// Add appends a reserved message to the current window. If the window
// reaches maxSize it flushes before Add returns, so a full batch never
// waits out the timer.
func (b *Batcher) Add(msg *queue.Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	b.buf = append(b.buf, msg)
	if len(b.buf) >= b.maxSize {
		msgs := b.takeLocked()
		b.mu.Unlock()
		b.flush(msgs)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxWait, b.flushExpired)
	}
	b.mu.Unlock()
}

// flushExpired closes the window when the oldest message's wait elapses.
func (b *Batcher) flushExpired() {
	b.mu.Lock()
	if b.closed || len(b.buf) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	msgs := b.takeLocked()
	b.mu.Unlock()
	b.flush(msgs)
}

// takeLocked drains the buffer and stops the pending timer. Callers must
// hold b.mu.
func (b *Batcher) takeLocked() []*queue.Message {
	msgs := b.buf
	b.buf = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return msgs
}

// Len returns the number of messages waiting in the open window.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close flushes any open window and rejects further Adds. Used during
// shutdown so buffered messages execute rather than waiting out their
// visibility timeout.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	msgs := b.takeLocked()
	b.mu.Unlock()

	if len(msgs) > 0 {
		b.flush(msgs)
	}
}
