// Package typewriter paces streamed text for display: characters drain
// from a queue in small fixed chunks so output appears typed rather than
// dumped.
package typewriter

import (
	"sync"
	"time"
)

const (
	defaultInterval = 30 * time.Millisecond
	defaultChunk    = 3
)

// Renderer drains queued text chunk by chunk, invoking the update
// callback with the full displayed text after each tick. The drain loop
// reschedules itself only while the queue is non-empty.
type Renderer struct {
	interval time.Duration
	chunk    int
	onUpdate func(string)

	mu        sync.Mutex
	queue     []rune
	displayed []rune
	timer     *time.Timer
	stopped   bool
}

// New creates a renderer. Zero interval and chunk take defaults. onUpdate
// may be nil.
func New(interval time.Duration, chunk int, onUpdate func(string)) *Renderer {
	if interval <= 0 {
		interval = defaultInterval
	}
	if chunk <= 0 {
		chunk = defaultChunk
	}
	return &Renderer{interval: interval, chunk: chunk, onUpdate: onUpdate}
}

// Append queues more text and starts the drain loop if idle.
func (r *Renderer) Append(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.queue = append(r.queue, []rune(text)...)
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, r.tick)
	}
}

func (r *Renderer) tick() {
	r.mu.Lock()
	if r.stopped || len(r.queue) == 0 {
		r.timer = nil
		r.mu.Unlock()
		return
	}

	n := r.chunk
	if n > len(r.queue) {
		n = len(r.queue)
	}
	r.displayed = append(r.displayed, r.queue[:n]...)
	r.queue = r.queue[n:]

	if len(r.queue) > 0 {
		r.timer = time.AfterFunc(r.interval, r.tick)
	} else {
		r.timer = nil
	}
	snapshot := string(r.displayed)
	cb := r.onUpdate
	r.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Complete clears the queue and snaps displayed text to the final full
// text, so display never ends truncated mid-drain.
func (r *Renderer) Complete(full string) {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.queue = nil
	r.displayed = []rune(full)
	cb := r.onUpdate
	r.mu.Unlock()

	if cb != nil {
		cb(full)
	}
}

// Displayed returns the text shown so far.
func (r *Renderer) Displayed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.displayed)
}

// Pending reports how many characters are still queued.
func (r *Renderer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Stop halts the drain loop without touching displayed text.
func (r *Renderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
