// Package queue provides the per-conversation debounced message intake queue.
//
// A burst of rapid messages from one session is absorbed into a single batch:
// every arrival resets the session's timer, and only a timer that expires
// without cancellation drains the buffer into exactly one callback
// invocation. Sessions are isolated; each owns its buffer, timer and
// in-flight flag behind its own mutex, so sessions never contend with each
// other.
package queue

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDebounceInterval is the quiet period required before a session's
// pending messages become a batch.
const DefaultDebounceInterval = 2 * time.Second

// ProcessFunc handles one drained batch. It must not be invoked concurrently
// for the same session; errors are logged by the queue and never propagate
// back to the producer.
type ProcessFunc func(ctx context.Context, sessionID, combinedText string) error

// Opts holds configuration options for the debounce queue.
type Opts struct {
	Interval time.Duration
	Ctx      context.Context
}

// Option defines a configuration option for the debounce queue.
type Option func(*Opts)

// WithInterval sets the debounce quiet period.
func WithInterval(d time.Duration) Option {
	return func(o *Opts) { o.Interval = d }
}

// WithContext sets the base context passed to the processing callback.
func WithContext(ctx context.Context) Option {
	return func(o *Opts) { o.Ctx = ctx }
}

// entry owns the mutable state of one session. All fields are guarded by mu.
type entry struct {
	mu         sync.Mutex
	pending    []string
	timer      *time.Timer
	generation uint64 // bumped on every re-arm; a fired timer with a stale generation was cancelled
	inFlight   bool
}

// Queue coalesces per-session message bursts into single batch callbacks.
type Queue struct {
	interval time.Duration
	process  ProcessFunc
	ctx      context.Context

	mu      sync.Mutex // guards the entries map only, never held across entry locks
	entries map[string]*entry
}

// NewQueue creates a debounce queue that invokes process for every drained batch.
func NewQueue(process ProcessFunc, opts ...Option) *Queue {
	cfg := Opts{Interval: DefaultDebounceInterval, Ctx: context.Background()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultDebounceInterval
	}
	slog.Debug("NewQueue: debounce queue created", "interval", cfg.Interval)
	return &Queue{
		interval: cfg.Interval,
		process:  process,
		ctx:      cfg.Ctx,
		entries:  make(map[string]*entry),
	}
}

// Enqueue appends text to the session's pending buffer and restarts its
// debounce timer. It never blocks on processing; the producer can treat the
// call as fire-and-forget.
func (q *Queue) Enqueue(sessionID, text string) {
	e := q.entry(sessionID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, text)

	// Cancel any running timer. Stop may race with the timer firing; the
	// generation bump makes the stale firing observable and ignorable, so
	// cancellation stays silent and idempotent.
	if e.timer != nil {
		e.timer.Stop()
	}
	e.generation++
	gen := e.generation
	e.timer = time.AfterFunc(q.interval, func() {
		q.fire(sessionID, e, gen)
	})

	slog.Debug("Queue.Enqueue: message buffered", "session_id", sessionID, "pending", len(e.pending))
}

// Pending returns the number of buffered messages for a session. Intended
// for tests and ops introspection.
func (q *Queue) Pending(sessionID string) int {
	e := q.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// InFlight reports whether a batch for the session is currently processing.
func (q *Queue) InFlight(sessionID string) bool {
	e := q.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Stop cancels every pending timer. Buffered messages are left in place;
// in-flight callbacks run to completion.
func (q *Queue) Stop() {
	q.mu.Lock()
	entries := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	q.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.generation++
		e.mu.Unlock()
	}
	slog.Info("Queue.Stop: all pending timers cancelled", "sessions", len(entries))
}

// entry returns the session's entry, creating it if needed.
func (q *Queue) entry(sessionID string) *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[sessionID]
	if !ok {
		e = &entry{}
		q.entries[sessionID] = e
	}
	return e
}

// fire runs when a session's debounce timer expires. It drains the buffer
// into a batch and invokes the processing callback outside all locks, so the
// queue stays responsive to new enqueues for this and other sessions.
func (q *Queue) fire(sessionID string, e *entry, gen uint64) {
	e.mu.Lock()

	if gen != e.generation {
		// A newer message re-armed the timer after this one was stopped and
		// its goroutine already scheduled. Ignore the stale firing entirely.
		e.mu.Unlock()
		return
	}
	e.timer = nil

	if e.inFlight {
		// Should be unreachable: a batch only forms after the previous timer
		// fired, and the previous firing cleared the buffer. Defend anyway;
		// the buffer is kept and re-armed once the running batch completes.
		slog.Error("Queue.fire: timer fired while batch in flight, aborting", "session_id", sessionID)
		e.mu.Unlock()
		return
	}
	e.inFlight = true

	batch := e.pending
	e.pending = nil

	if len(batch) == 0 {
		e.inFlight = false
		e.mu.Unlock()
		return
	}
	combined := strings.Join(batch, "\n")
	e.mu.Unlock()

	slog.Debug("Queue.fire: dispatching batch", "session_id", sessionID, "messages", len(batch))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Queue.fire: process callback panicked", "session_id", sessionID, "panic", r)
		}
		e.mu.Lock()
		e.inFlight = false
		// Messages that arrived during an aborted firing would otherwise sit
		// without a timer; re-arm so they are never lost.
		if len(e.pending) > 0 && e.timer == nil {
			e.generation++
			gen := e.generation
			e.timer = time.AfterFunc(q.interval, func() {
				q.fire(sessionID, e, gen)
			})
		}
		e.mu.Unlock()
	}()

	if err := q.process(q.ctx, sessionID, combined); err != nil {
		slog.Error("Queue.fire: process callback failed", "session_id", sessionID, "error", err)
	}
}
