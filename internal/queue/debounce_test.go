package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// collector records callback invocations for assertions.
type collector struct {
	mu      sync.Mutex
	batches []string
	bySess  map[string][]string
}

func newCollector() *collector {
	return &collector{bySess: make(map[string][]string)}
}

func (c *collector) process(ctx context.Context, sessionID, combined string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, combined)
	c.bySess[sessionID] = append(c.bySess[sessionID], combined)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *collector) batch(i int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[i]
}

func TestEnqueue_CoalescesBurst(t *testing.T) {
	col := newCollector()
	q := NewQueue(col.process, WithInterval(100*time.Millisecond))

	q.Enqueue("s1", "Mensaje 1")
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("s1", "Mensaje 2")
	time.Sleep(20 * time.Millisecond)
	q.Enqueue("s1", "Mensaje 3")

	time.Sleep(250 * time.Millisecond)

	if got := col.count(); got != 1 {
		t.Fatalf("expected exactly 1 callback, got %d", got)
	}
	want := "Mensaje 1\nMensaje 2\nMensaje 3"
	if got := col.batch(0); got != want {
		t.Errorf("expected batch %q, got %q", want, got)
	}
}

func TestEnqueue_SessionIsolation(t *testing.T) {
	col := newCollector()
	q := NewQueue(col.process, WithInterval(50*time.Millisecond))

	q.Enqueue("session_1", "Mensaje A")
	q.Enqueue("session_2", "Mensaje B")

	time.Sleep(200 * time.Millisecond)

	col.mu.Lock()
	defer col.mu.Unlock()
	if len(col.bySess["session_1"]) != 1 || col.bySess["session_1"][0] != "Mensaje A" {
		t.Errorf("unexpected batches for session_1: %v", col.bySess["session_1"])
	}
	if len(col.bySess["session_2"]) != 1 || col.bySess["session_2"][0] != "Mensaje B" {
		t.Errorf("unexpected batches for session_2: %v", col.bySess["session_2"])
	}
}

func TestEnqueue_TimerReset(t *testing.T) {
	col := newCollector()
	q := NewQueue(col.process, WithInterval(120*time.Millisecond))

	start := time.Now()
	q.Enqueue("s1", "Mensaje 1")
	time.Sleep(80 * time.Millisecond) // just under the interval
	q.Enqueue("s1", "Mensaje 2")
	time.Sleep(80 * time.Millisecond)
	q.Enqueue("s1", "Mensaje 3")

	time.Sleep(300 * time.Millisecond)
	elapsed := time.Since(start)

	if got := col.count(); got != 1 {
		t.Fatalf("expected exactly 1 callback after resets, got %d", got)
	}
	if got := col.batch(0); got != "Mensaje 1\nMensaje 2\nMensaje 3" {
		t.Errorf("unexpected combined batch: %q", got)
	}
	// 80 + 80 + 120 = 280ms minimum before the timer may fire.
	if elapsed < 280*time.Millisecond {
		t.Errorf("callback fired too early, elapsed %v", elapsed)
	}
}

func TestFire_AtMostOneInFlight(t *testing.T) {
	var (
		concurrent int32
		maxSeen    int32
		calls      int32
	)
	release := make(chan struct{})

	var q *Queue
	q = NewQueue(func(ctx context.Context, sessionID, combined string) error {
		atomic.AddInt32(&calls, 1)
		cur := atomic.AddInt32(&concurrent, 1)
		if cur > atomic.LoadInt32(&maxSeen) {
			atomic.StoreInt32(&maxSeen, cur)
		}
		if !q.InFlight(sessionID) {
			t.Error("in-flight flag not set during callback")
		}
		if atomic.LoadInt32(&calls) == 1 {
			<-release // hold the first batch open
		}
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, WithInterval(40*time.Millisecond))

	q.Enqueue("s1", "first")
	time.Sleep(60 * time.Millisecond) // first batch now in flight

	// Messages arriving mid-flight form a new batch; its timer may fire while
	// the first callback is still running and must not overlap it.
	q.Enqueue("s1", "second")
	time.Sleep(100 * time.Millisecond)
	close(release)
	time.Sleep(150 * time.Millisecond)

	if got := atomic.LoadInt32(&maxSeen); got != 1 {
		t.Errorf("expected at most 1 concurrent callback per session, saw %d", got)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected both batches processed, got %d calls", got)
	}
}

func TestFire_MidFlightMessagesNotMerged(t *testing.T) {
	var mu sync.Mutex
	var batches []string
	firstRunning := make(chan struct{})
	release := make(chan struct{})

	q := NewQueue(func(ctx context.Context, sessionID, combined string) error {
		mu.Lock()
		batches = append(batches, combined)
		first := len(batches) == 1
		mu.Unlock()
		if first {
			close(firstRunning)
			<-release
		}
		return nil
	}, WithInterval(40*time.Millisecond))

	q.Enqueue("s1", "batch1")
	<-firstRunning
	q.Enqueue("s1", "batch2") // arrives while batch1 is in flight
	close(release)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("expected 2 separate batches, got %d: %v", len(batches), batches)
	}
	if batches[0] != "batch1" || batches[1] != "batch2" {
		t.Errorf("mid-flight message merged into running batch: %v", batches)
	}
}

func TestFire_CallbackErrorDoesNotStickSession(t *testing.T) {
	var calls int32
	q := NewQueue(func(ctx context.Context, sessionID, combined string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("simulated failure")
		}
		return nil
	}, WithInterval(30*time.Millisecond))

	q.Enqueue("s1", "failing")
	time.Sleep(100 * time.Millisecond)

	if q.InFlight("s1") {
		t.Error("session stuck in flight after callback error")
	}

	q.Enqueue("s1", "recovered")
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected second batch to be processed, got %d calls", got)
	}
}

func TestFire_CallbackPanicIsRecovered(t *testing.T) {
	var calls int32
	q := NewQueue(func(ctx context.Context, sessionID, combined string) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			panic("boom")
		}
		return nil
	}, WithInterval(30*time.Millisecond))

	q.Enqueue("s1", "panicking")
	time.Sleep(100 * time.Millisecond)
	if q.InFlight("s1") {
		t.Error("session stuck in flight after panic")
	}

	q.Enqueue("s1", "after panic")
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected processing to continue after panic, got %d calls", got)
	}
}

func TestStop_CancelsPendingTimers(t *testing.T) {
	col := newCollector()
	q := NewQueue(col.process, WithInterval(50*time.Millisecond))

	q.Enqueue("s1", "never dispatched")
	q.Stop()
	time.Sleep(150 * time.Millisecond)

	if got := col.count(); got != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", got)
	}
	if q.Pending("s1") != 1 {
		t.Errorf("expected buffered message to remain, got %d", q.Pending("s1"))
	}
}

func TestEnqueue_ManyMessagesPreserveOrder(t *testing.T) {
	col := newCollector()
	q := NewQueue(col.process, WithInterval(60*time.Millisecond))

	want := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		msg := string(rune('a' + i))
		want = append(want, msg)
		q.Enqueue("s1", msg)
	}
	time.Sleep(200 * time.Millisecond)

	if got := col.count(); got != 1 {
		t.Fatalf("expected 1 callback, got %d", got)
	}
	if got := col.batch(0); got != strings.Join(want, "\n") {
		t.Errorf("order not preserved: %q", got)
	}
}
