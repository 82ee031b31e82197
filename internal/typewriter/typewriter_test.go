package typewriter

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestDrainsInChunks(t *testing.T) {
	var (
		mu      sync.Mutex
		updates []string
	)
	r := New(time.Millisecond, 3, func(s string) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	})
	defer r.Stop()

	r.Append("hello world")
	waitFor(t, time.Second, func() bool { return r.Displayed() == "hello world" && r.Pending() == 0 })

	mu.Lock()
	defer mu.Unlock()
	if len(updates) == 0 {
		t.Fatal("no updates fired")
	}
	if updates[0] != "hel" {
		t.Errorf("first update = %q, want %q", updates[0], "hel")
	}
	// Each update extends the previous one.
	for i := 1; i < len(updates); i++ {
		if !strings.HasPrefix(updates[i], updates[i-1]) {
			t.Errorf("update %d %q does not extend %q", i, updates[i], updates[i-1])
		}
	}
	if updates[len(updates)-1] != "hello world" {
		t.Errorf("final update = %q", updates[len(updates)-1])
	}
}

func TestAppendWhileDraining(t *testing.T) {
	r := New(time.Millisecond, 3, nil)
	defer r.Stop()

	r.Append("first ")
	r.Append("second")
	waitFor(t, time.Second, func() bool { return r.Pending() == 0 })

	if got := r.Displayed(); got != "first second" {
		t.Errorf("Displayed() = %q, want %q", got, "first second")
	}
}

func TestCompleteSnapsToFullText(t *testing.T) {
	var (
		mu   sync.Mutex
		last string
	)
	r := New(50*time.Millisecond, 3, func(s string) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	defer r.Stop()

	r.Append("a long message that will still be draining")
	r.Complete("a long message that will still be draining, final form")

	if got := r.Displayed(); got != "a long message that will still be draining, final form" {
		t.Errorf("Displayed() = %q after Complete", got)
	}
	if r.Pending() != 0 {
		t.Errorf("Pending() = %d after Complete", r.Pending())
	}
	mu.Lock()
	defer mu.Unlock()
	if last != "a long message that will still be draining, final form" {
		t.Errorf("last update = %q", last)
	}
}

func TestStopHaltsDrain(t *testing.T) {
	r := New(time.Millisecond, 3, nil)
	r.Append("some queued text")
	r.Stop()

	displayed := r.Displayed()
	time.Sleep(20 * time.Millisecond)
	if got := r.Displayed(); got != displayed {
		t.Errorf("Displayed() advanced after Stop: %q -> %q", displayed, got)
	}

	r.Append("more")
	time.Sleep(10 * time.Millisecond)
	if r.Displayed() != displayed {
		t.Error("Append after Stop changed display")
	}
}
