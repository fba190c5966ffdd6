package handoff

import (
	"sync"
	"testing"
	"time"
)

func TestSchedulerFires(t *testing.T) {
	fired := make(chan string, 1)
	s := NewScheduler(func(id string) { fired <- id })

	s.Schedule("req-1", 10*time.Millisecond)

	select {
	case id := <-fired:
		if id != "req-1" {
			t.Errorf("Expected req-1, got %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Timer did not fire")
	}

	if s.Pending("req-1") {
		t.Error("Fired timer should no longer be pending")
	}
}

func TestSchedulerCancel(t *testing.T) {
	fired := make(chan string, 1)
	s := NewScheduler(func(id string) { fired <- id })

	s.Schedule("req-1", 20*time.Millisecond)
	s.Cancel("req-1")

	select {
	case <-fired:
		t.Fatal("Cancelled timer fired")
	case <-time.After(100 * time.Millisecond):
	}

	// Cancelling again, or cancelling an unknown id, is a no-op.
	s.Cancel("req-1")
	s.Cancel("unknown")
}

func TestSchedulerReplacesExistingDeadline(t *testing.T) {
	var mu sync.Mutex
	count := 0
	s := NewScheduler(func(string) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	s.Schedule("req-1", 10*time.Millisecond)
	s.Schedule("req-1", 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("Expected exactly one fire, got %d", count)
	}
}

func TestSchedulerStopDisarmsAll(t *testing.T) {
	fired := make(chan string, 2)
	s := NewScheduler(func(id string) { fired <- id })

	s.Schedule("req-1", 20*time.Millisecond)
	s.Schedule("req-2", 20*time.Millisecond)
	s.Stop()

	select {
	case id := <-fired:
		t.Fatalf("Timer %s fired after Stop", id)
	case <-time.After(100 * time.Millisecond):
	}
}
