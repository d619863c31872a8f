package relay

import (
	"sync"
	"testing"
	"time"
)

type fakeTarget struct {
	mu     sync.Mutex
	id     string
	alive  bool
	pings  int
	closes int
}

func newFakeTarget(id string) *fakeTarget {
	return &fakeTarget{id: id, alive: true}
}

func (f *fakeTarget) ID() string   { return f.id }
func (f *fakeTarget) Mode() string { return ModeStream }

func (f *fakeTarget) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeTarget) markStale() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
}

func (f *fakeTarget) Ping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
}

func (f *fakeTarget) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTarget) respond() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = true
}

func (f *fakeTarget) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTarget) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry(testLogger())
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}

	a := newFakeTarget("a")
	b := newFakeTarget("b")
	r.Add(a)
	r.Add(b)
	if r.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", r.Len())
	}

	r.Remove("a")
	r.Remove("a") // second remove is a no-op
	if r.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Len())
	}
}

func TestSweepTerminatesUnresponsiveSessions(t *testing.T) {
	r := NewRegistry(testLogger())
	responsive := newFakeTarget("responsive")
	silent := newFakeTarget("silent")
	r.Add(responsive)
	r.Add(silent)

	// First pass: both are alive, so both get marked stale and probed.
	r.sweep()
	if responsive.pingCount() != 1 || silent.pingCount() != 1 {
		t.Fatalf("expected both probed once, got %d/%d",
			responsive.pingCount(), silent.pingCount())
	}
	if responsive.closeCount() != 0 || silent.closeCount() != 0 {
		t.Fatalf("nothing should close on the first pass")
	}

	// Only one of them answers the probe.
	responsive.respond()

	r.sweep()
	if silent.closeCount() != 1 {
		t.Fatalf("expected silent session closed, got %d", silent.closeCount())
	}
	if responsive.closeCount() != 0 {
		t.Fatalf("responsive session must survive")
	}
	if responsive.pingCount() != 2 {
		t.Fatalf("expected responsive session probed again, got %d", responsive.pingCount())
	}
}

func TestSweepLoopRunsOnInterval(t *testing.T) {
	r := NewRegistry(testLogger())
	r.interval = 5 * time.Millisecond
	target := newFakeTarget("doomed")
	target.markStale()
	r.Add(target)

	r.Start()
	defer r.Stop()

	deadline := time.After(2 * time.Second)
	for target.closeCount() == 0 {
		select {
		case <-deadline:
			t.Fatalf("sweeper never closed the unresponsive session")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRegistryStopIsIdempotent(t *testing.T) {
	r := NewRegistry(testLogger())
	r.Start()
	r.Stop()
	r.Stop()
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(testLogger())
	a := newFakeTarget("a")
	b := newFakeTarget("b")
	r.Add(a)
	r.Add(b)

	r.CloseAll()
	if a.closeCount() != 1 || b.closeCount() != 1 {
		t.Fatalf("expected every session closed once, got %d/%d",
			a.closeCount(), b.closeCount())
	}
}
