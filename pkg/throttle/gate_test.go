package throttle

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestGateSuppressesWithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	gate := NewGate(500*time.Millisecond, clock.Now)
	key := KeyFor("POST", "https://x.com/api/chat")

	if !gate.ShouldEmit(key) {
		t.Fatal("first observation must emit")
	}
	clock.Advance(100 * time.Millisecond)
	if gate.ShouldEmit(key) {
		t.Fatal("second observation within the window must be suppressed")
	}
	clock.Advance(500 * time.Millisecond)
	if !gate.ShouldEmit(key) {
		t.Fatal("observation after the window must emit again")
	}
}

func TestGateKeysAreIndependent(t *testing.T) {
	gate := NewGate(time.Minute, nil)

	if !gate.ShouldEmit(KeyFor("POST", "https://x.com/api/chat")) {
		t.Fatal("POST must emit")
	}
	if !gate.ShouldEmit(KeyFor("GET", "https://x.com/api/chat")) {
		t.Fatal("GET on the same URL is a different key")
	}
	if !gate.ShouldEmit(KeyFor("POST", "https://x.com/api/other")) {
		t.Fatal("different URL is a different key")
	}
}

func TestGateSweepAndClear(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	gate := NewGate(time.Second, clock.Now)

	gate.ShouldEmit("a")
	gate.ShouldEmit("b")
	clock.Advance(500 * time.Millisecond)
	gate.ShouldEmit("c")
	clock.Advance(600 * time.Millisecond)

	if removed := gate.Sweep(); removed != 2 {
		t.Fatalf("Sweep() = %d; want 2", removed)
	}
	if gate.Len() != 1 {
		t.Fatalf("Len() = %d; want 1", gate.Len())
	}

	gate.Clear()
	if !gate.ShouldEmit("c") {
		t.Fatal("Clear() must reset the window")
	}
}

func TestGateDisabled(t *testing.T) {
	gate := NewGate(0, nil)
	for i := 0; i < 3; i++ {
		if !gate.ShouldEmit("k") {
			t.Fatal("zero window must never suppress")
		}
	}
}

func TestKeyForNormalizes(t *testing.T) {
	a := KeyFor("POST", "HTTPS://X.COM/api/chat?x=1#one")
	b := KeyFor("POST", "https://x.com/api/chat?x=1#two")
	if a != b {
		t.Fatalf("KeyFor mismatch: %q vs %q", a, b)
	}
	if KeyFor("POST", "https://x.com/api/chat?x=1") == KeyFor("POST", "https://x.com/api/chat?x=2") {
		t.Fatal("query must stay part of the key")
	}
}
