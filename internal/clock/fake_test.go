package clock

import (
	"testing"
	"time"
)

func TestFakeClockAfterFunc(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })

	c.Advance(500 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("expected nothing fired, got %v", fired)
	}

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Fatalf("expected [a b], got %v", fired)
	}
	if !c.Now().Equal(start.Add(2500 * time.Millisecond)) {
		t.Errorf("unexpected time %v", c.Now())
	}
}

func TestFakeClockStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))

	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })
	if c.Pending() != 1 {
		t.Fatalf("expected 1 pending, got %d", c.Pending())
	}
	if !timer.Stop() {
		t.Fatal("expected Stop to report an active timer")
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}

	c.Advance(time.Minute)
	if called {
		t.Error("stopped timer fired")
	}
	if c.Pending() != 0 {
		t.Errorf("expected 0 pending, got %d", c.Pending())
	}
}

func TestFakeClockStopAfterFire(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	timer := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	if timer.Stop() {
		t.Error("Stop after fire should report false")
	}
}
