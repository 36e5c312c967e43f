package timectrl

import (
	"testing"
	"time"
)

func TestVirtualClockAdvanceTo(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtualClock(start)

	newNow := start.Add(500 * time.Microsecond)
	if !c.AdvanceTo(newNow) {
		t.Fatalf("AdvanceTo(%v) reported no movement", newNow)
	}
	if got := c.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
	if got := c.Elapsed(); got != 500*time.Microsecond {
		t.Fatalf("Elapsed() = %v, want 500µs", got)
	}
}

func TestVirtualClockIsMonotonic(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtualClock(start)
	c.AdvanceTo(start.Add(time.Second))

	if c.AdvanceTo(start) {
		t.Fatalf("AdvanceTo moved the clock backwards")
	}
	if c.AdvanceTo(start.Add(time.Second)) {
		t.Fatalf("AdvanceTo to the current time should be a no-op")
	}
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(time.Second))
	}
}

func TestVirtualClockNotifiesListeners(t *testing.T) {
	c := NewVirtualClock(Epoch)

	var seen []time.Time
	c.AddListener(func(now time.Time) { seen = append(seen, now) })

	c.AdvanceTo(Epoch.Add(time.Millisecond))
	c.AdvanceTo(Epoch) // ignored
	c.AdvanceTo(Epoch.Add(2 * time.Millisecond))

	if len(seen) != 2 {
		t.Fatalf("listener called %d times, want 2", len(seen))
	}
	if !seen[1].Equal(Epoch.Add(2 * time.Millisecond)) {
		t.Fatalf("second notification = %v", seen[1])
	}
}
