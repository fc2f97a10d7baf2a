package syncclient

import (
	"slices"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now advances one millisecond per call so every stamp is distinct.
func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func sorted(ids []string) []string {
	slices.Sort(ids)
	return ids
}

func TestActivityTracker_IdleDecay(t *testing.T) {
	t.Parallel()
	clock := newManualClock()
	tr := NewActivityTracker(WithTrackerClock(clock.Now))

	tr.MarkActive("a")
	clock.Advance(3 * time.Minute)
	tr.MarkActive("b")

	if got := sorted(tr.Active()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Active()=%v want [a b]", got)
	}
	clock.Advance(2 * time.Minute)
	if got := tr.Active(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Active()=%v want [b] after a went idle", got)
	}
	clock.Advance(5 * time.Minute)
	if got := tr.Active(); len(got) != 0 {
		t.Fatalf("Active()=%v want none", got)
	}
}

func TestActivityTracker_InteractRefreshesAll(t *testing.T) {
	t.Parallel()
	clock := newManualClock()
	tr := NewActivityTracker(WithTrackerClock(clock.Now))

	tr.MarkActive("a")
	clock.Advance(4 * time.Minute)
	tr.MarkActive("b")
	tr.Interact()
	clock.Advance(4 * time.Minute)

	if got := sorted(tr.Active()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Active()=%v want both refreshed", got)
	}
}

func TestActivityTracker_Visibility(t *testing.T) {
	t.Parallel()
	clock := newManualClock()
	tr := NewActivityTracker(WithTrackerClock(clock.Now))

	tr.MarkActive("a")
	tr.MarkActive("b")
	tr.SetVisible(false)
	if got := tr.Active(); len(got) != 0 {
		t.Fatalf("Active()=%v want empty while hidden", got)
	}

	tr.Interact()
	tr.SetVisible(true)
	if got := tr.Active(); len(got) != 0 {
		t.Fatalf("Active()=%v becoming visible must not restore the set", got)
	}

	tr.MarkActive("b")
	if got := tr.Active(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("Active()=%v want [b]", got)
	}

	tr.Remove("b")
	tr.MarkActive("c")
	tr.Reset()
	if got := tr.Active(); len(got) != 0 {
		t.Fatalf("Active()=%v after Reset", got)
	}
}
