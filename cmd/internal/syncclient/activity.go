package syncclient

import (
	"sync"
	"time"
)

// IdleWindow is how long a conversation stays active without interaction.
const IdleWindow = 5 * time.Minute

// ActivityTracker tracks the conversations the user is engaged with.
type ActivityTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	idle    time.Duration
	visible bool
	last    map[string]time.Time
}

type TrackerOption func(*ActivityTracker)

func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *ActivityTracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithIdleWindow(d time.Duration) TrackerOption {
	return func(t *ActivityTracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

func NewActivityTracker(opts ...TrackerOption) *ActivityTracker {
	t := &ActivityTracker{
		now:     time.Now,
		idle:    IdleWindow,
		visible: true,
		last:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// MarkActive adds id to the active set and stamps it. It also makes the tracker visible again.
func (t *ActivityTracker) MarkActive(id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = true
	t.last[id] = t.now()
}

// Remove drops id from the active set.
func (t *ActivityTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
}

// Interact refreshes every conversation in the active set.
func (t *ActivityTracker) Interact() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.visible {
		return
	}
	now := t.now()
	for id := range t.last {
		t.last[id] = now
	}
}

// SetVisible(false) clears the active set. Becoming visible again restores nothing;
// conversations come back through MarkActive.
func (t *ActivityTracker) SetVisible(visible bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.visible = visible
	if !visible {
		clear(t.last)
	}
}

// Active returns the conversations interacted with inside the idle window. Order is unspecified.
func (t *ActivityTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-t.idle)
	out := make([]string, 0, len(t.last))
	for id, at := range t.last {
		if at.After(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Reset forgets everything. Called when the session ends.
func (t *ActivityTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.last)
	t.visible = true
}
