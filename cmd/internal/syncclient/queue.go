package syncclient

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	syncv1 "duo/shared/contracts/sync/v1"
)

// Queued is one pending action. ConversationID is known locally even for message-targeted actions.
type Queued struct {
	ID             string
	ConversationID string
	Op             syncv1.Op
}

func (q Queued) wire() syncv1.Action {
	return syncv1.ActionFrom(q.ID, q.Op)
}

// ActionQueue holds actions until the server answers for them.
type ActionQueue struct {
	mu    sync.Mutex
	items []Queued
	newID func() string
}

func NewActionQueue() *ActionQueue {
	return &ActionQueue{newID: func() string { return uuid.NewString() }}
}

// Enqueue validates op and appends it under a fresh correlation id.
func (q *ActionQueue) Enqueue(conversationID string, op syncv1.Op) (Queued, error) {
	if err := op.Validate(); err != nil {
		return Queued{}, err
	}
	item := Queued{ID: q.newID(), ConversationID: conversationID, Op: op}
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	return item, nil
}

// Snapshot returns the queued actions in submission order.
func (q *ActionQueue) Snapshot() []Queued {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Queued, len(q.items))
	copy(out, q.items)
	return out
}

func (q *ActionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ActionQueue) PendingFor(conversationID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.ConversationID == conversationID {
			n++
		}
	}
	return n
}

// Take removes and returns the action with id.
func (q *ActionQueue) Take(id string) (Queued, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.ID == id {
			q.items = slices.Delete(q.items, i, i+1)
			return it, true
		}
	}
	return Queued{}, false
}

// Clear drops everything queued.
func (q *ActionQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
