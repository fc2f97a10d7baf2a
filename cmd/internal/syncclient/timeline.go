package syncclient

import (
	"slices"

	syncv1 "duo/shared/contracts/sync/v1"
)

// Item is one timeline entry. Entries this client sent keep ClientActionID until confirmed;
// until then the message has no server id.
type Item struct {
	syncv1.Message
	Pending bool   `json:"pending,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Timeline is the ordered message list of one conversation. It is not safe for concurrent use;
// Session serialises access.
type Timeline struct {
	items        []Item
	hasMore      bool
	loadingOlder bool
}

func NewTimeline() *Timeline { return &Timeline{hasMore: true} }

func (t *Timeline) indexOf(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(t.items, func(it Item) bool { return it.ID == id })
}

func (t *Timeline) indexOfAction(clientActionID string) int {
	if clientActionID == "" {
		return -1
	}
	return slices.IndexFunc(t.items, func(it Item) bool {
		return it.ID == "" && it.ClientActionID == clientActionID
	})
}

func (t *Timeline) sort() {
	slices.SortStableFunc(t.items, func(a, b Item) int { return a.CreatedAt.Compare(b.CreatedAt) })
}

// Merge adds server messages whose id is not present yet and re-sorts. A message carrying the
// client_action_id of an unconfirmed local entry replaces that entry.
func (t *Timeline) Merge(msgs []syncv1.Message) int {
	added := 0
	for _, m := range msgs {
		if m.ID == "" || t.indexOf(m.ID) >= 0 {
			continue
		}
		if i := t.indexOfAction(m.ClientActionID); i >= 0 {
			t.items[i] = Item{Message: m}
		} else {
			t.items = append(t.items, Item{Message: m})
		}
		added++
	}
	if added > 0 {
		t.sort()
	}
	return added
}

// AddPending shows msg before the server confirmed it.
func (t *Timeline) AddPending(clientActionID string, msg syncv1.Message) {
	msg.ID = ""
	msg.ClientActionID = clientActionID
	t.items = append(t.items, Item{Message: msg, Pending: true})
	t.sort()
}

// Confirm swaps the local entry of clientActionID for the stored message.
func (t *Timeline) Confirm(clientActionID string, msg syncv1.Message) {
	if i := t.indexOfAction(clientActionID); i >= 0 {
		t.items = slices.Delete(t.items, i, i+1)
	}
	t.Merge([]syncv1.Message{msg})
}

// Fail flags the local entry of clientActionID. It stays until Retry or Dismiss.
func (t *Timeline) Fail(clientActionID, reason string) bool {
	i := t.indexOfAction(clientActionID)
	if i < 0 {
		return false
	}
	t.items[i].Pending = false
	t.items[i].Failed = true
	t.items[i].Error = reason
	return true
}

// Rekey moves a failed local entry to a new correlation id and marks it pending again.
func (t *Timeline) Rekey(oldID, newID string) bool {
	i := t.indexOfAction(oldID)
	if i < 0 {
		return false
	}
	t.items[i].ClientActionID = newID
	t.items[i].Pending = true
	t.items[i].Failed = false
	t.items[i].Error = ""
	return true
}

// Drop removes the local entry of clientActionID.
func (t *Timeline) Drop(clientActionID string) bool {
	i := t.indexOfAction(clientActionID)
	if i < 0 {
		return false
	}
	t.items = slices.Delete(t.items, i, i+1)
	return true
}

// SetReactions replaces only the reactions of the message with msg.ID.
func (t *Timeline) SetReactions(msg syncv1.Message) bool {
	i := t.indexOf(msg.ID)
	if i < 0 {
		return false
	}
	t.items[i].Reactions = msg.Reactions
	return true
}

// SetContent replaces only the content, updatedAt and version of the message with msg.ID.
func (t *Timeline) SetContent(msg syncv1.Message) bool {
	i := t.indexOf(msg.ID)
	if i < 0 {
		return false
	}
	t.items[i].Content = msg.Content
	t.items[i].UpdatedAt = msg.UpdatedAt
	t.items[i].Version = msg.Version
	return true
}

// Remove deletes the message with id. Replies to it keep a deleted placeholder.
func (t *Timeline) Remove(id string) bool {
	i := t.indexOf(id)
	if i < 0 {
		return false
	}
	t.items = slices.Delete(t.items, i, i+1)
	for j := range t.items {
		if r := t.items[j].ReplyTo; r != nil && r.ID == id {
			t.items[j].ReplyTo = &syncv1.ReplyRef{ID: id, Deleted: true}
		}
	}
	return true
}

// Items returns a copy of the timeline, oldest first.
func (t *Timeline) Items() []Item {
	return slices.Clone(t.items)
}

// Confirmed counts entries the server knows about. It is the offset of the next older page.
func (t *Timeline) Confirmed() int {
	n := 0
	for _, it := range t.items {
		if it.ID != "" {
			n++
		}
	}
	return n
}

func (t *Timeline) HasMore() bool { return t.hasMore }
