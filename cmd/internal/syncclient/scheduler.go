package syncclient

import (
	"log/slog"
	"sync"
	"time"

	syncv1 "duo/shared/contracts/sync/v1"
)

const (
	// PollInterval is both the tick period and the staleness bound of ShouldSync.
	PollInterval = 4000 * time.Millisecond
)

// PendingCounter reports queued actions per conversation.
type PendingCounter interface {
	PendingFor(conversationID string) int
}

// SyncScheduler carries per-conversation cursors and decides when a read is due.
type SyncScheduler struct {
	mu      sync.Mutex
	store   CursorStore
	pending PendingCounter
	now     func() time.Time
	log     *slog.Logger
	states  map[string]Cursor
}

type SchedulerOption func(*SyncScheduler)

func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *SyncScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *SyncScheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSyncScheduler returns a scheduler persisting to store. pending may be nil.
func NewSyncScheduler(store CursorStore, pending PendingCounter, opts ...SchedulerOption) *SyncScheduler {
	if store == nil {
		store = NewMemoryCursorStore()
	}
	s := &SyncScheduler{
		store:   store,
		pending: pending,
		now:     time.Now,
		log:     slog.Default(),
		states:  make(map[string]Cursor),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldSync reports whether id was last synced more than PollInterval ago or has queued actions.
func (s *SyncScheduler) ShouldSync(id string) bool {
	if s.pending != nil && s.pending.PendingFor(id) > 0 {
		return true
	}
	c := s.State(id)
	return s.now().UnixMilli()-c.LastSync > PollInterval.Milliseconds()
}

// State returns the cursor of id, loading it from the store on first access.
func (s *SyncScheduler) State(id string) Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(id)
}

func (s *SyncScheduler) stateLocked(id string) Cursor {
	if c, ok := s.states[id]; ok {
		return c
	}
	c, ok, err := s.store.Load(id)
	if err != nil {
		s.log.Warn("client.cursor.load.fail", "conversation_id", id, "err", err)
	}
	if !ok || err != nil {
		c = Cursor{}
	}
	s.states[id] = c
	return c
}

// MarkSynced sets lastSync and persists the cursor.
func (s *SyncScheduler) MarkSynced(id string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.stateLocked(id)
	c.LastSync = ts
	s.states[id] = c
	return s.store.Save(id, c)
}

// SetLastMessageID advances the id watermark. Older or equal ids are ignored.
// The change is persisted by the next MarkSynced.
func (s *SyncScheduler) SetLastMessageID(id, messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.stateLocked(id)
	if messageID > c.LastMessageID {
		c.LastMessageID = messageID
		s.states[id] = c
	}
}

// Advance folds one read result into the cursor of id and persists it.
//
// A full page may be followed by more messages that were already older than the response timestamp, so
// lastSync only moves to just before the newest delivered message; the id watermark skips what was seen.
func (s *SyncScheduler) Advance(id string, up syncv1.ConversationUpdate) error {
	if n := len(up.Messages); n > 0 {
		s.SetLastMessageID(id, up.Messages[n-1].ID)
		if up.HasMore {
			return s.MarkSynced(id, syncv1.TimeToMillis(up.Messages[n-1].CreatedAt)-1)
		}
	}
	return s.MarkSynced(id, up.LastSync)
}
