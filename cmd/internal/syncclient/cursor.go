package syncclient

import (
	"errors"
	"sync"
)

// Cursor is the per-conversation read watermark.
type Cursor struct {
	LastSync      int64  `json:"last_sync"` // unix millis, 0 when never synced
	LastMessageID string `json:"last_message_id,omitempty"`
}

// CursorStore persists cursors across client restarts.
type CursorStore interface {
	Load(conversationID string) (Cursor, bool, error)
	Save(conversationID string, c Cursor) error
	Close() error
}

var ErrStoreClosed = errors.New("cursor store closed")

// MemoryCursorStore keeps cursors for the life of the process.
type MemoryCursorStore struct {
	mu     sync.Mutex
	m      map[string]Cursor
	closed bool
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{m: make(map[string]Cursor)}
}

func (s *MemoryCursorStore) Load(id string) (Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Cursor{}, false, ErrStoreClosed
	}
	c, ok := s.m[id]
	return c, ok, nil
}

func (s *MemoryCursorStore) Save(id string, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.m[id] = c
	return nil
}

func (s *MemoryCursorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
