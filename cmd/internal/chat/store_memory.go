package chat

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the Store used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]*Chat
	pairs    map[[2]string]string
	messages map[string]*Message
	byChat   map[string][]string // message ids, ordered by (CreatedAt, ID)
	dedupe   map[[2]string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]*Chat),
		pairs:    make(map[[2]string]string),
		messages: make(map[string]*Message),
		byChat:   make(map[string][]string),
		dedupe:   make(map[[2]string]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateChat(ctx context.Context, id, userA, userB string, now time.Time) (Chat, bool, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, false, err
	}
	if userA == "" || userB == "" || userA == userB {
		return Chat{}, false, ErrSelfChat
	}
	a, b := orderedPair(userA, userB)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pairs[[2]string{a, b}]; ok {
		return *s.chats[existing], false, nil
	}
	c := &Chat{ID: id, UserA: a, UserB: b, LastActivity: now, CreatedAt: now}
	s.chats[id] = c
	s.pairs[[2]string{a, b}] = id
	return *c, true, nil
}

func (s *MemoryStore) ChatByID(ctx context.Context, id string) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	return *c, nil
}

func (s *MemoryStore) ChatByPair(ctx context.Context, userA, userB string) (Chat, error) {
	if err := ctx.Err(); err != nil {
		return Chat{}, err
	}
	a, b := orderedPair(userA, userB)

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.pairs[[2]string{a, b}]
	if !ok {
		return Chat{}, ErrChatNotFound
	}
	return *s.chats[id], nil
}

func (s *MemoryStore) ChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]Chat, 0, 8)
	for _, c := range s.chats {
		if c.Has(userID) {
			out = append(out, *c)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(x, y Chat) int {
		if c := y.LastActivity.Compare(x.LastActivity); c != 0 {
			return c
		}
		return strings.Compare(y.ID, x.ID)
	})
	return out, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[m.ChatID]
	if !ok {
		return Message{}, false, ErrChatNotFound
	}

	var key [2]string
	if m.ClientActionID != "" {
		key = [2]string{m.SenderID, m.ClientActionID}
		if id, ok := s.dedupe[key]; ok {
			if prev, ok := s.messages[id]; ok {
				return prev.clone(), true, nil
			}
		}
	}

	stored := m.clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	s.messages[stored.ID] = &stored
	s.byChat[stored.ChatID] = s.insertOrdered(s.byChat[stored.ChatID], &stored)
	if m.ClientActionID != "" {
		s.dedupe[key] = stored.ID
	}

	c.LastMessageID = stored.ID
	c.MessageCount++
	bump(c, stored.CreatedAt)
	return stored.clone(), false, nil
}

func (s *MemoryStore) insertOrdered(ids []string, m *Message) []string {
	i, _ := slices.BinarySearchFunc(ids, m, func(id string, target *Message) int {
		x := s.messages[id]
		if c := x.CreatedAt.Compare(target.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.ID, target.ID)
	})
	return slices.Insert(ids, i, m.ID)
}

func (s *MemoryStore) MessageByID(ctx context.Context, id string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	return m.clone(), nil
}

func (s *MemoryStore) MessagesByID(ctx context.Context, ids []string) (map[string]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Message, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out[id] = m.clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) ToggleReaction(ctx context.Context, messageID, emoji, userID string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	m.Reactions = toggle(m.Reactions, emoji, userID)
	if c, ok := s.chats[m.ChatID]; ok {
		bump(c, now)
	}
	return m.clone(), nil
}

func (s *MemoryStore) UpdateContent(ctx context.Context, messageID, senderID, content string, now time.Time) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return Message{}, ErrMessageNotFound
	}
	if m.SenderID != senderID {
		return Message{}, ErrNotAuthor
	}
	m.Content = content
	m.UpdatedAt = now
	m.Version++
	if c, ok := s.chats[m.ChatID]; ok {
		bump(c, now)
	}
	return m.clone(), nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, messageID, senderID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	if m.SenderID != senderID {
		return ErrNotAuthor
	}

	delete(s.messages, messageID)
	if m.ClientActionID != "" {
		delete(s.dedupe, [2]string{m.SenderID, m.ClientActionID})
	}
	ids := s.byChat[m.ChatID]
	if i := slices.Index(ids, messageID); i >= 0 {
		ids = slices.Delete(ids, i, i+1)
		s.byChat[m.ChatID] = ids
	}
	if c, ok := s.chats[m.ChatID]; ok {
		if c.LastMessageID == messageID {
			c.LastMessageID = ""
			if len(ids) > 0 {
				c.LastMessageID = ids[len(ids)-1]
			}
		}
		bump(c, now)
	}
	return nil
}

func (s *MemoryStore) MessagesSince(ctx context.Context, chatID string, since time.Time, afterID string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, 0, min(limit, 32))
	for _, id := range s.byChat[chatID] {
		m := s.messages[id]
		if !since.IsZero() && !m.CreatedAt.After(since) {
			continue
		}
		if afterID != "" && m.ID <= afterID {
			continue
		}
		out = append(out, m.clone())
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) MessagesPage(ctx context.Context, chatID string, offset, limit int) ([]Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byChat[chatID]
	total := len(ids)
	end := total - offset
	if end <= 0 {
		return []Message{}, total, nil
	}
	start := max(end-limit, 0)

	out := make([]Message, 0, end-start)
	for _, id := range ids[start:end] {
		out = append(out, s.messages[id].clone())
	}
	return out, total, nil
}

// bump advances LastActivity without ever moving it backwards.
func bump(c *Chat, now time.Time) {
	if now.After(c.LastActivity) {
		c.LastActivity = now
	}
}
