// Package chat holds two-party conversations and their messages.
//
// Store implementations apply each mutation as a single atomic record update;
// Service layers participant and author rules on top and renders messages
// with their relational context for the wire.
package chat

import (
	"slices"
	"time"
)

// Chat is a conversation between exactly two users. UserA < UserB.
type Chat struct {
	ID            string
	UserA         string
	UserB         string
	LastMessageID string
	LastActivity  time.Time
	MessageCount  int64
	CreatedAt     time.Time
}

func (c Chat) Has(userID string) bool {
	return userID != "" && (c.UserA == userID || c.UserB == userID)
}

// Peer returns the other participant.
func (c Chat) Peer(userID string) string {
	if c.UserA == userID {
		return c.UserB
	}
	return c.UserA
}

// Reaction lists reactors of one emoji in the order they reacted.
type Reaction struct {
	Emoji   string
	UserIDs []string
}

type Message struct {
	ID             string
	ChatID         string
	SenderID       string
	Content        string
	MessageType    string
	ReplyTo        string
	ClientActionID string
	Reactions      []Reaction
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
}

func (m Message) clone() Message {
	out := m
	out.Reactions = make([]Reaction, len(m.Reactions))
	for i, r := range m.Reactions {
		out.Reactions[i] = Reaction{Emoji: r.Emoji, UserIDs: slices.Clone(r.UserIDs)}
	}
	return out
}

// toggle flips userID in the emoji's reactor set, creating or dropping the entry as needed.
func toggle(reactions []Reaction, emoji, userID string) []Reaction {
	for i := range reactions {
		if reactions[i].Emoji != emoji {
			continue
		}
		if j := slices.Index(reactions[i].UserIDs, userID); j >= 0 {
			reactions[i].UserIDs = slices.Delete(reactions[i].UserIDs, j, j+1)
			if len(reactions[i].UserIDs) == 0 {
				return slices.Delete(reactions, i, i+1)
			}
			return reactions
		}
		reactions[i].UserIDs = append(reactions[i].UserIDs, userID)
		return reactions
	}
	return append(reactions, Reaction{Emoji: emoji, UserIDs: []string{userID}})
}

// orderedPair returns the two ids sorted.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}
