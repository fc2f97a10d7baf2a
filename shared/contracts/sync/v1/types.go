// Package v1 defines the duo batch sync contract v1.
//
// It is shared between the server reconciliation handler and polling clients so the wire
// format has a single authoritative definition.
package v1

import "time"

// PageCap is the maximum number of messages returned per conversation in one batch read.
const PageCap = 30

// Message types (wire-stable).
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// BatchRequest carries read cursors and pending actions in one round trip.
type BatchRequest struct {
	Reads   []ReadCursor `json:"reads"`
	Actions []Action     `json:"actions"`
}

// ReadCursor bounds an incremental read. Zero values mean "not provided".
type ReadCursor struct {
	ConversationID string `json:"conversation_id"`
	LastSync       int64  `json:"last_sync,omitempty"` // unix millis
	LastMessageID  string `json:"last_message_id,omitempty"`
}

// BatchResponse is the server answer to a BatchRequest.
type BatchResponse struct {
	Updates       map[string]ConversationUpdate `json:"updates"`
	ActionResults map[string]ActionResult       `json:"action_results"`
	Timestamp     int64                         `json:"timestamp"` // unix millis
}

// ConversationUpdate is the incremental read result for one conversation.
type ConversationUpdate struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	LastSync int64     `json:"last_sync"`
	Error    string    `json:"error,omitempty"`
}

// ActionResult correlates with Action.ClientActionID.
type ActionResult struct {
	Success bool `json:"success"`

	Message      *Message `json:"message,omitempty"`
	MessageID    string   `json:"message_id,omitempty"`
	MessageIDs   []string `json:"message_ids,omitempty"`
	UpdatedCount *int     `json:"updated_count,omitempty"`

	Error string `json:"error,omitempty"`
}

// UserRef is the resolved display identity of a user.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ReplyRef is the resolved reply target. Deleted is set when the target no longer exists.
type ReplyRef struct {
	ID      string   `json:"id"`
	Content string   `json:"content,omitempty"`
	Sender  *UserRef `json:"sender,omitempty"`
	Deleted bool     `json:"deleted,omitempty"`
}

// Reaction groups reactors by emoji.
type Reaction struct {
	Emoji string    `json:"emoji"`
	Users []UserRef `json:"users"`
}

// Message is a message with its relational context resolved.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Sender         UserRef    `json:"sender"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	ReplyTo        *ReplyRef  `json:"reply_to,omitempty"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Version        int        `json:"version"`
	ClientActionID string     `json:"client_action_id,omitempty"`
}

// MessagePage is the paginated history window of one conversation, oldest first.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
	Total    int       `json:"total"`
}

// MillisToTime converts a wire timestamp to time.Time. Zero stays zero.
func MillisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// TimeToMillis converts a time.Time to a wire timestamp. Zero stays zero.
func TimeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
