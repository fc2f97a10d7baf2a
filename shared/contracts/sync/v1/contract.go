package v1

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Action type constants (wire-stable).
const (
	TypeSend          = "send"
	TypeReply         = "reply"
	TypeReact         = "react"
	TypeEdit          = "edit"
	TypeDelete        = "delete"
	TypeMarkRead      = "mark_read"
	TypeBatchMarkSeen = "batch_mark_seen"
)

// MaxContentChars bounds message content length (runes).
const MaxContentChars = 4000

// Action is the wire envelope of a queued client operation.
// Only the fields required by Type are meaningful; Decode turns it into a typed Op.
type Action struct {
	ClientActionID string `json:"client_action_id"`
	Type           string `json:"type"`

	ConversationID string   `json:"conversation_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
	Content        string   `json:"content,omitempty"`
	MessageType    string   `json:"message_type,omitempty"`
	ReplyTo        string   `json:"reply_to,omitempty"`
	Emoji          string   `json:"emoji,omitempty"`
}

// Op is one decoded action variant. The set of implementations is closed.
type Op interface {
	Kind() string
	Validate() error
	op()
}

// SendOp creates a message in a conversation.
type SendOp struct {
	ConversationID string
	Content        string
	MessageType    string
}

// ReplyOp creates a message referencing another message of the same conversation.
type ReplyOp struct {
	ConversationID string
	Content        string
	MessageType    string
	ReplyTo        string
}

// ReactOp toggles the caller's reaction with Emoji on a message.
type ReactOp struct {
	MessageID string
	Emoji     string
}

// EditOp replaces the content of a message authored by the caller.
type EditOp struct {
	MessageID string
	Content   string
}

// DeleteOp removes a message authored by the caller.
type DeleteOp struct {
	MessageID string
}

// MarkReadOp is accepted for compatibility and has no effect.
type MarkReadOp struct {
	MessageID string
}

// BatchMarkSeenOp is accepted for compatibility and has no effect.
type BatchMarkSeenOp struct {
	ConversationID string
	MessageIDs     []string
}

func (SendOp) Kind() string          { return TypeSend }
func (ReplyOp) Kind() string         { return TypeReply }
func (ReactOp) Kind() string         { return TypeReact }
func (EditOp) Kind() string          { return TypeEdit }
func (DeleteOp) Kind() string        { return TypeDelete }
func (MarkReadOp) Kind() string      { return TypeMarkRead }
func (BatchMarkSeenOp) Kind() string { return TypeBatchMarkSeen }

func (SendOp) op()          {}
func (ReplyOp) op()         {}
func (ReactOp) op()         {}
func (EditOp) op()          {}
func (DeleteOp) op()        {}
func (MarkReadOp) op()      {}
func (BatchMarkSeenOp) op() {}

// ErrUnknownType is returned by Decode for an unsupported action type.
var ErrUnknownType = errors.New("unknown action type")

// Decode validates the envelope and returns the typed operation.
func (a Action) Decode() (Op, error) {
	var op Op
	switch strings.TrimSpace(a.Type) {
	case TypeSend:
		op = SendOp{ConversationID: a.ConversationID, Content: a.Content, MessageType: a.MessageType}
	case TypeReply:
		op = ReplyOp{ConversationID: a.ConversationID, Content: a.Content, MessageType: a.MessageType, ReplyTo: a.ReplyTo}
	case TypeReact:
		op = ReactOp{MessageID: a.MessageID, Emoji: a.Emoji}
	case TypeEdit:
		op = EditOp{MessageID: a.MessageID, Content: a.Content}
	case TypeDelete:
		op = DeleteOp{MessageID: a.MessageID}
	case TypeMarkRead:
		op = MarkReadOp{MessageID: a.MessageID}
	case TypeBatchMarkSeen:
		op = BatchMarkSeenOp{ConversationID: a.ConversationID, MessageIDs: a.MessageIDs}
	default:
		return nil, ErrUnknownType
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

func (o SendOp) Validate() error {
	if strings.TrimSpace(o.ConversationID) == "" {
		return errors.New("missing field: conversation_id")
	}
	if err := validateContent(o.Content); err != nil {
		return err
	}
	return validateMessageType(o.MessageType)
}

func (o ReplyOp) Validate() error {
	if err := (SendOp{ConversationID: o.ConversationID, Content: o.Content, MessageType: o.MessageType}).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(o.ReplyTo) == "" {
		return errors.New("missing field: reply_to")
	}
	return nil
}

func (o ReactOp) Validate() error {
	if strings.TrimSpace(o.MessageID) == "" {
		return errors.New("missing field: message_id")
	}
	emoji := strings.TrimSpace(o.Emoji)
	if emoji == "" {
		return errors.New("missing field: emoji")
	}
	if utf8.RuneCountInString(emoji) > 16 {
		return errors.New("emoji too long")
	}
	return nil
}

func (o EditOp) Validate() error {
	if strings.TrimSpace(o.MessageID) == "" {
		return errors.New("missing field: message_id")
	}
	return validateContent(o.Content)
}

func (o DeleteOp) Validate() error {
	if strings.TrimSpace(o.MessageID) == "" {
		return errors.New("missing field: message_id")
	}
	return nil
}

func (o MarkReadOp) Validate() error {
	if strings.TrimSpace(o.MessageID) == "" {
		return errors.New("missing field: message_id")
	}
	return nil
}

func (o BatchMarkSeenOp) Validate() error {
	if strings.TrimSpace(o.ConversationID) == "" {
		return errors.New("missing field: conversation_id")
	}
	return nil
}

// NormalizeContent trims content the same way the server stores it.
func NormalizeContent(s string) string { return strings.TrimSpace(s) }

func validateContent(s string) error {
	s = NormalizeContent(s)
	if s == "" {
		return errors.New("missing field: content")
	}
	if n := utf8.RuneCountInString(s); n > MaxContentChars {
		return fmt.Errorf("content too long: %d > %d", n, MaxContentChars)
	}
	return nil
}

func validateMessageType(t string) error {
	switch t {
	case "", MessageTypeText, MessageTypeImage, MessageTypeFile:
		return nil
	default:
		return fmt.Errorf("unsupported message_type: %q", t)
	}
}

// ActionFrom encodes a typed operation back into its wire envelope.
func ActionFrom(clientActionID string, op Op) Action {
	a := Action{ClientActionID: clientActionID, Type: op.Kind()}
	switch o := op.(type) {
	case SendOp:
		a.ConversationID, a.Content, a.MessageType = o.ConversationID, o.Content, o.MessageType
	case ReplyOp:
		a.ConversationID, a.Content, a.MessageType, a.ReplyTo = o.ConversationID, o.Content, o.MessageType, o.ReplyTo
	case ReactOp:
		a.MessageID, a.Emoji = o.MessageID, o.Emoji
	case EditOp:
		a.MessageID, a.Content = o.MessageID, o.Content
	case DeleteOp:
		a.MessageID = o.MessageID
	case MarkReadOp:
		a.MessageID = o.MessageID
	case BatchMarkSeenOp:
		a.ConversationID, a.MessageIDs = o.ConversationID, o.MessageIDs
	}
	return a
}
