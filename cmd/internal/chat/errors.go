package chat

import "errors"

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrNotParticipant  = errors.New("not a participant")
	ErrNotAuthor       = errors.New("not the author")
	ErrInvalidReply    = errors.New("invalid reply target")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSelfChat        = errors.New("chat needs two distinct users")
)
