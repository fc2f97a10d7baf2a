package syncclient

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNotOpen       = errors.New("conversation not open")
	ErrUnknownAction = errors.New("no failed action with that id")
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Status)
	}
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}
