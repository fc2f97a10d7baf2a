package connect

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrKeyNotFound     = errors.New("invalid or expired key")
	ErrKeyExpired      = errors.New("key has expired")
	ErrKeyTaken        = errors.New("key already in use")
	ErrSelfRequest     = errors.New("cannot send request to yourself")
	ErrChatExists      = errors.New("chat already exists")
	ErrRequestExists   = errors.New("request already exists")
	ErrRequestNotFound = errors.New("request not found or already processed")
)
