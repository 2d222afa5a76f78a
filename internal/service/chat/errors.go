package chat

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRateLimited     = errors.New("please wait a moment before asking another question")
	ErrTurnActive      = errors.New("a response is already being generated for this session")
	ErrBadEditIndex    = errors.New("edit index does not reference a user message")
	ErrEmptyMessage    = errors.New("message text is required")
)
