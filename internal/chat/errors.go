package chat

import "errors"

// Turn failure taxonomy. A failed turn never leaves a half-applied session:
// nothing is committed until the whole user/assistant pair persists, so every
// one of these is safe to retry except ErrUserNotFound, which only the client
// can fix.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrCompletionFailed  = errors.New("completion service failed")
	ErrPersistenceFailed = errors.New("failed to persist turn")
)
