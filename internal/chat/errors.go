package chat

import (
	"errors"

	"chatsync/internal/auth"
)

var (
	// ErrAuthRequired means no bearer token was available; nothing was sent or mutated.
	ErrAuthRequired = auth.ErrAuthRequired
	// ErrFetch wraps network failures while resolving conversations, loading history
	// or marking read. Local state is left as it was.
	ErrFetch = errors.New("chat: request failed")
	// ErrSend wraps a failed send. The message is not in the store.
	ErrSend = errors.New("chat: send failed")
	// ErrStale reports a result that was dropped because the session was reset or the
	// conversation stopped being active while the request was in flight.
	ErrStale = errors.New("chat: stale result discarded")

	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrThreadClosed = errors.New("chat: thread closed")
)
