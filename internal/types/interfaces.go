// internal/types/interfaces.go
package types

import (
	"context"
)

type SessionStore interface {
	Create(ctx context.Context, handle *SessionHandle) (*SessionIndex, error)
	Get(ctx context.Context, id SessionID) (*SessionIndex, error)
	List(ctx context.Context) ([]*SessionIndex, error)
	// SetTitleIfNew replaces the placeholder title of a freshly created
	// session. It is a no-op once a real title has been set.
	SetTitleIfNew(ctx context.Context, id SessionID, title string) error
	Delete(ctx context.Context, id SessionID) error
}

type MessageStore interface {
	Append(ctx context.Context, sessionID SessionID, msg *Message) error
	// Upsert overwrites the mutable fields of the message with the given
	// snapshot, creating the entry if it does not exist yet. Calling it
	// repeatedly with the same snapshot must leave the store unchanged.
	Upsert(ctx context.Context, sessionID SessionID, msg *Message) error
	List(ctx context.Context, sessionID SessionID) ([]*Message, error)
}

type TimelineStore interface {
	Append(ctx context.Context, sessionID SessionID, ev *TimelineEvent) error
	Tail(ctx context.Context, sessionID SessionID, limit int) ([]*TimelineEvent, error)
}
