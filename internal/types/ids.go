// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type MessageID string

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

// NewSessionID generates the random identifier under which a backend
// session is created. The backend echoes it back in the session handle.
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}
