// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/chatstream/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.MessageStore = (*MessageStore)(nil)
var _ types.TimelineStore = (*TimelineStore)(nil)
