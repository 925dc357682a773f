// internal/state/timeline.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/chatstream/internal/types"
)

// TimelineStore is a JSONL-backed append-only log of side-channel
// activity (function calls, citation sets, text chunks), stored
// per-session in sessions/<sessionID>/timeline.jsonl. Entries are never
// mutated after append.
type TimelineStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewTimelineStore creates a new file-backed TimelineStore rooted at the given directory.
func NewTimelineStore(root string) *TimelineStore {
	return &TimelineStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

// getLock returns the per-session mutex, creating one if it doesn't exist.
func (t *TimelineStore) getLock(sessionID types.SessionID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	if lock, ok := t.locks[sessionID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	t.locks[sessionID] = lock
	return lock
}

func (t *TimelineStore) timelinePath(sessionID types.SessionID) string {
	return filepath.Join(t.root, "sessions", string(sessionID), "timeline.jsonl")
}

// count reads the timeline file and counts lines. Caller must hold the session lock.
func (t *TimelineStore) count(sessionID types.SessionID) (int64, error) {
	f, err := os.Open(t.timelinePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open timeline file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan timeline file: %w", err)
	}
	return count, nil
}

// Append adds an entry to the session's timeline with an auto-incremented
// sequence number.
func (t *TimelineStore) Append(_ context.Context, sessionID types.SessionID, ev *types.TimelineEvent) error {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(t.timelinePath(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := t.count(sessionID)
	if err != nil {
		return err
	}
	ev.Seq = existing + 1
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal timeline entry: %w", err)
	}

	f, err := os.OpenFile(t.timelinePath(sessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open timeline file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write timeline entry: %w", err)
	}
	return nil
}

// Tail returns the last N timeline entries for the given session, in
// append order.
func (t *TimelineStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.TimelineEvent, error) {
	lock := t.getLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(t.timelinePath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open timeline file: %w", err)
	}
	defer f.Close()

	var entries []*types.TimelineEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry types.TimelineEvent
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal timeline entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan timeline file: %w", err)
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
