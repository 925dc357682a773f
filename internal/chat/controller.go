// Package chat orchestrates a conversation against the agent backend:
// session bootstrap, message submission, stream ingestion, and
// cancellation. One Controller owns one conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/chatstream/internal/backend"
	"github.com/user/chatstream/internal/ingest"
	"github.com/user/chatstream/internal/sse"
	"github.com/user/chatstream/internal/types"
)

// maxTitleLen bounds the session title derived from the first message.
const maxTitleLen = 40

// Sink receives projection updates as the conversation view changes. It
// must tolerate redundant calls: the same message snapshot may be
// delivered more than once.
type Sink interface {
	MessageUpserted(sessionID types.SessionID, msg *types.Message)
	TimelineAppended(sessionID types.SessionID, ev *types.TimelineEvent)
	SourceCount(sessionID types.SessionID, count int)
}

// NopSink discards all updates.
type NopSink struct{}

func (NopSink) MessageUpserted(types.SessionID, *types.Message)        {}
func (NopSink) TimelineAppended(types.SessionID, *types.TimelineEvent) {}
func (NopSink) SourceCount(types.SessionID, int)                       {}

// Controller drives submissions for one conversation. At most one
// backend stream is in flight at a time; a second Submit while one is
// running is rejected.
type Controller struct {
	client   *backend.Client
	policy   *backend.Policy
	sessions types.SessionStore
	messages types.MessageStore
	timeline types.TimelineStore
	sink     Sink

	inflight *semaphore.Weighted

	mu     sync.Mutex
	handle *types.SessionHandle
	cancel context.CancelFunc
}

// New creates a Controller wired to the given backend client, retry
// policy, stores, and projection sink.
func New(client *backend.Client, policy *backend.Policy, sessions types.SessionStore, messages types.MessageStore, timeline types.TimelineStore, sink Sink) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	return &Controller{
		client:   client,
		policy:   policy,
		sessions: sessions,
		messages: messages,
		timeline: timeline,
		sink:     sink,
		inflight: semaphore.NewWeighted(1),
	}
}

// Resume attaches the controller to an existing backend session instead
// of creating one lazily on first submit.
func (c *Controller) Resume(handle *types.SessionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handle = handle
}

// Handle returns the cached backend session handle, or nil before the
// first successful submit.
func (c *Controller) Handle() *types.SessionHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Stop cancels the in-flight stream, if any. The interrupted submission
// finishes quietly, leaving the message at its last accumulated state.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Submit sends a query through the conversation: it bootstraps the
// backend session if needed, records the human message and an AI
// placeholder, opens the run stream, and folds streamed events into the
// AI message until the stream ends or is stopped.
func (c *Controller) Submit(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	if !c.inflight.TryAcquire(1) {
		return errors.New("a response is already streaming")
	}
	defer c.inflight.Release(1)

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	handle, err := c.ensureSession(runCtx)
	if err != nil {
		if wasCancelled(runCtx, err) {
			return nil
		}
		return fmt.Errorf("create session: %w", err)
	}
	sid := handle.SessionID

	human := &types.Message{
		ID:      types.NewMessageID(),
		Role:    types.RoleHuman,
		Content: query,
	}
	if err := c.messages.Append(runCtx, sid, human); err != nil {
		return fmt.Errorf("store user message: %w", err)
	}
	c.sink.MessageUpserted(sid, human)
	if err := c.sessions.SetTitleIfNew(runCtx, sid, DeriveTitle(query)); err != nil {
		slog.Warn("set session title", "session_id", sid, "error", err)
	}

	// The AI message exists as an empty placeholder before any event
	// arrives, so the conversation view shows the turn immediately.
	ai := &types.Message{
		ID:   types.NewMessageID(),
		Role: types.RoleAI,
	}
	if err := c.messages.Append(runCtx, sid, ai); err != nil {
		return fmt.Errorf("store placeholder message: %w", err)
	}
	c.sink.MessageUpserted(sid, ai)

	var body io.ReadCloser
	err = c.policy.Execute(runCtx, func(ctx context.Context) error {
		rc, err := c.client.OpenRun(ctx, handle, query)
		if err != nil {
			return err
		}
		body = rc
		return nil
	})
	if err != nil {
		if wasCancelled(runCtx, err) {
			return nil
		}
		c.appendError(sid, err)
		return fmt.Errorf("open run stream: %w", err)
	}
	defer body.Close()

	acc := ingest.NewAccumulator(ai.ID)
	scanner := sse.NewScanner(body)
	lastSourceCount := 0

	for {
		payload, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if wasCancelled(runCtx, err) {
				// User stop: freeze the last accumulated state, no error
				// message.
				slog.Debug("stream stopped", "session_id", sid, "message_id", ai.ID)
				break
			}
			c.publish(ctx, sid, ai, acc.Snapshot())
			c.appendError(sid, err)
			return fmt.Errorf("read stream: %w", err)
		}

		entries, changed := acc.Apply(ingest.Extract(payload))
		for i := range entries {
			if err := c.timeline.Append(runCtx, sid, &entries[i]); err != nil {
				slog.Warn("append timeline entry", "session_id", sid, "error", err)
			}
			c.sink.TimelineAppended(sid, &entries[i])
		}
		if changed {
			snap := acc.Snapshot()
			c.publish(runCtx, sid, ai, snap)
			if snap.SourceCount > lastSourceCount {
				lastSourceCount = snap.SourceCount
				c.sink.SourceCount(sid, snap.SourceCount)
			}
		}
	}

	// One final republish so the persisted view matches memory even when
	// no terminal event fired.
	c.publish(ctx, sid, ai, acc.Snapshot())
	return nil
}

// ensureSession returns the cached backend handle, creating the session
// (with retry) on first use.
func (c *Controller) ensureSession(ctx context.Context) (*types.SessionHandle, error) {
	c.mu.Lock()
	handle := c.handle
	c.mu.Unlock()
	if handle != nil {
		return handle, nil
	}

	if err := c.policy.Execute(ctx, func(ctx context.Context) error {
		h, err := c.client.CreateSession(ctx)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}); err != nil {
		return nil, err
	}

	if _, err := c.sessions.Create(ctx, handle); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	c.mu.Lock()
	c.handle = handle
	c.mu.Unlock()
	return handle, nil
}

// publish writes one consistent snapshot of the AI message to the store
// and the sink. Safe to call redundantly.
func (c *Controller) publish(ctx context.Context, sid types.SessionID, msg *types.Message, snap ingest.Snapshot) {
	msg.Content = snap.Content
	msg.Agent = snap.Agent
	msg.Images = snap.Images
	msg.FinalReport = snap.FinalReport
	if err := c.messages.Upsert(ctx, sid, msg); err != nil {
		slog.Warn("persist message snapshot", "message_id", msg.ID, "error", err)
	}
	c.sink.MessageUpserted(sid, msg)
}

// appendError surfaces a terminal submission failure as a single AI
// message on the conversation.
func (c *Controller) appendError(sid types.SessionID, cause error) {
	msg := &types.Message{
		ID:      types.NewMessageID(),
		Role:    types.RoleAI,
		Content: "Sorry, there was an error processing your request: " + cause.Error(),
	}
	if err := c.messages.Append(context.Background(), sid, msg); err != nil {
		slog.Error("store error message", "session_id", sid, "error", err)
		return
	}
	c.sink.MessageUpserted(sid, msg)
}

// wasCancelled distinguishes a user stop from a genuine failure.
func wasCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

// DeriveTitle builds a session title from the first human message:
// newlines collapsed, truncated with an ellipsis. Truncation counts
// runes so a multibyte message never yields an invalid title.
func DeriveTitle(content string) string {
	cleaned := strings.TrimSpace(strings.ReplaceAll(content, "\n", " "))
	runes := []rune(cleaned)
	if len(runes) <= maxTitleLen {
		return cleaned
	}
	return string(runes[:maxTitleLen-3]) + "..."
}
