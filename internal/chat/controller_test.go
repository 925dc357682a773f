package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/user/chatstream/internal/backend"
	"github.com/user/chatstream/internal/config"
	"github.com/user/chatstream/internal/state"
	"github.com/user/chatstream/internal/types"
)

// recordingSink captures projection updates for assertions.
type recordingSink struct {
	mu       sync.Mutex
	messages []types.Message
	timeline []types.TimelineEvent
	sources  []int
}

func (r *recordingSink) MessageUpserted(_ types.SessionID, msg *types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, *msg)
}

func (r *recordingSink) TimelineAppended(_ types.SessionID, ev *types.TimelineEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeline = append(r.timeline, *ev)
}

func (r *recordingSink) SourceCount(_ types.SessionID, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, count)
}

func (r *recordingSink) lastAI() (types.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == types.RoleAI {
			return r.messages[i], true
		}
	}
	return types.Message{}, false
}

func fastPolicy() *backend.Policy {
	return &backend.Policy{
		MaxAttempts: 3,
		MaxDuration: 5 * time.Second,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}
}

// sseBackend is a fake agent backend speaking the session and run wire
// protocol, streaming the configured events per run.
func sseBackend(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/apps/"):
			json.NewEncoder(w).Encode(map[string]string{
				"userId":  "u_123",
				"id":      "sess-1",
				"appName": "research",
			})
		case r.URL.Path == "/run_sse":
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, ev := range events {
				fmt.Fprintf(w, "data: %s\n\n", ev)
				flusher.Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestController(t *testing.T, baseURL string, sink Sink) (*Controller, *state.MessageStore) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Backend.BaseURL = baseURL
	cfg.Backend.AppName = "research"
	cfg.Backend.UserID = "u_123"

	messages := state.NewMessageStore(dir)
	ctrl := New(
		backend.New(cfg),
		fastPolicy(),
		state.NewSessionStore(dir),
		messages,
		state.NewTimelineStore(dir),
		sink,
	)
	return ctrl, messages
}

func TestSubmitStreamsToFinalReport(t *testing.T) {
	srv := sseBackend(t, []string{
		`{"author":"plan_generator","content":{"parts":[{"text":"Planning. "}]}}`,
		`{"author":"section_researcher","content":{"parts":[{"functionCall":{"name":"google_search"}}]}}`,
		`{"author":"section_researcher","actions":{"stateDelta":{"url_to_short_id":{"https://a":"s1","https://b":"s2"}}}}`,
		`{"author":"section_researcher","content":{"parts":[{"text":"Found things."}]}}`,
		`{"author":"report_composer_with_citations","actions":{"stateDelta":{"final_report_with_citations":"# Report","sources":{"s1":{}}}}}`,
	})
	defer srv.Close()

	sink := &recordingSink{}
	ctrl, messages := newTestController(t, srv.URL, sink)

	if err := ctrl.Submit(context.Background(), "research Go"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	handle := ctrl.Handle()
	if handle == nil || handle.SessionID != "sess-1" {
		t.Fatalf("Handle() = %+v, want cached backend session", handle)
	}

	stored, err := messages.List(context.Background(), handle.SessionID)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d messages, want human + AI", len(stored))
	}
	if stored[0].Role != types.RoleHuman || stored[0].Content != "research Go" {
		t.Errorf("human message = %+v", stored[0])
	}

	ai := stored[1]
	if ai.Role != types.RoleAI || !ai.FinalReport {
		t.Errorf("AI message = %+v, want finalized report", ai)
	}
	if ai.Content != "# Report" {
		t.Errorf("Content = %q, want final report to replace the draft", ai.Content)
	}
	if ai.Agent != "report_composer_with_citations" {
		t.Errorf("Agent = %q, want last speaking agent", ai.Agent)
	}

	kinds := map[types.TimelineKind]int{}
	sink.mu.Lock()
	for _, ev := range sink.timeline {
		kinds[ev.Kind]++
	}
	lastSources := append([]int(nil), sink.sources...)
	sink.mu.Unlock()
	if kinds[types.TimelineFunctionCall] != 1 || kinds[types.TimelineText] != 2 || kinds[types.TimelineSources] != 1 {
		t.Errorf("timeline kinds = %v", kinds)
	}
	if len(lastSources) == 0 || lastSources[len(lastSources)-1] != 2 {
		t.Errorf("source counts = %v, want final 2", lastSources)
	}
}

func TestSubmitEmptyQueryNoop(t *testing.T) {
	sink := &recordingSink{}
	ctrl, _ := newTestController(t, "http://127.0.0.1:0", sink)
	if err := ctrl.Submit(context.Background(), "   "); err != nil {
		t.Fatalf("Submit(blank) error = %v", err)
	}
	if len(sink.messages) != 0 {
		t.Errorf("blank submit produced messages: %+v", sink.messages)
	}
}

func TestSubmitRejectsConcurrent(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/apps/"):
			json.NewEncoder(w).Encode(map[string]string{"userId": "u", "id": "sess-1", "appName": "a"})
		case r.URL.Path == "/run_sse":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"author\":\"plan_generator\",\"content\":{\"parts\":[{\"text\":\"x\"}]}}\n\n")
			w.(http.Flusher).Flush()
			close(started)
			<-release
		}
	}))
	defer srv.Close()
	defer close(release)

	ctrl, _ := newTestController(t, srv.URL, nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ctrl.Submit(context.Background(), "long running")
	}()

	<-started
	if err := ctrl.Submit(context.Background(), "second"); err == nil {
		t.Error("second Submit() = nil error, want in-flight rejection")
	}

	ctrl.Stop()
	if err := <-errCh; err != nil {
		t.Errorf("first Submit() after stop error = %v, want nil", err)
	}
}

func TestStopFreezesPartialContent(t *testing.T) {
	release := make(chan struct{})
	streamed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/apps/"):
			json.NewEncoder(w).Encode(map[string]string{"userId": "u", "id": "sess-1", "appName": "a"})
		case r.URL.Path == "/run_sse":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"author\":\"plan_generator\",\"content\":{\"parts\":[{\"text\":\"partial answer\"}]}}\n\n")
			w.(http.Flusher).Flush()
			close(streamed)
			<-release
		}
	}))
	defer srv.Close()
	defer close(release)

	sink := &recordingSink{}
	ctrl, messages := newTestController(t, srv.URL, sink)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Submit(context.Background(), "question")
	}()

	<-streamed
	// Give the controller a moment to apply the streamed event.
	waitFor(t, func() bool {
		msg, ok := sink.lastAI()
		return ok && msg.Content == "partial answer"
	})
	ctrl.Stop()

	if err := <-done; err != nil {
		t.Fatalf("Submit() after stop error = %v, want quiet finish", err)
	}

	stored, err := messages.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d messages, want 2 (no error message)", len(stored))
	}
	if stored[1].Content != "partial answer" {
		t.Errorf("AI content = %q, want last accumulated state", stored[1].Content)
	}
	for _, msg := range stored {
		if strings.Contains(msg.Content, "Sorry, there was an error") {
			t.Error("stop produced an error message")
		}
	}
}

func TestSubmitRunFailureAppendsErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/apps/"):
			json.NewEncoder(w).Encode(map[string]string{"userId": "u", "id": "sess-1", "appName": "a"})
		case r.URL.Path == "/run_sse":
			http.Error(w, "agent crashed", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	ctrl, messages := newTestController(t, srv.URL, nil)

	err := ctrl.Submit(context.Background(), "question")
	if err == nil {
		t.Fatal("Submit() = nil error, want run failure")
	}

	stored, listErr := messages.List(context.Background(), "sess-1")
	if listErr != nil {
		t.Fatalf("List() error = %v", listErr)
	}
	last := stored[len(stored)-1]
	if !strings.HasPrefix(last.Content, "Sorry, there was an error processing your request: ") {
		t.Errorf("last message = %q, want error notice", last.Content)
	}
}

func TestSubmitReusesSession(t *testing.T) {
	creates := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/apps/"):
			creates++
			json.NewEncoder(w).Encode(map[string]string{"userId": "u", "id": "sess-1", "appName": "a"})
		case r.URL.Path == "/run_sse":
			w.Header().Set("Content-Type", "text/event-stream")
			io.WriteString(w, "data: {\"author\":\"plan_generator\",\"content\":{\"parts\":[{\"text\":\"ok\"}]}}\n\n")
		}
	}))
	defer srv.Close()

	ctrl, _ := newTestController(t, srv.URL, nil)
	if err := ctrl.Submit(context.Background(), "first"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := ctrl.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if creates != 1 {
		t.Errorf("backend session created %d times, want 1", creates)
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"short question":         "short question",
		"multi\nline\nquery":     "multi line query",
		"  padded  ":             "padded",
		strings.Repeat("x", 50): strings.Repeat("x", 37) + "...",
		strings.Repeat("y", 40): strings.Repeat("y", 40),
	}
	for in, want := range cases {
		if got := DeriveTitle(in); got != want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDeriveTitleMultibyte(t *testing.T) {
	in := strings.Repeat("日", 50)
	got := DeriveTitle(in)
	if got != strings.Repeat("日", 37)+"..." {
		t.Errorf("DeriveTitle(multibyte) = %q, want 37 runes plus ellipsis", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("DeriveTitle(multibyte) = %q, not valid UTF-8", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
