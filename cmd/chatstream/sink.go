package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/chatstream/internal/ingest"
	"github.com/user/chatstream/internal/types"
)

// terminalSink renders streaming message updates to a writer. Content
// normally grows by appending, so it prints only the unprinted suffix;
// the final report replaces the draft wholesale and restarts the
// printout under a fresh header.
type terminalSink struct {
	out     io.Writer
	current types.MessageID
	printed string
	label   string
	final   bool
	sources int
}

func newTerminalSink() *terminalSink {
	return &terminalSink{out: os.Stdout}
}

func (s *terminalSink) MessageUpserted(_ types.SessionID, msg *types.Message) {
	if msg.Role != types.RoleAI {
		return
	}
	if msg.ID != s.current {
		s.current = msg.ID
		s.printed = ""
		s.label = ""
		s.final = false
		if msg.Content == "" {
			fmt.Fprintln(os.Stderr, "Initializing...")
			return
		}
	}
	if msg.Content == "" && s.printed == "" {
		return
	}

	label := ingest.DisplayLabel(msg.Agent, msg.FinalReport)

	// The final report supersedes the streamed draft even when it happens
	// to share a prefix with it, so the reprint keys on the flag.
	if msg.FinalReport && !s.final {
		s.final = true
		fmt.Fprintf(s.out, "\n\n--- %s ---\n%s", label, msg.Content)
		s.printed = msg.Content
		s.label = label
		return
	}
	if !strings.HasPrefix(msg.Content, s.printed) {
		fmt.Fprintf(s.out, "\n\n--- %s ---\n%s", label, msg.Content)
		s.printed = msg.Content
		s.label = label
		return
	}
	if label != s.label {
		if s.printed != "" {
			fmt.Fprintln(s.out)
		}
		fmt.Fprintf(s.out, "[%s]\n", label)
		s.label = label
	}
	if len(msg.Content) > len(s.printed) {
		fmt.Fprint(s.out, msg.Content[len(s.printed):])
		s.printed = msg.Content
	}
}

func (s *terminalSink) TimelineAppended(_ types.SessionID, ev *types.TimelineEvent) {
	if ev.Kind == types.TimelineText {
		return
	}
	fmt.Fprintf(os.Stderr, "  · %s\n", ev.Title)
}

func (s *terminalSink) SourceCount(_ types.SessionID, count int) {
	s.sources = count
}

// finishTurn prints the turn summary line and resets per-turn state.
func (s *terminalSink) finishTurn() {
	if s.printed != "" {
		fmt.Fprintln(s.out)
	}
	if s.sources > 0 {
		fmt.Fprintf(s.out, "(%d websites consulted)\n", s.sources)
	}
	if n, ok := estimateTokens(s.printed); ok {
		fmt.Fprintf(s.out, "(~%d tokens)\n", n)
	}
	fmt.Fprintln(s.out)
	s.current = ""
	s.printed = ""
	s.label = ""
	s.final = false
	s.sources = 0
}

// estimateTokens counts response tokens with the cl100k_base encoding.
// The encoding may need a one-time download; failures just skip the
// readout.
func estimateTokens(content string) (int, bool) {
	if content == "" {
		return 0, false
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, false
	}
	return len(enc.Encode(content, nil, nil)), true
}
