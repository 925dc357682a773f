// Package ingest turns raw streamed event payloads into an evolving
// per-message view: extraction normalizes each heterogeneous envelope,
// and the accumulator folds the normalized records in arrival order.
package ingest

import (
	"encoding/json"
	"log/slog"

	"github.com/user/chatstream/internal/types"
)

// FunctionCall is a tool invocation announced by an agent.
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// FunctionResponse is the result of an earlier function call.
type FunctionResponse struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

// Event is the normalized record extracted from one stream payload. The
// upstream pipeline emits differently shaped envelopes per step, so every
// field is optional; the zero Event means "nothing usable".
type Event struct {
	TextParts        []string
	ImageParts       []types.ImageRef
	Agent            string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
	FinalReport      string
	SourceCount      int
	Sources          json.RawMessage
}

// envelope mirrors the subset of the wire schema the client cares about.
type envelope struct {
	Author  string `json:"author"`
	Content *struct {
		Parts []part `json:"parts"`
	} `json:"content"`
	Actions *struct {
		StateDelta *stateDelta `json:"stateDelta"`
	} `json:"actions"`
}

type part struct {
	Text     string `json:"text"`
	FileData *struct {
		FileURI  string `json:"fileUri"`
		MimeType string `json:"mimeType"`
	} `json:"fileData"`
	InlineData *struct {
		Data     string `json:"data"`
		MimeType string `json:"mimeType"`
	} `json:"inlineData"`
	FunctionCall     *FunctionCall     `json:"functionCall"`
	FunctionResponse *FunctionResponse `json:"functionResponse"`
}

type stateDelta struct {
	FinalReport  string                     `json:"final_report_with_citations"`
	URLToShortID map[string]json.RawMessage `json:"url_to_short_id"`
	Sources      json.RawMessage            `json:"sources"`
}

// Extract parses one raw event payload into a normalized Event. It never
// fails the stream: a malformed payload is logged (truncated) and yields
// an empty record.
func Extract(raw string) Event {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		slog.Error("malformed stream event", "raw", truncate(raw, 200), "error", err)
		return Event{}
	}

	ev := Event{Agent: env.Author}

	if env.Content != nil {
		for _, p := range env.Content.Parts {
			if p.Text != "" {
				ev.TextParts = append(ev.TextParts, p.Text)
			}
			switch {
			case p.FileData != nil:
				ev.ImageParts = append(ev.ImageParts, types.ImageRef{
					URL:      p.FileData.FileURI,
					MimeType: p.FileData.MimeType,
				})
			case p.InlineData != nil:
				ev.ImageParts = append(ev.ImageParts, types.ImageRef{
					Data:     p.InlineData.Data,
					MimeType: p.InlineData.MimeType,
				})
			}
			if ev.FunctionCall == nil && p.FunctionCall != nil {
				ev.FunctionCall = p.FunctionCall
			}
			if ev.FunctionResponse == nil && p.FunctionResponse != nil {
				ev.FunctionResponse = p.FunctionResponse
			}
		}
	}

	if env.Actions != nil && env.Actions.StateDelta != nil {
		delta := env.Actions.StateDelta
		ev.FinalReport = delta.FinalReport
		// An explicit JSON null means the same as an absent field.
		if len(delta.Sources) > 0 && string(delta.Sources) != "null" {
			ev.Sources = delta.Sources
		}
		if countsSources(env.Author) {
			ev.SourceCount = len(delta.URLToShortID)
		}
	}

	return ev
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
