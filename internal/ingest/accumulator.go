package ingest

import (
	"encoding/json"
	"strings"

	"github.com/user/chatstream/internal/types"
)

// Accumulator folds a sequence of normalized events into the evolving
// view of one AI message. One instance exists per in-flight message, is
// owned exclusively by the task driving that message's stream, and is
// discarded when the message finalizes.
//
// Accumulated text and images only ever grow; the source count is a
// high-water mark. The one exception to accumulation is the final report,
// which supersedes the streamed draft wholesale.
type Accumulator struct {
	id          types.MessageID
	agent       string
	text        strings.Builder
	images      []types.ImageRef
	sourceCount int
	report      string
}

// NewAccumulator creates the fold state for the AI message with the
// given id.
func NewAccumulator(id types.MessageID) *Accumulator {
	return &Accumulator{id: id}
}

// Snapshot is a consistent read-only view of the accumulator, consumed by
// persistence and UI projection after each applied event.
type Snapshot struct {
	MessageID   types.MessageID
	Content     string
	Agent       string
	Images      []types.ImageRef
	SourceCount int
	FinalReport bool
}

// Snapshot returns the current view. The content is the accumulated
// draft until the final report replaces it.
func (a *Accumulator) Snapshot() Snapshot {
	content := a.text.String()
	if a.report != "" {
		content = a.report
	}
	images := make([]types.ImageRef, len(a.images))
	copy(images, a.images)
	return Snapshot{
		MessageID:   a.id,
		Content:     content,
		Agent:       a.agent,
		Images:      images,
		SourceCount: a.sourceCount,
		FinalReport: a.report != "",
	}
}

// Apply folds one event into the state. It returns the timeline entries
// the event produced and whether the message view changed (and so needs
// republishing). The rules below are independent, so several can fire
// for the same event. Events must be applied in arrival order.
func (a *Accumulator) Apply(ev Event) ([]types.TimelineEvent, bool) {
	var timeline []types.TimelineEvent
	changed := false

	if ev.SourceCount > a.sourceCount {
		a.sourceCount = ev.SourceCount
		changed = true
	}

	// The label switches as soon as a new agent speaks, even before any
	// of its text arrives.
	if ev.Agent != "" && ev.Agent != a.agent {
		a.agent = ev.Agent
		changed = true
	}

	if ev.FunctionCall != nil {
		payload, _ := json.Marshal(ev.FunctionCall)
		timeline = append(timeline, types.TimelineEvent{
			MessageID: a.id,
			Title:     "Function Call: " + ev.FunctionCall.Name,
			Kind:      types.TimelineFunctionCall,
			Payload:   payload,
		})
	}

	if ev.FunctionResponse != nil {
		payload, _ := json.Marshal(ev.FunctionResponse)
		timeline = append(timeline, types.TimelineEvent{
			MessageID: a.id,
			Title:     "Function Response: " + ev.FunctionResponse.Name,
			Kind:      types.TimelineFunctionResponse,
			Payload:   payload,
		})
	}

	// Draft text accumulates from every agent except the report composer,
	// whose prose is delivered through the final report delta instead.
	if len(ev.TextParts) > 0 && ev.Agent != AgentReportComposer {
		payload, _ := json.Marshal(map[string]string{
			"content": strings.Join(ev.TextParts, " "),
		})
		timeline = append(timeline, types.TimelineEvent{
			MessageID: a.id,
			Title:     TitleFor(ev.Agent),
			Kind:      types.TimelineText,
			Payload:   payload,
		})
		for _, text := range ev.TextParts {
			a.text.WriteString(text)
		}
		changed = true
	}

	if len(ev.ImageParts) > 0 {
		a.images = append(a.images, ev.ImageParts...)
		changed = true
	}

	if len(ev.Sources) > 0 {
		timeline = append(timeline, types.TimelineEvent{
			MessageID: a.id,
			Title:     "Retrieved Sources",
			Kind:      types.TimelineSources,
			Payload:   ev.Sources,
		})
	}

	if ev.Agent == AgentReportComposer && ev.FinalReport != "" {
		a.report = ev.FinalReport
		changed = true
	}

	return timeline, changed
}
