package state

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/user/chatstream/internal/types"
)

func TestTimelineAppendAssignsSeq(t *testing.T) {
	store := NewTimelineStore(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev := &types.TimelineEvent{
			MessageID: "m1",
			Title:     fmt.Sprintf("entry %d", i),
			Kind:      types.TimelineText,
			Payload:   json.RawMessage(`{}`),
		}
		if err := store.Append(ctx, "s1", ev); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if ev.Seq != int64(i+1) {
			t.Errorf("Seq = %d, want %d", ev.Seq, i+1)
		}
		if ev.At.IsZero() {
			t.Error("At not stamped on append")
		}
	}
}

func TestTimelineTail(t *testing.T) {
	store := NewTimelineStore(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Append(ctx, "s1", &types.TimelineEvent{
			MessageID: "m1",
			Title:     fmt.Sprintf("entry %d", i),
			Kind:      types.TimelineFunctionCall,
		})
	}

	tail, err := store.Tail(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("Tail() returned %d entries, want 2", len(tail))
	}
	if tail[0].Title != "entry 3" || tail[1].Title != "entry 4" {
		t.Errorf("Tail() = [%s, %s], want last two in order", tail[0].Title, tail[1].Title)
	}
}

func TestTimelineTailLimitLargerThanLog(t *testing.T) {
	store := NewTimelineStore(t.TempDir())
	ctx := context.Background()

	store.Append(ctx, "s1", &types.TimelineEvent{MessageID: "m1", Kind: types.TimelineText})
	tail, err := store.Tail(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(tail) != 1 {
		t.Errorf("Tail() returned %d entries, want 1", len(tail))
	}
}

func TestTimelineTailEmpty(t *testing.T) {
	store := NewTimelineStore(t.TempDir())
	tail, err := store.Tail(context.Background(), "nope", 5)
	if err != nil {
		t.Fatalf("Tail() error = %v", err)
	}
	if len(tail) != 0 {
		t.Errorf("Tail() = %+v, want empty", tail)
	}
}

func TestTimelineSessionsIsolated(t *testing.T) {
	store := NewTimelineStore(t.TempDir())
	ctx := context.Background()

	store.Append(ctx, "s1", &types.TimelineEvent{MessageID: "m1", Kind: types.TimelineText})
	store.Append(ctx, "s2", &types.TimelineEvent{MessageID: "m2", Kind: types.TimelineText})

	tail, _ := store.Tail(ctx, "s1", 10)
	if len(tail) != 1 || tail[0].MessageID != "m1" {
		t.Errorf("s1 tail = %+v, want only its own entry", tail)
	}
}
