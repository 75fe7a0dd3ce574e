package conversation

import (
	"context"
	"strings"
	"testing"

	"github.com/leadpipe/leadpipe/internal/store"
)

func TestWindow_ChronologicalOrderAndLimit(t *testing.T) {
	st := store.NewInMemoryStore()
	log := NewLog(st)
	ctx := context.Background()

	texts := []string{"m1", "m2", "m3", "m4", "m5", "m6"}
	for _, text := range texts {
		if _, err := log.Append(ctx, 1, text); err != nil {
			t.Fatalf("unexpected append error: %v", err)
		}
	}

	window, err := log.Window(ctx, 1, 4, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window) != 4 {
		t.Fatalf("expected window of 4, got %d", len(window))
	}
	want := []string{"m3", "m4", "m5", "m6"}
	for i, m := range window {
		if m.Text != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], m.Text)
		}
	}
}

func TestWindow_ExcludesCurrentMessage(t *testing.T) {
	st := store.NewInMemoryStore()
	log := NewLog(st)
	ctx := context.Background()

	if _, err := log.Append(ctx, 1, "earlier"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	currentID, err := log.Append(ctx, 1, "current")
	if err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	window, err := log.Window(ctx, 1, 10, currentID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window) != 1 || window[0].Text != "earlier" {
		t.Fatalf("expected only the earlier message, got %+v", window)
	}
}

func TestWindow_IsolatedPerUser(t *testing.T) {
	st := store.NewInMemoryStore()
	log := NewLog(st)
	ctx := context.Background()

	if _, err := log.Append(ctx, 1, "user one"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if _, err := log.Append(ctx, 2, "user two"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	window, err := log.Window(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window) != 1 || window[0].Text != "user one" {
		t.Fatalf("expected only user 1 messages, got %+v", window)
	}
}

func TestWindow_TruncatesLongEntries(t *testing.T) {
	st := store.NewInMemoryStore()
	log := NewLog(st)
	ctx := context.Background()

	long := strings.Repeat("ж", MaxEntryRunes+50)
	if _, err := log.Append(ctx, 1, long); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	window, err := log.Window(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := window[0].Text
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Errorf("expected truncation marker suffix, got tail %q", got[len(got)-10:])
	}
	wantRunes := MaxEntryRunes + len([]rune(TruncationMarker))
	if n := len([]rune(got)); n != wantRunes {
		t.Errorf("expected %d runes after truncation, got %d", wantRunes, n)
	}
}

func TestWindow_ZeroLimit(t *testing.T) {
	st := store.NewInMemoryStore()
	log := NewLog(st)
	ctx := context.Background()

	if _, err := log.Append(ctx, 1, "hello"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	window, err := log.Window(ctx, 1, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(window) != 0 {
		t.Errorf("expected empty window for zero limit, got %d entries", len(window))
	}
}
