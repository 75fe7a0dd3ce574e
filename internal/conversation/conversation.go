// Package conversation adapts the store into an append-only conversational
// log with a bounded, chronologically ordered history window.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/store"
)

const (
	// MaxEntryRunes bounds each history entry handed to the orchestrator,
	// keeping prompt size under control.
	MaxEntryRunes = 800
	// TruncationMarker is appended to entries cut at MaxEntryRunes.
	TruncationMarker = "…"
)

// Log is the conversation store adapter.
type Log struct {
	store store.Store
}

// NewLog creates a conversation log backed by the given store.
func NewLog(s store.Store) *Log {
	return &Log{store: s}
}

// Append commits one message to the user's log and returns its id. The id is
// later used as the exclusive upper bound of the message's own history window.
func (l *Log) Append(ctx context.Context, userID int64, text string) (int64, error) {
	id, err := l.store.AddMessage(ctx, userID, text)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	return id, nil
}

// Window returns up to limit messages for the user in chronological order
// (oldest first), excluding rows with id >= beforeID. The store naturally
// returns newest-first; this adapter owns the reversal so the ordering
// contract lives in exactly one place. Each entry's text is truncated to
// MaxEntryRunes runes with a truncation marker.
func (l *Log) Window(ctx context.Context, userID int64, limit int, beforeID int64) ([]models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	messages, err := l.store.RecentMessages(ctx, userID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	// Reverse newest-first into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	for i := range messages {
		messages[i].Text = truncate(messages[i].Text)
	}

	slog.Debug("Conversation window assembled", "userID", userID, "limit", limit, "count", len(messages))
	return messages, nil
}

// truncate cuts text at MaxEntryRunes runes and appends the marker.
func truncate(text string) string {
	if utf8.RuneCountInString(text) <= MaxEntryRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxEntryRunes]) + TruncationMarker
}
