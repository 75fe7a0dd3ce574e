// Package lead parses the lead command payload and persists captured
// contact intents.
package lead

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/store"
)

// ErrUsage indicates a malformed lead command payload. It is surfaced to the
// user as a usage hint, never logged as an error.
var ErrUsage = errors.New("lead command usage error")

// User-facing replies for the lead capture path.
const (
	// UsageReply is sent when the payload carries no contact.
	UsageReply = "Пришли контакт после команды:\n/lead <контакт> [примечание]"
	// ConfirmationReply is sent after a lead is persisted.
	ConfirmationReply = "Заявка принята ✅ Мы свяжемся по указанному контакту."
)

// phoneRunes are the characters a spaced phone number is composed of.
const phoneRunes = "+0123456789-()."

// Parse splits a lead command payload into contact and note.
//
// The contact is the first whitespace-delimited token, except that a leading
// run of phone-like tokens is kept together, so "+34 600 123 456 нужен расчет"
// yields contact "+34 600 123 456" and note "нужен расчет". An empty payload
// yields ErrUsage.
func Parse(payload string) (contact, note string, err error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return "", "", ErrUsage
	}

	split := 1
	if isPhoneToken(fields[0]) {
		for split < len(fields) && isPhoneToken(fields[split]) {
			split++
		}
	}
	contact = strings.Join(fields[:split], " ")
	note = strings.Join(fields[split:], " ")
	return contact, note, nil
}

// isPhoneToken reports whether the token consists only of phone characters.
func isPhoneToken(token string) bool {
	for _, r := range token {
		if !strings.ContainsRune(phoneRunes, r) {
			return false
		}
	}
	return len(token) > 0
}

// Capture persists parsed lead commands.
type Capture struct {
	store store.Store
}

// NewCapture creates a lead capture service backed by the given store.
func NewCapture(s store.Store) *Capture {
	return &Capture{store: s}
}

// Capture parses the command payload and persists the resulting lead.
// Returns ErrUsage for payloads without a contact token; storage failures
// propagate wrapped for the dispatcher to translate.
func (c *Capture) Capture(ctx context.Context, userID int64, payload string) (*models.Lead, error) {
	contact, note, err := Parse(payload)
	if err != nil {
		return nil, err
	}

	created, err := c.store.AddLead(ctx, models.Lead{UserID: userID, Contact: contact, Note: note})
	if err != nil {
		return nil, fmt.Errorf("persist lead: %w", err)
	}
	slog.Info("Lead captured", "userID", userID, "leadID", created.ID, "note_set", note != "")
	return created, nil
}
