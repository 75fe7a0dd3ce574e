// Package models defines core data structures used across LeadPipe modules.
package models

import "time"

// User is the durable identity anchor for a conversational participant.
// A User is created lazily on first contact and never mutated afterwards;
// handle or name drift on the transport side is not reconciled.
type User struct {
	ID         int64     `json:"id"`
	ExternalID int64     `json:"external_id"`
	Username   string    `json:"username,omitempty"`
	FirstName  string    `json:"first_name,omitempty"`
	LastName   string    `json:"last_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is one append-only entry in a user's conversational log.
type Message struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Lead is a captured contact intent, created only via the lead command.
type Lead struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Contact   string    `json:"contact"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InboundEvent is one validated inbound message event delivered by the
// transport. EventID is a transport-scoped identifier used for request
// correlation in logs; ChatID is where the reply goes.
type InboundEvent struct {
	EventID    string `json:"event_id"`
	ChatID     int64  `json:"chat_id"`
	ExternalID int64  `json:"external_id"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Text       string `json:"text"`
}

// API status values used in JSON responses.
const (
	APIStatusOK    = "ok"
	APIStatusError = "error"
)

// APIResponse is the envelope for every JSON response from the HTTP surface.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// EventKind is the closed set of inbound event shapes the dispatcher routes on.
type EventKind int

const (
	// EventKindNone marks events without usable text; handling them is a no-op.
	EventKindNone EventKind = iota
	// EventKindStart is the start command (greeting, identity resolution).
	EventKindStart
	// EventKindLead is the lead capture command with its argument payload.
	EventKindLead
	// EventKindText is a free-text message that goes through the full pipeline.
	EventKindText
)

// String returns a log-friendly name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventKindStart:
		return "start"
	case EventKindLead:
		return "lead"
	case EventKindText:
		return "text"
	default:
		return "none"
	}
}
