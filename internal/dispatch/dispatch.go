// Package dispatch sequences the per-event message handling pipeline:
// identity resolution, message logging, the guardrail check, lead capture,
// and reply orchestration.
//
// The dispatcher is the error boundary of the core. Every handled event
// yields exactly one outbound reply (or a documented no-op for events
// without text); no storage failure, provider failure, or panic crosses
// this boundary un-translated.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/leadpipe/leadpipe/internal/conversation"
	"github.com/leadpipe/leadpipe/internal/guardrail"
	"github.com/leadpipe/leadpipe/internal/identity"
	"github.com/leadpipe/leadpipe/internal/lead"
	"github.com/leadpipe/leadpipe/internal/models"
	"github.com/leadpipe/leadpipe/internal/reply"
)

// User-facing fixed replies for the dispatch paths.
const (
	// GreetingReply answers the start command.
	GreetingReply = "Привет! Я Алина 🤖 Помогу с автоматизацией продаж. Чем могу быть полезна?"
	// HandoffConfirmedReply is the guardrail's terminal reply to an affirmative.
	HandoffConfirmedReply = "Отлично, передаю вас менеджеру 🤝 Мы свяжемся с вами в ближайшее время."
	// TechnicalErrorReply is the single fixed reply for any internal failure.
	TechnicalErrorReply = "Произошла техническая ошибка 😥 Попробуйте, пожалуйста, ещё раз чуть позже."
)

// Recognized commands.
const (
	StartCommand = "/start"
	LeadCommand  = "/lead"
)

// DefaultWindowSize is the number of history messages given to the orchestrator.
const DefaultWindowSize = 10

// Generator produces the reply text for a free-text message. Implemented by
// reply.Orchestrator; narrowed to an interface so dispatcher tests can count
// invocations.
type Generator interface {
	Generate(ctx context.Context, req reply.Request) string
}

// Opts holds configuration options for the dispatcher.
type Opts struct {
	WindowSize int
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithWindowSize overrides the history window size.
func WithWindowSize(n int) Option {
	return func(o *Opts) {
		o.WindowSize = n
	}
}

// Dispatcher is the single entry point invoked once per inbound event.
type Dispatcher struct {
	resolver   *identity.Resolver
	log        *conversation.Log
	leads      *lead.Capture
	generator  Generator
	windowSize int
}

// NewDispatcher wires the pipeline components together.
func NewDispatcher(resolver *identity.Resolver, log *conversation.Log, leads *lead.Capture, generator Generator, opts ...Option) *Dispatcher {
	cfg := Opts{WindowSize: DefaultWindowSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		resolver:   resolver,
		log:        log,
		leads:      leads,
		generator:  generator,
		windowSize: cfg.WindowSize,
	}
}

// classifyEvent maps raw event text onto the closed set of event kinds.
// For lead commands the returned payload is the text after the command token.
func classifyEvent(text string) (models.EventKind, string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.EventKindNone, ""
	}

	command := trimmed
	payload := ""
	if idx := strings.IndexFunc(trimmed, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }); idx >= 0 {
		command = trimmed[:idx]
		payload = strings.TrimSpace(trimmed[idx:])
	}
	// Commands may carry a bot mention suffix, e.g. "/start@alina_bot".
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}

	switch command {
	case StartCommand:
		return models.EventKindStart, ""
	case LeadCommand:
		return models.EventKindLead, payload
	default:
		return models.EventKindText, ""
	}
}

// Handle processes one inbound event and returns the outbound reply text.
// An empty return means no reply should be sent (non-text events).
func (d *Dispatcher) Handle(ctx context.Context, ev models.InboundEvent) (replyText string) {
	requestID := ev.EventID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// One bad event must not crash the dispatch loop.
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher recovered from panic", "request_id", requestID, "panic", r, "externalID", ev.ExternalID)
			replyText = TechnicalErrorReply
		}
	}()

	kind, payload := classifyEvent(ev.Text)
	slog.Debug("Dispatcher handling event", "request_id", requestID, "kind", kind.String(), "externalID", ev.ExternalID)

	switch kind {
	case models.EventKindNone:
		return ""
	case models.EventKindStart:
		return d.handleStart(ctx, requestID, ev)
	case models.EventKindLead:
		return d.handleLead(ctx, requestID, ev, payload)
	default:
		return d.handleText(ctx, requestID, ev)
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, requestID string, ev models.InboundEvent) string {
	if _, err := d.resolver.EnsureUser(ctx, ev); err != nil {
		slog.Error("Dispatcher start failed", "request_id", requestID, "error", err, "externalID", ev.ExternalID)
		return TechnicalErrorReply
	}
	return GreetingReply
}

func (d *Dispatcher) handleLead(ctx context.Context, requestID string, ev models.InboundEvent, payload string) string {
	user, err := d.resolver.EnsureUser(ctx, ev)
	if err != nil {
		slog.Error("Dispatcher lead identity failed", "request_id", requestID, "error", err, "externalID", ev.ExternalID)
		return TechnicalErrorReply
	}

	if _, err := d.leads.Capture(ctx, user.ID, payload); err != nil {
		if errors.Is(err, lead.ErrUsage) {
			// Expected input variance, not an operator-facing error.
			slog.Debug("Dispatcher lead usage hint", "request_id", requestID, "externalID", ev.ExternalID)
			return lead.UsageReply
		}
		slog.Error("Dispatcher lead capture failed", "request_id", requestID, "error", err, "externalID", ev.ExternalID)
		return TechnicalErrorReply
	}
	return lead.ConfirmationReply
}

func (d *Dispatcher) handleText(ctx context.Context, requestID string, ev models.InboundEvent) string {
	user, err := d.resolver.EnsureUser(ctx, ev)
	if err != nil {
		slog.Error("Dispatcher text identity failed", "request_id", requestID, "error", err, "externalID", ev.ExternalID)
		return TechnicalErrorReply
	}

	// The append must commit before the window is fetched; the returned id
	// is the exclusive bound that keeps the current message out of its own
	// history window.
	msgID, err := d.log.Append(ctx, user.ID, ev.Text)
	if err != nil {
		slog.Error("Dispatcher append failed", "request_id", requestID, "error", err, "userID", user.ID)
		return TechnicalErrorReply
	}

	if signal := guardrail.Classify(ev.Text); signal == guardrail.Affirmative {
		slog.Info("Dispatcher guardrail short-circuit", "request_id", requestID, "signal", signal.String(), "userID", user.ID)
		return HandoffConfirmedReply
	}

	history, err := d.log.Window(ctx, user.ID, d.windowSize, msgID)
	if err != nil {
		slog.Error("Dispatcher window fetch failed", "request_id", requestID, "error", err, "userID", user.ID)
		return TechnicalErrorReply
	}

	return d.generator.Generate(ctx, reply.Request{
		RequestID: requestID,
		Text:      ev.Text,
		Username:  ev.Username,
		History:   history,
	})
}
