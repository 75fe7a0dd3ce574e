package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/leadpipe/leadpipe/internal/models"
)

// Polling behavior constants.
const (
	// DefaultPollTimeout is the long-poll window passed to getUpdates.
	DefaultPollTimeout = 30 * time.Second
	// pollErrorBackoff is the pause after a failed poll before retrying.
	pollErrorBackoff = 2 * time.Second
	// typingAction is the chat action shown while a reply is generated.
	typingAction = "typing"
)

// Handler processes one inbound event and returns the outbound reply text.
// An empty reply means nothing should be sent.
type Handler interface {
	Handle(ctx context.Context, ev models.InboundEvent) string
}

// ServiceOpts holds configuration options for the transport service.
type ServiceOpts struct {
	PollTimeout time.Duration
}

// ServiceOption defines a configuration option for the transport service.
type ServiceOption func(*ServiceOpts)

// WithPollTimeout overrides the long-poll window.
func WithPollTimeout(d time.Duration) ServiceOption {
	return func(o *ServiceOpts) {
		o.PollTimeout = d
	}
}

// Service connects the Bot API client to the dispatcher: it converts updates
// into inbound events, invokes the handler, and sends replies back.
type Service struct {
	client      *Client
	handler     Handler
	pollTimeout time.Duration
}

// NewService creates a transport service around the given client and handler.
func NewService(client *Client, handler Handler, opts ...ServiceOption) *Service {
	cfg := ServiceOpts{PollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		client:      client,
		handler:     handler,
		pollTimeout: cfg.PollTimeout,
	}
}

// CheckToken verifies the bot token once at startup and logs the bot identity.
func (s *Service) CheckToken(ctx context.Context) error {
	me, err := s.client.GetMe(ctx)
	if err != nil {
		slog.Error("Telegram token check failed", "error", err)
		return fmt.Errorf("telegram token check: %w", err)
	}
	slog.Info("Telegram token valid", "username", me.Username, "bot_id", me.ID)
	return nil
}

// Start runs the long-polling loop until the context is canceled. Each
// update is dispatched in its own goroutine, so events for different users
// are processed concurrently; ordering across users is not guaranteed.
func (s *Service) Start(ctx context.Context) error {
	// A leftover webhook blocks getUpdates, so clear it first.
	if err := s.client.DeleteWebhook(ctx, true); err != nil {
		slog.Warn("Telegram deleteWebhook failed", "error", err)
	}

	slog.Info("Telegram polling loop starting", "poll_timeout", s.pollTimeout)
	var offset int64
	for {
		select {
		case <-ctx.Done():
			slog.Info("Telegram polling loop stopping", "reason", ctx.Err())
			return ctx.Err()
		default:
		}

		updates, next, err := s.client.GetUpdates(ctx, offset, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Telegram polling loop stopping", "reason", ctx.Err())
				return ctx.Err()
			}
			if IsPollTimeout(err) {
				continue
			}
			slog.Error("Telegram getUpdates failed", "error", err)
			time.Sleep(pollErrorBackoff)
			continue
		}
		offset = next

		for _, update := range updates {
			go s.handleUpdate(ctx, update)
		}
	}
}

// handleUpdate converts one update into an inbound event, dispatches it, and
// sends the reply. Failures are logged and never stop the polling loop.
func (s *Service) handleUpdate(ctx context.Context, update Update) {
	ev, ok := eventFromUpdate(update)
	if !ok {
		slog.Debug("Telegram update ignored", "update_id", update.UpdateID)
		return
	}

	// Show "typing…" while the reply is generated. Best effort, like the
	// rest of the chat action API.
	if !strings.HasPrefix(strings.TrimSpace(ev.Text), "/") {
		if err := s.client.SendChatAction(ctx, ev.ChatID, typingAction); err != nil {
			slog.Debug("Telegram sendChatAction failed", "error", err, "chat_id", ev.ChatID)
		}
	}

	replyText := s.handler.Handle(ctx, ev)
	if replyText == "" {
		return
	}

	if err := s.client.SendMessage(ctx, ev.ChatID, replyText); err != nil {
		slog.Error("Telegram sendMessage failed", "error", err, "chat_id", ev.ChatID, "event_id", ev.EventID)
	}
}

// WebhookPath returns the path webhook deliveries are mounted on. A token
// prefix keeps the path unguessable without exposing the full token in URLs.
func (s *Service) WebhookPath() string {
	return "/webhook/" + s.client.TokenPrefix()
}

// RegisterWebhook points Telegram at publicURL + WebhookPath().
func (s *Service) RegisterWebhook(ctx context.Context, publicURL string) error {
	full := strings.TrimRight(publicURL, "/") + s.WebhookPath()
	if err := s.client.SetWebhook(ctx, full); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	slog.Info("Telegram webhook registered", "url", full)
	return nil
}

// WebhookHandler returns the HTTP handler for webhook deliveries. Updates are
// dispatched asynchronously so Telegram gets its 200 immediately.
func (s *Service) WebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			slog.Error("Telegram webhook body read failed", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var update Update
		if err := json.Unmarshal(body, &update); err != nil {
			slog.Error("Telegram webhook decode failed", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		go s.handleUpdate(context.Background(), update)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// eventFromUpdate converts a Bot API update into the core's inbound event.
// Updates without a message, sender, or chat are not events; messages from
// bots are ignored. Absence of text is preserved — the dispatcher treats it
// as a no-op.
func eventFromUpdate(update Update) (models.InboundEvent, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return models.InboundEvent{}, false
	}
	if msg.From.IsBot {
		return models.InboundEvent{}, false
	}
	return models.InboundEvent{
		EventID:    strconv.FormatInt(update.UpdateID, 10),
		ChatID:     msg.Chat.ID,
		ExternalID: msg.From.ID,
		Username:   msg.From.Username,
		FirstName:  msg.From.FirstName,
		LastName:   msg.From.LastName,
		Text:       msg.Text,
	}, true
}
