// Package reply assembles completion prompts from conversational state and
// manages the resilient call to the completion provider.
//
// The orchestrator never propagates provider errors: every invocation yields
// some reply text, falling back to a fixed degradation message after the
// retry budget is exhausted, or to a deterministic echo when no provider is
// configured at all.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"

	"github.com/leadpipe/leadpipe/internal/models"
)

// SystemPrompt is the fixed system instruction for the sales assistant persona.
const SystemPrompt = `Ты — Алина, нейро-продавец. Отвечай дружелюбно и по делу.
Цель: быстро квалифицировать запрос и предложить следующий шаг.
Всегда уточняй: задачу, сроки, бюджет и контакт. Предлагай оставить контакт через /lead <контакт> [комментарий].`

// FallbackReply is returned after the retry budget is exhausted. It restates
// what the assistant needs and offers the lead command, so a provider outage
// degrades the conversation instead of breaking it.
const FallbackReply = "Сервис ИИ временно недоступен. Опишите, пожалуйста, задачу, сроки и бюджет — я всё записала. Оставить контакт можно командой /lead <контакт> [комментарий]."

// RetryPolicy bounds the provider call: attempts, delay between them, and a
// per-attempt timeout. Exceeding the timeout counts as a transient failure.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
}

// DefaultRetryPolicy returns the production policy: one retry after a short
// delay, 30 seconds per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Delay:       2 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// Provider is the completion service the orchestrator delegates to.
type Provider interface {
	GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error)
	Model() string
}

// Request carries one generation request through the orchestrator.
type Request struct {
	// RequestID correlates log records for one inbound event.
	RequestID string
	// Text is the current inbound message.
	Text string
	// Username is the optional display handle used to prefix turns.
	Username string
	// History is the bounded conversation window, oldest first.
	History []models.Message
}

// Opts holds configuration options for the orchestrator.
type Opts struct {
	Policy       RetryPolicy
	SystemPrompt string
}

// Option defines a configuration option for the orchestrator.
type Option func(*Opts)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *Opts) {
		o.Policy = p
	}
}

// WithSystemPrompt overrides the fixed system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) {
		o.SystemPrompt = prompt
	}
}

// Orchestrator builds prompts and calls the provider under the retry policy.
// A nil provider selects the degraded deterministic mode.
type Orchestrator struct {
	provider     Provider
	policy       RetryPolicy
	systemPrompt string
	sleep        func(time.Duration)
}

// NewOrchestrator creates an orchestrator for the given provider. Passing a
// nil provider is valid and selects the degraded echo mode.
func NewOrchestrator(provider Provider, opts ...Option) *Orchestrator {
	cfg := Opts{Policy: DefaultRetryPolicy(), SystemPrompt: SystemPrompt}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Orchestrator{
		provider:     provider,
		policy:       cfg.Policy,
		systemPrompt: cfg.SystemPrompt,
		sleep:        time.Sleep,
	}
}

// Generate produces the reply text for the request. It always returns a
// usable reply; provider failures never escape this boundary.
func (o *Orchestrator) Generate(ctx context.Context, req Request) string {
	if o.provider == nil {
		slog.Debug("ReplyOrchestrator degraded mode, echoing input", "request_id", req.RequestID)
		return fmt.Sprintf("Принял: «%s»", req.Text)
	}

	slog.Info("ReplyOrchestrator generating reply",
		"request_id", req.RequestID,
		"model", o.provider.Model(),
		"history_len", len(req.History))

	messages := o.buildMessages(req)

	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, o.policy.Timeout)
		text, err := o.provider.GenerateWithMessages(attemptCtx, messages)
		cancel()
		if err == nil {
			return text
		}

		slog.Warn("ReplyOrchestrator provider attempt failed",
			"request_id", req.RequestID, "attempt", attempt, "error", err)
		if attempt < o.policy.MaxAttempts {
			o.sleep(o.policy.Delay)
		}
	}

	slog.Error("ReplyOrchestrator provider exhausted retries, using fallback",
		"request_id", req.RequestID, "attempts", o.policy.MaxAttempts)
	return FallbackReply
}

// buildMessages assembles the ordered prompt: the system instruction, each
// history entry as a prior user turn, then the current input last.
func (o *Orchestrator) buildMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(o.systemPrompt))
	for _, m := range req.History {
		messages = append(messages, openai.UserMessage(prefixTurn(req.Username, m.Text)))
	}
	messages = append(messages, openai.UserMessage(prefixTurn(req.Username, req.Text)))
	return messages
}

// prefixTurn prepends the display handle when one is known.
func prefixTurn(username, text string) string {
	if username == "" {
		return text
	}
	return fmt.Sprintf("Пользователь @%s: %s", username, text)
}
