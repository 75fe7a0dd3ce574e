// Package genai provides the OpenAI-backed completion client for LeadPipe.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Generation parameter defaults. Low temperature keeps qualification replies
// close to deterministic; the token cap bounds reply length.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.4
	DefaultMaxTokens   = 350
)

// ErrNoChoicesReturned indicates the completion API returned an empty choice list.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// WithBaseURL overrides the API base URL (for proxies and test servers).
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) {
		o.Temperature = t
	}
}

// WithMaxTokens overrides the output token cap.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) {
		o.MaxTokens = n
	}
}

// Client wraps the OpenAI chat completion service for generating replies.
type Client struct {
	chat        chatService
	model       openai.ChatModel
	temperature float64
	maxTokens   int64
}

// NewClient initializes a new GenAI client. The API key comes from options or
// the OPENAI_API_KEY environment variable; without one the constructor fails
// and the caller is expected to run in degraded mode instead.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	model := DefaultModel
	if cfg.Model != "" {
		model = openai.ChatModel(cfg.Model)
	}

	requestOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(cfg.BaseURL))
	}

	cli := openai.NewClient(requestOpts...)
	slog.Debug("GenAI client initialized", "model", model, "base_url_set", cfg.BaseURL != "")
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Model returns the configured completion model identifier.
func (c *Client) Model() string {
	return string(c.model)
}

// GenerateWithMessages generates a reply from a full ordered message list.
func (c *Client) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(c.maxTokens),
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
