// Package telegram provides the Telegram Bot API transport for LeadPipe.
//
// The Bot API is plain JSON over HTTPS, so the client is a thin wrapper
// around net/http rather than a third-party SDK.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Telegram Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// defaultHTTPTimeout bounds non-polling API calls.
const defaultHTTPTimeout = 60 * time.Second

// Update is one entry from getUpdates or a webhook delivery.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the subset of the Bot API message object the bot consumes.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date,omitempty"`
	Chat      *Chat  `json:"chat,omitempty"`
	From      *User  `json:"from,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Chat identifies where a message was sent.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// User is the Bot API user object.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type getUpdatesResponse struct {
	OK     bool     `json:"ok"`
	Result []Update `json:"result"`
}

type getMeResponse struct {
	OK     bool `json:"ok"`
	Result User `json:"result"`
}

type okResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

type sendMessageRequest struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type sendChatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type setWebhookRequest struct {
	URL                string `json:"url"`
	DropPendingUpdates bool   `json:"drop_pending_updates,omitempty"`
}

type deleteWebhookRequest struct {
	DropPendingUpdates bool `json:"drop_pending_updates,omitempty"`
}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithBaseURL overrides the Bot API base URL (for test servers).
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = url
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewClient creates a Telegram Bot API client. The token is required.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   cfg.Token,
	}, nil
}

// TokenPrefix returns the leading characters of the token used to build an
// unguessable webhook path.
func (c *Client) TokenPrefix() string {
	if len(c.token) <= 10 {
		return c.token
	}
	return c.token[:10]
}

// GetMe verifies the token and returns the bot's own user object.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	raw, err := c.get(ctx, "getMe", nil)
	if err != nil {
		return nil, err
	}
	var out getMeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram getMe: ok=false")
	}
	return &out.Result, nil
}

// GetUpdates long-polls for updates and returns them together with the next
// offset to acknowledge everything received.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}

	query := url.Values{}
	query.Set("timeout", fmt.Sprintf("%d", secs))
	if offset > 0 {
		query.Set("offset", fmt.Sprintf("%d", offset))
	}

	// The request deadline must outlast the server-side poll window.
	reqCtx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	raw, err := c.get(reqCtx, "getUpdates", query)
	if err != nil {
		return nil, offset, err
	}
	var out getUpdatesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, offset, err
	}
	if !out.OK {
		return nil, offset, fmt.Errorf("telegram getUpdates: ok=false")
	}

	next := offset
	for _, u := range out.Result {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return out.Result, next, nil
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.post(ctx, "sendMessage", sendMessageRequest{ChatID: chatID, Text: text})
}

// SendChatAction sends a chat action such as "typing". Best effort.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.post(ctx, "sendChatAction", sendChatActionRequest{ChatID: chatID, Action: action})
}

// SetWebhook registers the given URL for webhook delivery.
func (c *Client) SetWebhook(ctx context.Context, webhookURL string) error {
	return c.post(ctx, "setWebhook", setWebhookRequest{URL: webhookURL, DropPendingUpdates: true})
}

// DeleteWebhook removes any registered webhook so polling can take over.
func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.post(ctx, "deleteWebhook", deleteWebhookRequest{DropPendingUpdates: dropPending})
}

// IsPollTimeout reports whether err is an expected long-poll timeout rather
// than a real transport failure.
func IsPollTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "client.timeout exceeded")
}

// get performs a GET against a Bot API method and returns the raw body.
func (c *Client) get(ctx context.Context, method string, query url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// post performs a JSON POST against a Bot API method and checks the ok flag.
func (c *Client) post(ctx context.Context, method string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out okResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("telegram %s: %d %s", method, out.ErrorCode, out.Description)
	}
	return nil
}
