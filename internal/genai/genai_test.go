package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   *openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

func testMessages() []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("system prompt"),
		openai.UserMessage("user prompt"),
	}
}

func TestGenerateWithMessages_Success(t *testing.T) {
	mockResp := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Hello World \n"}},
		},
	}
	mock := &mockChatService{resp: mockResp}
	client := &Client{chat: mock, model: DefaultModel, temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}

	out, err := client.GenerateWithMessages(context.Background(), testMessages())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected trimmed 'Hello World', got '%s'", out)
	}
	if len(mock.params.Messages) != 2 {
		t.Errorf("expected 2 messages passed through, got %d", len(mock.params.Messages))
	}
}

func TestGenerateWithMessages_ServiceError(t *testing.T) {
	client := &Client{chat: &mockChatService{err: errors.New("service failure")}, model: DefaultModel}
	_, err := client.GenerateWithMessages(context.Background(), testMessages())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGenerateWithMessages_NoChoices(t *testing.T) {
	client := &Client{chat: &mockChatService{resp: &openai.ChatCompletion{}}, model: DefaultModel}
	_, err := client.GenerateWithMessages(context.Background(), testMessages())
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if err == nil {
		t.Error("expected error when API key not provided, got nil")
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli == nil {
		t.Fatal("expected client instance, got nil")
	}
	if cli.Model() != string(DefaultModel) {
		t.Errorf("expected default model, got %s", cli.Model())
	}
}

func TestNewClient_ModelOverride(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cli.Model() != "gpt-4o" {
		t.Errorf("expected overridden model, got %s", cli.Model())
	}
}
