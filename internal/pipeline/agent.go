package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// ErrEmptyReply is returned when a provider answers with no text.
var ErrEmptyReply = errors.New("agent returned an empty reply")

// MockAgent echoes the user text.
type MockAgent struct{}

func (MockAgent) Reply(_ context.Context, req AgentRequest) (string, error) {
	return "Got it: " + strings.TrimSpace(req.UserText), nil
}

// OpenAIConfig configures the chat-completions engine. BaseURL may point at
// any OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIAgent answers through the chat completions endpoint.
type OpenAIAgent struct {
	client openai.Client
	cfg    OpenAIConfig
}

func NewOpenAIAgent(cfg OpenAIConfig) *OpenAIAgent {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIAgent{client: openai.NewClient(opts...), cfg: cfg}
}

func (a *OpenAIAgent) Reply(ctx context.Context, req AgentRequest) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.cfg.Model),
		Messages: chatMessages(req),
	}
	if a.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(a.cfg.MaxTokens))
	}
	if a.cfg.Temperature > 0 {
		params.Temperature = openai.Float(a.cfg.Temperature)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func chatMessages(req AgentRequest) []openai.ChatCompletionMessageParamUnion {
	turns := conversation(req)
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	for _, t := range turns {
		if t.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(t.Text))
			continue
		}
		msgs = append(msgs, openai.UserMessage(t.Text))
	}
	return msgs
}
