package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// SDKAgent runs a single-turn agent through the openai-agents-go runner and
// collects the streamed text deltas. Prior turns are folded into the
// instructions because the runner takes a single input string.
type SDKAgent struct {
	provider  agents.ModelProvider
	model     string
	maxTokens int
}

func NewSDKAgent(cfg OpenAIConfig) *SDKAgent {
	params := agents.OpenAIProviderParams{
		APIKey:       param.NewOpt(cfg.APIKey),
		UseResponses: param.NewOpt(false),
	}
	if cfg.BaseURL != "" {
		params.BaseURL = param.NewOpt(cfg.BaseURL)
	}
	return &SDKAgent{
		provider:  agents.NewOpenAIProvider(params),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

func (a *SDKAgent) Reply(ctx context.Context, req AgentRequest) (string, error) {
	settings := modelsettings.ModelSettings{}
	if a.maxTokens > 0 {
		settings.MaxTokens = param.NewOpt(int64(a.maxTokens))
	}
	agent := agents.New("voice-assistant").
		WithInstructions(agentInstructions(req)).
		WithModel(a.model).
		WithModelSettings(settings)

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   a.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, req.UserText)
	if err != nil {
		return "", fmt.Errorf("agent stream start: %w", err)
	}

	var text strings.Builder
	for ev := range events {
		collectDelta(ev, &text)
	}
	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("agent stream: %w", streamErr)
	}

	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func collectDelta(ev agents.StreamEvent, text *strings.Builder) {
	raw, ok := ev.(agents.RawResponsesStreamEvent)
	if !ok || raw.Data.Type != "response.output_text.delta" {
		return
	}
	text.WriteString(raw.Data.Delta)
}

// agentInstructions renders the system prompt followed by every turn before
// the current user message.
func agentInstructions(req AgentRequest) string {
	turns := conversation(req)
	turns = turns[:len(turns)-1]

	var b strings.Builder
	b.WriteString(req.SystemPrompt)
	if len(turns) == 0 {
		return b.String()
	}
	b.WriteString("\n\nConversation so far:\n")
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
