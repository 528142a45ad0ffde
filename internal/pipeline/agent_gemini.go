package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// GeminiAgent answers through the Gemini API. The client is created on first
// use so startup does not need network access or credentials.
type GeminiAgent struct {
	cfg GeminiConfig

	once    sync.Once
	client  *genai.Client
	initErr error
}

func NewGeminiAgent(cfg GeminiConfig) *GeminiAgent {
	return &GeminiAgent{cfg: cfg}
}

func (a *GeminiAgent) Reply(ctx context.Context, req AgentRequest) (string, error) {
	client, err := a.getClient(ctx)
	if err != nil {
		return "", err
	}

	genCfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if a.cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(a.cfg.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, a.cfg.Model, geminiContents(req), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}

func (a *GeminiAgent) getClient(ctx context.Context) (*genai.Client, error) {
	a.once.Do(func() {
		a.client, a.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  a.cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if a.initErr != nil {
			a.initErr = fmt.Errorf("create gemini client: %w", a.initErr)
		}
	})
	return a.client, a.initErr
}

func geminiContents(req AgentRequest) []*genai.Content {
	turns := conversation(req)
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}
