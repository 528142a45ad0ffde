package prompts

import "strings"

const (
	DefaultSystem   = "You are a concise helpful assistant for voice conversation."
	DefaultFallback = "Sorry, I could not answer that just now. Could you say it again?"
)

// ForSession resolves the system prompt sent with every reply request.
func ForSession(systemPrompt string) string {
	if s := strings.TrimSpace(systemPrompt); s != "" {
		return s
	}
	return DefaultSystem
}

// Fallback resolves the text spoken when reply generation fails.
func Fallback(text string) string {
	if s := strings.TrimSpace(text); s != "" {
		return s
	}
	return DefaultFallback
}
