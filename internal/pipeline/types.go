// Package pipeline holds the stage providers a session talks to: streaming
// recognition, offline recognition, reply generation and synthesis. Each
// stage has a closed set of variants selected by name at startup.
package pipeline

import "context"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one entry of the bounded conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Recognizer decodes a growing segment buffer. DecodePartial may be called
// many times per segment; DecodeFinal is called once with the whole segment.
type Recognizer interface {
	DecodePartial(ctx context.Context, sessionID string, samples []float32) (string, error)
	DecodeFinal(ctx context.Context, sessionID string, samples []float32) (string, error)
}

// OfflineRecognizer is the slower, more accurate single-shot decoder used for
// second-pass refinement.
type OfflineRecognizer interface {
	Recognize(ctx context.Context, samples []float32) (string, error)
}

type AgentRequest struct {
	SessionID    string
	SystemPrompt string
	// History is oldest first and normally ends with the current user turn.
	History  []Turn
	UserText string
}

type AgentEngine interface {
	Reply(ctx context.Context, req AgentRequest) (string, error)
}

type SynthesisRequest struct {
	SessionID  string
	Text       string
	SampleRate int
	ChunkMs    int
}

// Synthesizer streams PCM16 chunks. The chunk channel is closed when
// synthesis ends; the error channel then yields at most one error and is
// closed. Cancelling ctx stops production promptly.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (<-chan []byte, <-chan error)
}

// SessionCloser is implemented by providers holding per-session state.
type SessionCloser interface {
	CloseSession(sessionID string)
}

// conversation returns history with the user text appended unless the
// history already ends with it.
func conversation(req AgentRequest) []Turn {
	turns := make([]Turn, 0, len(req.History)+1)
	for _, t := range req.History {
		if t.Role == RoleUser || t.Role == RoleAssistant {
			turns = append(turns, t)
		}
	}
	if n := len(turns); n == 0 || turns[n-1].Role != RoleUser || turns[n-1].Text != req.UserText {
		turns = append(turns, Turn{Role: RoleUser, Text: req.UserText})
	}
	return turns
}
