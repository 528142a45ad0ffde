// Package protocol defines the websocket wire messages exchanged with clients.
package protocol

const (
	TypeSTT       = "stt"
	TypeAgent     = "agent"
	TypeTTS       = "tts"
	TypeInterrupt = "interrupt"
	TypeListen    = "listen"

	StatePartial  = "partial"
	StateFinal    = "final"
	StateError    = "error"
	StateResponse = "response"
	StateStart    = "start"
	StateChunk    = "chunk"
	StateStop     = "stop"
)

// Error codes that are not tied to a pipeline stage.
const (
	CodeDecodeFail         = "DECODE_FAIL"
	CodeUnsupportedMessage = "UNSUPPORTED_MESSAGE"
	CodeInternalError      = "INTERNAL_ERROR"
)

// Error stages that are not pipeline stages.
const (
	StageDecode    = "decode"
	StageTransport = "transport"
	StageSession   = "session"
)

// Message is any outbound JSON message.
type Message interface {
	Kind() (msgType, state string)
}

// Transcript is stt/partial or stt/final.
type Transcript struct {
	Type        string `json:"type"`
	State       string `json:"state"`
	Text        string `json:"text"`
	SegmentID   string `json:"segmentId"`
	SessionID   string `json:"sessionId"`
	StartMs     int64  `json:"startMs"`
	EndMs       int64  `json:"endMs"`
	TraceID     string `json:"traceId"`
	LatencyMs   int64  `json:"latencyMs"`
	FinalReason string `json:"finalReason,omitempty"`
}

func (m Transcript) Kind() (string, string) { return m.Type, m.State }

type ErrorBody struct {
	Stage  string `json:"stage"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Error is stt/error, used for every error regardless of stage.
type Error struct {
	Type      string    `json:"type"`
	State     string    `json:"state"`
	SessionID string    `json:"sessionId"`
	TraceID   string    `json:"traceId"`
	Error     ErrorBody `json:"error"`
}

func (m Error) Kind() (string, string) { return m.Type, m.State }

type AgentResponse struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
}

func (m AgentResponse) Kind() (string, string) { return m.Type, m.State }

// Synthesis is tts/start, tts/chunk or tts/stop. A chunk message follows the
// binary frame carrying its audio.
type Synthesis struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	SessionID  string `json:"sessionId"`
	SegmentID  string `json:"segmentId"`
	SampleRate int    `json:"sampleRate"`
	Sequence   int    `json:"sequence"`
	TraceID    string `json:"traceId"`
}

func (m Synthesis) Kind() (string, string) { return m.Type, m.State }

type Interrupt struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	SessionID string `json:"sessionId"`
	SegmentID string `json:"segmentId"`
	Reason    string `json:"reason"`
	AtMs      int64  `json:"atMs"`
	TraceID   string `json:"traceId"`
}

func (m Interrupt) Kind() (string, string) { return m.Type, m.State }

func NewError(sessionID, traceID, stage, code, detail string) Error {
	return Error{
		Type:      TypeSTT,
		State:     StateError,
		SessionID: sessionID,
		TraceID:   traceID,
		Error:     ErrorBody{Stage: stage, Code: code, Detail: detail},
	}
}

func NewSynthesis(state, sessionID, segmentID, traceID string, sampleRate, sequence int) Synthesis {
	return Synthesis{
		Type:       TypeTTS,
		State:      state,
		SessionID:  sessionID,
		SegmentID:  segmentID,
		SampleRate: sampleRate,
		Sequence:   sequence,
		TraceID:    traceID,
	}
}
