package trace

import "time"

// Session is one websocket connection.
type Session struct {
	ID        string     `json:"id"`
	Metadata  string     `json:"metadata"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	RunCount  int        `json:"run_count,omitempty"`
}

// Run is one finalized segment taken through recognition, reply and synthesis.
type Run struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	SegmentID   string    `json:"segment_id"`
	FinalReason string    `json:"final_reason"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  float64   `json:"duration_ms,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
	Response    string    `json:"response,omitempty"`
	Status      string    `json:"status"`
	SpanCount   int       `json:"span_count,omitempty"`
}

// Span is one stage execution inside a run.
type Span struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Attempts   int       `json:"attempts"`
	Input      string    `json:"input,omitempty"`
	Output     string    `json:"output,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Run and span statuses.
const (
	StatusRunning     = "running"
	StatusOK          = "ok"
	StatusError       = "error"
	StatusInterrupted = "interrupted"
	StatusEmpty       = "empty"
)
