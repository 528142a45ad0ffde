// Package session holds the per-connection state owned by one session loop.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/voice-session-gateway/internal/bargein"
	"github.com/hubenschmidt/voice-session-gateway/internal/endpointing"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
)

// TranscriptState tracks what was last shown to the client for the open segment.
type TranscriptState struct {
	LastPartial         string
	LastPartialSentAtMs int64
}

func (t *TranscriptState) Reset() {
	t.LastPartial = ""
	t.LastPartialSentAtMs = 0
}

// Session is not safe for concurrent use except for Synthesis, which
// coordinates with the background synthesis task itself.
type Session struct {
	ID        string
	StartedAt time.Time

	Endpointing *endpointing.State
	Buffer      *endpointing.Buffer
	Transcript  TranscriptState
	// SegmentID is the open segment, or "" between segments.
	SegmentID string

	Synthesis *bargein.Coordinator

	history    []pipeline.Turn
	maxHistory int
	seq        int
}

// New creates a session keeping up to 2×maxHistoryTurns history entries.
func New(maxHistoryTurns int) *Session {
	return &Session{
		ID:          uuid.NewString(),
		StartedAt:   time.Now(),
		Endpointing: endpointing.NewState(),
		Buffer:      &endpointing.Buffer{},
		Synthesis:   bargein.New(),
		maxHistory:  2 * max(0, maxHistoryTurns),
	}
}

// NextSegmentID opens a new segment and returns its id.
func (s *Session) NextSegmentID() string {
	s.seq++
	s.SegmentID = fmt.Sprintf("seg-%d", s.seq)
	return s.SegmentID
}

// ElapsedMs is the session clock used for segment timing.
func (s *Session) ElapsedMs() int64 {
	return time.Since(s.StartedAt).Milliseconds()
}

func (s *Session) AddUserTurn(text string) {
	s.addTurn(pipeline.RoleUser, text)
}

func (s *Session) AddAssistantTurn(text string) {
	s.addTurn(pipeline.RoleAssistant, text)
}

func (s *Session) addTurn(role, text string) {
	s.history = append(s.history, pipeline.Turn{Role: role, Text: text})
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		s.history = append(s.history[:0:0], s.history[len(s.history)-s.maxHistory:]...)
	}
}

// HistoryWindow returns a copy of the last n turns, oldest first.
func (s *Session) HistoryWindow(n int) []pipeline.Turn {
	if n <= 0 || len(s.history) == 0 {
		return nil
	}
	start := max(0, len(s.history)-n)
	out := make([]pipeline.Turn, len(s.history)-start)
	copy(out, s.history[start:])
	return out
}

// EndSegment clears everything tied to the segment that just finalized.
func (s *Session) EndSegment() {
	s.SegmentID = ""
	s.Transcript.Reset()
	s.Endpointing.Reset()
	s.Buffer.Drain()
}
