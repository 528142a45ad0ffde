package trace

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	maxIOLen     = 500
	queueSize    = 64
	writeTimeout = 5 * time.Second
)

type traceMsg struct {
	kind string // "session_create", "session_end", "run_create", "run_update", "span"
	at   time.Time
	// run fields
	run        Run
	durationMs float64
	transcript string
	response   string
	status     string
	// span fields
	span Span
}

// Tracer writes trace data for one session asynchronously. Writes never
// block the caller; when the queue is full the record is dropped.
// All methods are nil-safe (no-op on nil receiver).
type Tracer struct {
	store     *Store
	sessionID string
	logger    *slog.Logger
	ch        chan traceMsg
	done      chan struct{}
}

// NewTracer records the session start and returns a tracer bound to it, or
// nil when store is nil. Must call Close when done.
func NewTracer(store *Store, sessionID, metadata string, logger *slog.Logger) *Tracer {
	if store == nil {
		return nil
	}
	t := &Tracer{
		store:     store,
		sessionID: sessionID,
		logger:    logger,
		ch:        make(chan traceMsg, queueSize),
		done:      make(chan struct{}),
	}
	go t.drain()
	t.enqueue(traceMsg{kind: "session_create", at: time.Now(), transcript: metadata})
	return t
}

func (t *Tracer) drain() {
	defer close(t.done)
	for msg := range t.ch {
		t.handle(msg)
	}
}

func (t *Tracer) handle(m traceMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	handlers := map[string]func() error{
		"session_create": func() error { return t.store.CreateSession(ctx, t.sessionID, m.transcript, m.at) },
		"session_end":    func() error { return t.store.EndSession(ctx, t.sessionID, m.at) },
		"run_create":     func() error { return t.store.CreateRun(ctx, m.run) },
		"run_update": func() error {
			return t.store.UpdateRun(ctx, m.run.ID, m.durationMs, m.transcript, m.response, m.status)
		},
		"span": func() error { return t.store.CreateSpan(ctx, m.span) },
	}
	fn, ok := handlers[m.kind]
	if !ok {
		return
	}
	if err := fn(); err != nil {
		t.logger.Warn("trace write failed", "session_id", t.sessionID, "kind", m.kind, "error", err)
	}
}

func (t *Tracer) enqueue(m traceMsg) {
	select {
	case t.ch <- m:
	default:
		t.logger.Warn("trace queue full, dropping record", "session_id", t.sessionID, "kind", m.kind)
	}
}

// StartRun begins a run for a finalized segment and returns its id.
func (t *Tracer) StartRun(segmentID, finalReason string) string {
	if t == nil {
		return ""
	}
	id := uuid.NewString()
	t.enqueue(traceMsg{kind: "run_create", run: Run{
		ID:          id,
		SessionID:   t.sessionID,
		SegmentID:   segmentID,
		FinalReason: finalReason,
		StartedAt:   time.Now(),
	}})
	return id
}

// EndRun finalizes a run.
func (t *Tracer) EndRun(runID string, duration time.Duration, transcript, response, status string) {
	if t == nil || runID == "" {
		return
	}
	t.enqueue(traceMsg{
		kind:       "run_update",
		run:        Run{ID: runID},
		durationMs: float64(duration.Microseconds()) / 1000,
		transcript: truncate(transcript, maxIOLen),
		response:   truncate(response, maxIOLen),
		status:     status,
	})
}

// RecordSpan records a completed stage. ID is assigned here.
func (t *Tracer) RecordSpan(runID string, sp Span) {
	if t == nil || runID == "" {
		return
	}
	sp.ID = uuid.NewString()
	sp.RunID = runID
	sp.Input = truncate(sp.Input, maxIOLen)
	sp.Output = truncate(sp.Output, maxIOLen)
	if sp.Attempts == 0 {
		sp.Attempts = 1
	}
	t.enqueue(traceMsg{kind: "span", span: sp})
}

// Close records the session end, drains pending writes and stops the
// background goroutine.
func (t *Tracer) Close() {
	if t == nil {
		return
	}
	t.enqueue(traceMsg{kind: "session_end", at: time.Now()})
	close(t.ch)
	<-t.done
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
