// Package twopass re-decodes a sliding window of finalized segments with a
// slower offline recognizer and folds the revision back into the newest
// segment's text.
package twopass

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
)

// Decoder is the offline recognizer used for the second pass.
type Decoder interface {
	Recognize(ctx context.Context, samples []float32) (string, error)
}

type Config struct {
	Enabled        bool
	WindowSegments int
	WindowSeconds  int
	PrefixLock     bool
	MinSegmentMs   int
}

func DefaultConfig() Config {
	return Config{
		WindowSegments: 3,
		WindowSeconds:  12,
		PrefixLock:     true,
		MinSegmentMs:   800,
	}
}

// Segment is one finalized utterance with its first-pass text.
type Segment struct {
	ID         string
	Text       string
	Samples    []float32
	DurationMs int
}

type window struct {
	mu           sync.Mutex
	items        []Segment
	frozenPrefix string
}

type Manager struct {
	cfg     Config
	decoder Decoder
	exec    *resilience.Executor
	logger  *slog.Logger

	// slot admits one offline decode at a time across all sessions.
	slot chan struct{}

	mu       sync.Mutex
	sessions map[string]*window
}

// NewManager builds a manager. exec may be nil, in which case decodes run
// without timeout or breaker protection.
func NewManager(cfg Config, decoder Decoder, exec *resilience.Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		decoder:  decoder,
		exec:     exec,
		logger:   logger,
		slot:     make(chan struct{}, 1),
		sessions: make(map[string]*window),
	}
}

// Eligible reports whether a finalized segment should go through Refine.
func (m *Manager) Eligible(durationMs int, text string) bool {
	return m.cfg.Enabled && m.decoder != nil && durationMs >= m.cfg.MinSegmentMs && strings.TrimSpace(text) != ""
}

// Refine appends seg to the session window and returns the revised text for
// it. Any failure yields seg.Text unchanged.
func (m *Manager) Refine(ctx context.Context, sessionID string, seg Segment) string {
	if strings.TrimSpace(seg.Text) == "" || m.decoder == nil {
		return seg.Text
	}

	w := m.window(sessionID)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, seg)
	m.trim(w)

	merged := concat(w.items)
	offline, err := m.decode(ctx, merged)
	if err != nil {
		m.logger.Warn("two-pass refinement failed, keeping first pass",
			"session_id", sessionID,
			"segment_id", seg.ID,
			"error", err,
		)
		return seg.Text
	}
	if strings.TrimSpace(offline) == "" {
		return seg.Text
	}

	var baseline strings.Builder
	baseline.WriteString(w.frozenPrefix)
	for _, it := range w.items[:len(w.items)-1] {
		baseline.WriteString(it.Text)
	}

	revised := Reconcile(baseline.String(), offline, seg.Text)
	if strings.TrimSpace(revised) == "" {
		return seg.Text
	}
	w.items[len(w.items)-1].Text = revised
	return revised
}

// Reset discards the session's window.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// Sessions returns the number of live windows.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) window(sessionID string) *window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.sessions[sessionID]
	if !ok {
		w = &window{}
		m.sessions[sessionID] = w
	}
	return w
}

func (m *Manager) trim(w *window) {
	maxItems := max(1, m.cfg.WindowSegments)
	maxMs := max(1000, m.cfg.WindowSeconds*1000)

	for len(w.items) > maxItems {
		m.evict(w)
	}

	total := 0
	for _, it := range w.items {
		total += it.DurationMs
	}
	for len(w.items) > 1 && total > maxMs {
		total -= w.items[0].DurationMs
		m.evict(w)
	}
}

func (m *Manager) evict(w *window) {
	head := w.items[0]
	w.items = w.items[1:]
	if m.cfg.PrefixLock {
		w.frozenPrefix += head.Text
	}
}

func (m *Manager) decode(ctx context.Context, samples []float32) (string, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-m.slot }()

	if m.exec == nil {
		return m.decoder.Recognize(ctx, samples)
	}
	res := resilience.Run(ctx, m.exec, resilience.StageTwoPass, func(ctx context.Context) (string, error) {
		return m.decoder.Recognize(ctx, samples)
	})
	if res.Canceled {
		return "", ctx.Err()
	}
	if res.Err != nil {
		return "", fmt.Errorf("offline decode: %w", res.Err)
	}
	return res.Value, nil
}

func concat(items []Segment) []float32 {
	n := 0
	for _, it := range items {
		n += len(it.Samples)
	}
	out := make([]float32, 0, n)
	for _, it := range items {
		out = append(out, it.Samples...)
	}
	return out
}

// Reconcile extracts the newest segment's text from a whole-window revision.
// baseline is the text already attributed to earlier segments and fallback is
// the newest segment's first-pass text.
func Reconcile(baseline, revised, fallback string) string {
	if strings.TrimSpace(revised) == "" {
		return fallback
	}
	if baseline != "" && strings.HasPrefix(revised, baseline) {
		return orFallback(strings.TrimSpace(revised[len(baseline):]), fallback)
	}

	rev := []rune(revised)
	common := commonPrefix([]rune(baseline+fallback), rev)
	suffix := rev
	if len(rev) > common {
		suffix = rev[common:]
	}
	return orFallback(strings.TrimSpace(string(suffix)), fallback)
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
