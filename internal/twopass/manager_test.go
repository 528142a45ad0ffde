package twopass

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
)

type fakeDecoder struct {
	mu       sync.Mutex
	lengths  []int
	fn       func(samples []float32) (string, error)
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (d *fakeDecoder) Recognize(ctx context.Context, samples []float32) (string, error) {
	n := d.inflight.Add(1)
	defer d.inflight.Add(-1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	d.mu.Lock()
	d.lengths = append(d.lengths, len(samples))
	d.mu.Unlock()
	return d.fn(samples)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func segment(id, text string, ms int) Segment {
	return Segment{ID: id, Text: text, Samples: make([]float32, ms*16), DurationMs: ms}
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name     string
		baseline string
		revised  string
		fallback string
		want     string
	}{
		{"blank revision", "abc", "  ", "one", "one"},
		{"baseline prefix", "Good morning", "Good morning how are you?", "how are you", "how are you?"},
		{"baseline only", "Good morning", "Good morning ", "how are you", "how are you"},
		{"lcp tail", "", "Hello world", "hello world", "Hello world"},
		{"lcp against baseline plus fallback", "Good morning", "Good mourning how are you", "how are you", "urning how are you"},
		{"revision inside fallback yields whole text", "", "cd", "cde", "cd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reconcile(tt.baseline, tt.revised, tt.fallback); got != tt.want {
				t.Fatalf("Reconcile(%q, %q, %q) = %q, want %q", tt.baseline, tt.revised, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestRefineUsesPreviousRevision(t *testing.T) {
	revisions := []string{"Good morning", "Good morning how are you?"}
	calls := 0
	dec := &fakeDecoder{fn: func([]float32) (string, error) {
		r := revisions[calls]
		calls++
		return r, nil
	}}
	m := NewManager(enabledConfig(), dec, nil, discardLogger())

	if got := m.Refine(context.Background(), "s1", segment("seg-1", "good morning", 1000)); got != "Good morning" {
		t.Fatalf("first refine: got %q", got)
	}
	if got := m.Refine(context.Background(), "s1", segment("seg-2", "how are you", 1000)); got != "how are you?" {
		t.Fatalf("second refine: got %q", got)
	}
	if dec.lengths[1] != 32000 {
		t.Fatalf("expected both segments decoded together, got %d samples", dec.lengths[1])
	}
}

func TestRefineTrimsByCount(t *testing.T) {
	cfg := enabledConfig()
	cfg.WindowSegments = 2
	var last string
	dec := &fakeDecoder{fn: func([]float32) (string, error) { return last, nil }}
	m := NewManager(cfg, dec, nil, discardLogger())

	last = "A"
	m.Refine(context.Background(), "s1", segment("seg-1", "a", 1000))
	last = "AB"
	m.Refine(context.Background(), "s1", segment("seg-2", "b", 1000))
	last = "ABC"
	got := m.Refine(context.Background(), "s1", segment("seg-3", "c", 1000))

	if dec.lengths[2] != 32000 {
		t.Fatalf("expected window of 2 segments, got %d samples", dec.lengths[2])
	}
	// frozen "A" plus the windowed "B" form the baseline.
	if got != "C" {
		t.Fatalf("expected %q, got %q", "C", got)
	}
}

func TestRefineTrimsByDuration(t *testing.T) {
	cfg := enabledConfig()
	cfg.WindowSeconds = 1
	dec := &fakeDecoder{fn: func([]float32) (string, error) { return "x", nil }}
	m := NewManager(cfg, dec, nil, discardLogger())

	m.Refine(context.Background(), "s1", segment("seg-1", "a", 800))
	m.Refine(context.Background(), "s1", segment("seg-2", "b", 800))
	if dec.lengths[1] != 800*16 {
		t.Fatalf("expected only the newest segment, got %d samples", dec.lengths[1])
	}
}

func TestRefineKeepsOversizedSingleSegment(t *testing.T) {
	cfg := enabledConfig()
	cfg.WindowSeconds = 1
	dec := &fakeDecoder{fn: func([]float32) (string, error) { return "Long one", nil }}
	m := NewManager(cfg, dec, nil, discardLogger())

	if got := m.Refine(context.Background(), "s1", segment("seg-1", "long one", 5000)); got != "Long one" {
		t.Fatalf("got %q", got)
	}
	if dec.lengths[0] != 5000*16 {
		t.Fatal("newest segment must never be evicted")
	}
}

func TestRefineFallsBackOnError(t *testing.T) {
	dec := &fakeDecoder{fn: func([]float32) (string, error) { return "", errors.New("backend down") }}
	m := NewManager(enabledConfig(), dec, nil, discardLogger())
	if got := m.Refine(context.Background(), "s1", segment("seg-1", "keep me", 1000)); got != "keep me" {
		t.Fatalf("expected first-pass text, got %q", got)
	}
}

func TestRefineFallsBackOnTimeout(t *testing.T) {
	coord := resilience.NewCoordinator(map[resilience.Stage]resilience.StageOptions{
		resilience.StageTwoPass: {Timeout: 10 * time.Millisecond, FailureThreshold: 3, Window: time.Minute},
	})
	ex := resilience.NewExecutor(coord, nil, discardLogger())
	dec := &fakeDecoder{delay: time.Second, fn: func([]float32) (string, error) { return "late", nil }}
	m := NewManager(enabledConfig(), dec, ex, discardLogger())

	if got := m.Refine(context.Background(), "s1", segment("seg-1", "keep me", 1000)); got != "keep me" {
		t.Fatalf("expected first-pass text, got %q", got)
	}
	if coord.ConsecutiveFailures(resilience.StageTwoPass) != 1 {
		t.Fatal("expected timeout to be recorded against the twopass stage")
	}
}

func TestRefineSerializesDecodes(t *testing.T) {
	dec := &fakeDecoder{delay: 20 * time.Millisecond, fn: func([]float32) (string, error) { return "ok", nil }}
	m := NewManager(enabledConfig(), dec, nil, discardLogger())

	var wg sync.WaitGroup
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sid := []string{"a", "b", "c", "d"}[i]
			m.Refine(context.Background(), sid, segment("seg-1", "hi", 1000))
		}()
	}
	wg.Wait()

	if p := dec.peak.Load(); p != 1 {
		t.Fatalf("expected at most one decode in flight, saw %d", p)
	}
	if m.Sessions() != 4 {
		t.Fatalf("expected 4 windows, got %d", m.Sessions())
	}
	m.Reset("a")
	if m.Sessions() != 3 {
		t.Fatal("expected Reset to discard the window")
	}
}

func TestEligible(t *testing.T) {
	dec := &fakeDecoder{fn: func([]float32) (string, error) { return "", nil }}

	m := NewManager(DefaultConfig(), dec, nil, discardLogger())
	if m.Eligible(5000, "text") {
		t.Fatal("disabled manager must not be eligible")
	}

	m = NewManager(enabledConfig(), dec, nil, discardLogger())
	if !m.Eligible(800, "text") {
		t.Fatal("expected segment at the minimum length to be eligible")
	}
	if m.Eligible(799, "text") || m.Eligible(5000, "  ") {
		t.Fatal("short or blank segments are not eligible")
	}
}
