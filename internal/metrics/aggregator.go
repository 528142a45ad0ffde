package metrics

import (
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// LatencyWindow is how many recent successful latencies each stage keeps.
const LatencyWindow = 500

type stageStats struct {
	success   int64
	failure   int64
	latencies []float64
}

// Aggregator keeps the in-process counters served at /metrics and fed to the
// alert evaluator. Every update is mirrored into the Prometheus collectors.
type Aggregator struct {
	mu             sync.Mutex
	sessionsOpened int64
	sessionsClosed int64
	partials       int64
	finals         int64
	interrupts     int64
	errors         int64
	errorsByCode   map[string]int64
	stages         map[string]*stageStats
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		errorsByCode: make(map[string]int64),
		stages:       make(map[string]*stageStats),
	}
}

type StageSnapshot struct {
	Stage        string  `json:"stage"`
	Success      int64   `json:"success"`
	Failure      int64   `json:"failure"`
	ErrorRatePct float64 `json:"errorRatePct"`
	AvgLatencyMs float64 `json:"avgLatencyMs"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
	Samples      int     `json:"samples"`
}

func (s StageSnapshot) Total() int64 { return s.Success + s.Failure }

type Snapshot struct {
	SessionsOpened int64            `json:"sessionsOpened"`
	SessionsClosed int64            `json:"sessionsClosed"`
	ActiveSessions int64            `json:"activeSessions"`
	PartialCount   int64            `json:"partialCount"`
	FinalCount     int64            `json:"finalCount"`
	InterruptCount int64            `json:"interruptCount"`
	ErrorCount     int64            `json:"errorCount"`
	ErrorsByCode   map[string]int64 `json:"errorsByCode"`
	Stages         []StageSnapshot  `json:"stages"`
}

func (a *Aggregator) SessionOpened() {
	a.mu.Lock()
	a.sessionsOpened++
	a.mu.Unlock()
	SessionsActive.Inc()
	SessionsTotal.Inc()
}

func (a *Aggregator) SessionClosed() {
	a.mu.Lock()
	a.sessionsClosed++
	a.mu.Unlock()
	SessionsActive.Dec()
}

func (a *Aggregator) Partial() {
	a.mu.Lock()
	a.partials++
	a.mu.Unlock()
}

func (a *Aggregator) Final() {
	a.mu.Lock()
	a.finals++
	a.mu.Unlock()
}

func (a *Aggregator) Interrupt(reason string) {
	a.mu.Lock()
	a.interrupts++
	a.mu.Unlock()
	Interrupts.WithLabelValues(reason).Inc()
}

// Error counts an error event sent to a client.
func (a *Aggregator) Error(stage, code string) {
	a.mu.Lock()
	a.errors++
	a.errorsByCode[code]++
	a.mu.Unlock()
	StageErrors.WithLabelValues(stage, code).Inc()
}

// StageSucceeded implements resilience.Observer.
func (a *Aggregator) StageSucceeded(stage string, latency time.Duration) {
	ms := float64(latency) / float64(time.Millisecond)

	a.mu.Lock()
	st := a.stage(stage)
	st.success++
	st.latencies = append(st.latencies, ms)
	if over := len(st.latencies) - LatencyWindow; over > 0 {
		st.latencies = slices.Delete(st.latencies, 0, over)
	}
	a.mu.Unlock()

	StageDuration.WithLabelValues(stage).Observe(latency.Seconds())
}

// StageFailed implements resilience.Observer.
func (a *Aggregator) StageFailed(stage, code string) {
	a.mu.Lock()
	a.stage(stage).failure++
	a.mu.Unlock()
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		SessionsOpened: a.sessionsOpened,
		SessionsClosed: a.sessionsClosed,
		ActiveSessions: a.sessionsOpened - a.sessionsClosed,
		PartialCount:   a.partials,
		FinalCount:     a.finals,
		InterruptCount: a.interrupts,
		ErrorCount:     a.errors,
		ErrorsByCode:   make(map[string]int64, len(a.errorsByCode)),
		Stages:         make([]StageSnapshot, 0, len(a.stages)),
	}
	for code, n := range a.errorsByCode {
		snap.ErrorsByCode[code] = n
	}
	for name, st := range a.stages {
		snap.Stages = append(snap.Stages, st.snapshot(name))
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	return snap
}

// caller holds a.mu
func (a *Aggregator) stage(name string) *stageStats {
	st, ok := a.stages[name]
	if !ok {
		st = &stageStats{}
		a.stages[name] = st
	}
	return st
}

func (st *stageStats) snapshot(name string) StageSnapshot {
	s := StageSnapshot{
		Stage:   name,
		Success: st.success,
		Failure: st.failure,
		Samples: len(st.latencies),
	}
	if total := st.success + st.failure; total > 0 {
		s.ErrorRatePct = round2(float64(st.failure) * 100 / float64(total))
	}
	if len(st.latencies) > 0 {
		var sum float64
		for _, v := range st.latencies {
			sum += v
		}
		s.AvgLatencyMs = round2(sum / float64(len(st.latencies)))
		s.P95LatencyMs = round2(Percentile(st.latencies, 95))
	}
	return s
}

// Percentile is the nearest-rank percentile of values; values is not modified.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
