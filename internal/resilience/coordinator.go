// Package resilience guards calls to external stages with per-attempt
// timeouts, bounded retries and a consecutive-failure circuit breaker.
package resilience

import (
	"strings"
	"sync"
	"time"
)

type Stage string

const (
	StageASR     Stage = "asr"
	StageAgent   Stage = "agent"
	StageTTS     Stage = "tts"
	StageTwoPass Stage = "twopass"
)

// Code is the upper-case prefix used in error codes, e.g. ASR_TIMEOUT.
func (s Stage) Code() string {
	return strings.ToUpper(string(s))
}

type StageOptions struct {
	Timeout    time.Duration
	RetryCount int
	// FailureThreshold consecutive failures open the circuit for Window.
	// Zero disables the breaker.
	FailureThreshold int
	Window           time.Duration
}

func DefaultOptions() map[Stage]StageOptions {
	base := StageOptions{Timeout: 3 * time.Second, FailureThreshold: 3, Window: 30 * time.Second}
	agent := base
	agent.RetryCount = 1
	return map[Stage]StageOptions{
		StageASR:     base,
		StageAgent:   agent,
		StageTTS:     base,
		StageTwoPass: base,
	}
}

type stageState struct {
	consecutiveFailures int
	openUntil           time.Time
}

// Coordinator holds the process-wide breaker state shared by all sessions.
type Coordinator struct {
	opts map[Stage]StageOptions
	now  func() time.Time

	mu     sync.Mutex
	states map[Stage]*stageState
}

type Option func(*Coordinator)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(opts map[Stage]StageOptions, options ...Option) *Coordinator {
	c := &Coordinator{
		opts:   opts,
		now:    time.Now,
		states: make(map[Stage]*stageState),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Options returns the stage's settings, or the defaults for unknown stages.
func (c *Coordinator) Options(stage Stage) StageOptions {
	if o, ok := c.opts[stage]; ok {
		return o
	}
	return StageOptions{Timeout: 3 * time.Second}
}

// IsOpen reports whether the stage is fast-failing and until when. An
// expired window is cleared as a side effect.
func (c *Coordinator) IsOpen(stage Stage) (bool, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[stage]
	if !ok || st.openUntil.IsZero() {
		return false, time.Time{}
	}
	if !st.openUntil.After(c.now()) {
		st.openUntil = time.Time{}
		return false, time.Time{}
	}
	return true, st.openUntil
}

func (c *Coordinator) MarkSuccess(stage Stage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(stage)
	st.consecutiveFailures = 0
	st.openUntil = time.Time{}
}

func (c *Coordinator) MarkFailure(stage Stage) {
	opts := c.Options(stage)

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.state(stage)
	st.consecutiveFailures++
	if opts.FailureThreshold > 0 && st.consecutiveFailures >= opts.FailureThreshold {
		st.openUntil = c.now().Add(max(time.Second, opts.Window))
		st.consecutiveFailures = 0
	}
}

// ConsecutiveFailures is exposed for diagnostics.
func (c *Coordinator) ConsecutiveFailures(stage Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[stage]; ok {
		return st.consecutiveFailures
	}
	return 0
}

// caller holds c.mu
func (c *Coordinator) state(stage Stage) *stageState {
	st, ok := c.states[stage]
	if !ok {
		st = &stageState{}
		c.states[stage] = st
	}
	return st
}
