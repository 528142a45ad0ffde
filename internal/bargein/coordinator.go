// Package bargein tracks the single synthesis task a session may have in
// flight and cancels it when the user starts speaking again.
package bargein

import (
	"context"
	"sync"
)

type Reason string

const (
	ReasonUserSpeech   Reason = "user_speech"
	ReasonSessionClose Reason = "session_close"
)

type task struct {
	segmentID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	mu     sync.Mutex
	active *task
}

func New() *Coordinator {
	return &Coordinator{}
}

// Start stops any previous task, waits for it to return, then runs fn on a
// new goroutine with a context derived from parent.
func (c *Coordinator) Start(parent context.Context, segmentID string, fn func(ctx context.Context)) {
	c.Interrupt()

	ctx, cancel := context.WithCancel(parent)
	t := &task{segmentID: segmentID, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	c.active = t
	c.mu.Unlock()

	go func() {
		defer close(t.done)
		defer cancel()
		fn(ctx)
	}()
}

// Interrupt cancels the running task and blocks until it has returned. ok is
// false when nothing was running, in which case no interrupt should be reported.
func (c *Coordinator) Interrupt() (segmentID string, ok bool) {
	c.mu.Lock()
	t := c.active
	c.active = nil
	c.mu.Unlock()

	if t == nil || t.finished() {
		return "", false
	}
	t.cancel()
	<-t.done
	return t.segmentID, true
}

// Active returns the segment id of the running task, or "".
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.finished() {
		return ""
	}
	return c.active.segmentID
}

// Wait blocks until the current task, if any, returns on its own.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t != nil {
		<-t.done
	}
}
