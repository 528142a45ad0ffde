package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is matched by errors.Is on a circuit-open StageError.
var ErrCircuitOpen = errors.New("circuit open")

type Kind int

const (
	KindProvider Kind = iota
	KindTimeout
	KindCircuitOpen
)

// StageError is the single failure shape reported for a guarded stage.
type StageError struct {
	Stage     Stage
	Kind      Kind
	Attempts  int
	OpenUntil time.Time
	Err       error
}

func (e *StageError) Code() string {
	switch e.Kind {
	case KindTimeout:
		return e.Stage.Code() + "_TIMEOUT"
	case KindCircuitOpen:
		return e.Stage.Code() + "_CIRCUIT_OPEN"
	default:
		return e.Stage.Code() + "_PROVIDER_ERROR"
	}
}

func (e *StageError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("%s timed out after %d attempt(s)", e.Stage, e.Attempts)
	case KindCircuitOpen:
		return fmt.Sprintf("%s circuit open until %s", e.Stage, e.OpenUntil.UTC().Format(time.RFC3339))
	default:
		return fmt.Sprintf("%s provider error: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error {
	if e.Kind == KindCircuitOpen {
		return ErrCircuitOpen
	}
	return e.Err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The stage still fails normally.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
