package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer receives the externally visible outcome of each guarded call.
type Observer interface {
	StageSucceeded(stage string, latency time.Duration)
	StageFailed(stage string, code string)
}

type nopObserver struct{}

func (nopObserver) StageSucceeded(string, time.Duration) {}
func (nopObserver) StageFailed(string, string)           {}

// Executor runs stage calls against a shared Coordinator.
type Executor struct {
	coord    *Coordinator
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewExecutor(coord *Coordinator, observer Observer, logger *slog.Logger) *Executor {
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		coord:    coord,
		observer: observer,
		logger:   logger,
		tracer:   otel.Tracer("github.com/hubenschmidt/voice-session-gateway/internal/resilience"),
	}
}

func (ex *Executor) Coordinator() *Coordinator { return ex.coord }

// Result is the outcome of Run. Exactly one of Value (with Err == nil and
// Canceled false), Err, or Canceled is meaningful.
type Result[T any] struct {
	Value    T
	Latency  time.Duration
	Attempts int
	Err      *StageError
	// Canceled is set when the caller's context ended. Nothing is recorded
	// against the stage in that case.
	Canceled bool
}

func (r Result[T]) OK() bool { return r.Err == nil && !r.Canceled }

// Run executes fn under the stage's timeout and retry policy.
func Run[T any](ctx context.Context, ex *Executor, stage Stage, fn func(context.Context) (T, error)) Result[T] {
	var res Result[T]
	if ctx.Err() != nil {
		res.Canceled = true
		return res
	}

	if open, until := ex.coord.IsOpen(stage); open {
		res.Err = &StageError{Stage: stage, Kind: KindCircuitOpen, OpenUntil: until}
		return res
	}

	ctx, span := ex.tracer.Start(ctx, "stage."+string(stage),
		trace.WithAttributes(attribute.String("voice.stage", string(stage))))
	defer span.End()

	opts := ex.coord.Options(stage)
	start := time.Now()

	var lastErr error
	timedOut := false
	for attempt := 1; attempt <= opts.RetryCount+1; attempt++ {
		res.Attempts = attempt

		value, deadline, err := runAttempt(ctx, opts.Timeout, fn)
		if err == nil {
			res.Value = value
			res.Latency = time.Since(start)
			ex.coord.MarkSuccess(stage)
			ex.observer.StageSucceeded(string(stage), res.Latency)
			span.SetAttributes(attribute.Int("voice.attempts", attempt))
			return res
		}

		if ctx.Err() != nil {
			res.Canceled = true
			span.SetStatus(codes.Unset, "canceled")
			return res
		}

		lastErr, timedOut = err, deadline
		if IsPermanent(err) {
			break
		}
	}

	res.Latency = time.Since(start)
	kind := KindProvider
	if timedOut {
		kind = KindTimeout
	}
	res.Err = &StageError{Stage: stage, Kind: kind, Attempts: res.Attempts, Err: lastErr}

	ex.coord.MarkFailure(stage)
	ex.observer.StageFailed(string(stage), res.Err.Code())
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, res.Err.Code())
	ex.logger.Warn("stage failed",
		"stage", string(stage),
		"code", res.Err.Code(),
		"attempts", res.Attempts,
		"error", lastErr,
	)
	return res
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, bool, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	value, err := fn(actx)
	if err == nil {
		return value, false, nil
	}
	deadline := errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	return value, deadline, err
}
