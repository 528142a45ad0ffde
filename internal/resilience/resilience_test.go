package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingObserver struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (o *recordingObserver) StageSucceeded(stage string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.successes = append(o.successes, stage)
}

func (o *recordingObserver) StageFailed(stage, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, code)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(opts map[Stage]StageOptions) (*Executor, *recordingObserver, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	coord := NewCoordinator(opts, WithClock(clock.Now))
	return NewExecutor(coord, obs, testLogger()), obs, clock
}

func TestCircuitOpensAndExpires(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCoordinator(DefaultOptions(), WithClock(clock.Now))

	c.MarkFailure(StageASR)
	c.MarkFailure(StageASR)
	if open, _ := c.IsOpen(StageASR); open {
		t.Fatal("circuit should stay closed below threshold")
	}

	c.MarkFailure(StageASR)
	open, until := c.IsOpen(StageASR)
	if !open {
		t.Fatal("expected circuit open after 3 failures")
	}
	if want := clock.Now().Add(30 * time.Second); !until.Equal(want) {
		t.Fatalf("expected reopen at %v, got %v", want, until)
	}
	if n := c.ConsecutiveFailures(StageASR); n != 0 {
		t.Fatalf("expected counter reset on open, got %d", n)
	}

	clock.Advance(30 * time.Second)
	if open, _ := c.IsOpen(StageASR); open {
		t.Fatal("expected circuit closed once the window elapsed")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	c.MarkFailure(StageTTS)
	c.MarkFailure(StageTTS)
	c.MarkSuccess(StageTTS)
	c.MarkFailure(StageTTS)
	if open, _ := c.IsOpen(StageTTS); open {
		t.Fatal("success should have reset the failure streak")
	}
	if n := c.ConsecutiveFailures(StageTTS); n != 1 {
		t.Fatalf("expected 1 failure, got %d", n)
	}
}

func TestWindowHasOneSecondFloor(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	c := NewCoordinator(map[Stage]StageOptions{
		StageASR: {Timeout: time.Second, FailureThreshold: 1},
	}, WithClock(clock.Now))
	c.MarkFailure(StageASR)
	_, until := c.IsOpen(StageASR)
	if want := clock.Now().Add(time.Second); !until.Equal(want) {
		t.Fatalf("expected 1s window, got %v", until.Sub(clock.Now()))
	}
}

func TestZeroThresholdNeverOpens(t *testing.T) {
	c := NewCoordinator(map[Stage]StageOptions{StageASR: {Timeout: time.Second}})
	for range 10 {
		c.MarkFailure(StageASR)
	}
	if open, _ := c.IsOpen(StageASR); open {
		t.Fatal("breaker disabled by zero threshold")
	}
}

func TestRunSuccess(t *testing.T) {
	ex, obs, _ := newTestExecutor(DefaultOptions())
	res := Run(context.Background(), ex, StageASR, func(context.Context) (string, error) {
		return "hello", nil
	})
	if !res.OK() || res.Value != "hello" || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(obs.successes) != 1 || obs.successes[0] != "asr" {
		t.Fatalf("expected one success, got %v", obs.successes)
	}
}

func TestRunRetriesSilently(t *testing.T) {
	ex, obs, _ := newTestExecutor(DefaultOptions())
	calls := 0
	res := Run(context.Background(), ex, StageAgent, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if !res.OK() || res.Attempts != 2 {
		t.Fatalf("expected success on retry, got %+v", res)
	}
	if len(obs.failures) != 0 {
		t.Fatalf("retried attempt must not be reported, got %v", obs.failures)
	}
	if n := ex.Coordinator().ConsecutiveFailures(StageAgent); n != 0 {
		t.Fatalf("expected no recorded failures, got %d", n)
	}
}

func TestRunProviderError(t *testing.T) {
	ex, obs, _ := newTestExecutor(DefaultOptions())
	boom := errors.New("boom")
	res := Run(context.Background(), ex, StageAgent, func(context.Context) (string, error) {
		return "", boom
	})
	if res.OK() || res.Err == nil {
		t.Fatal("expected failure")
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", res.Attempts)
	}
	if res.Err.Code() != "AGENT_PROVIDER_ERROR" {
		t.Fatalf("unexpected code %q", res.Err.Code())
	}
	if !errors.Is(res.Err, boom) {
		t.Fatal("expected provider error to unwrap to the cause")
	}
	if len(obs.failures) != 1 || obs.failures[0] != "AGENT_PROVIDER_ERROR" {
		t.Fatalf("expected one reported failure, got %v", obs.failures)
	}
}

func TestRunTimeout(t *testing.T) {
	ex, _, _ := newTestExecutor(map[Stage]StageOptions{
		StageTTS: {Timeout: 20 * time.Millisecond, FailureThreshold: 3, Window: time.Minute},
	})
	res := Run(context.Background(), ex, StageTTS, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if res.Err == nil || res.Err.Code() != "TTS_TIMEOUT" {
		t.Fatalf("expected TTS_TIMEOUT, got %+v", res.Err)
	}
}

func TestRunCircuitOpenFastFails(t *testing.T) {
	ex, obs, _ := newTestExecutor(DefaultOptions())
	fail := func(context.Context) (string, error) { return "", errors.New("down") }
	for range 3 {
		Run(context.Background(), ex, StageASR, fail)
	}

	called := false
	res := Run(context.Background(), ex, StageASR, func(context.Context) (string, error) {
		called = true
		return "", nil
	})
	if called {
		t.Fatal("open circuit must not attempt the call")
	}
	if res.Err == nil || res.Err.Code() != "ASR_CIRCUIT_OPEN" {
		t.Fatalf("expected ASR_CIRCUIT_OPEN, got %+v", res.Err)
	}
	if !errors.Is(res.Err, ErrCircuitOpen) {
		t.Fatal("expected errors.Is(ErrCircuitOpen)")
	}
	if res.Err.OpenUntil.IsZero() {
		t.Fatal("expected reopen time")
	}
	if len(obs.failures) != 3 {
		t.Fatalf("fast-fail should not be counted as a stage failure, got %d", len(obs.failures))
	}
}

func TestRunCircuitRecoversAfterWindow(t *testing.T) {
	ex, _, clock := newTestExecutor(DefaultOptions())
	fail := func(context.Context) (string, error) { return "", errors.New("down") }
	for range 3 {
		Run(context.Background(), ex, StageASR, fail)
	}
	clock.Advance(31 * time.Second)

	res := Run(context.Background(), ex, StageASR, func(context.Context) (string, error) {
		return "back", nil
	})
	if !res.OK() {
		t.Fatalf("expected success after window, got %+v", res.Err)
	}
}

func TestRunPermanentStopsRetrying(t *testing.T) {
	ex, _, _ := newTestExecutor(DefaultOptions())
	calls := 0
	res := Run(context.Background(), ex, StageAgent, func(context.Context) (string, error) {
		calls++
		return "", Permanent(errors.New("partial output already sent"))
	})
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if res.Err == nil || res.Err.Code() != "AGENT_PROVIDER_ERROR" {
		t.Fatalf("unexpected result %+v", res.Err)
	}
}

func TestRunParentCanceled(t *testing.T) {
	ex, obs, _ := newTestExecutor(DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())

	res := Run(ctx, ex, StageTTS, func(ctx context.Context) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !res.Canceled || res.Err != nil {
		t.Fatalf("expected canceled result, got %+v", res)
	}
	if len(obs.failures) != 0 || ex.Coordinator().ConsecutiveFailures(StageTTS) != 0 {
		t.Fatal("cancellation must not be recorded as a failure")
	}

	res = Run(ctx, ex, StageTTS, func(context.Context) (string, error) {
		t.Fatal("should not be called with a done context")
		return "", nil
	})
	if !res.Canceled {
		t.Fatal("expected canceled result for an already-done context")
	}
}

func TestStageCode(t *testing.T) {
	if StageTwoPass.Code() != "TWOPASS" || StageASR.Code() != "ASR" {
		t.Fatal("unexpected stage codes")
	}
}
