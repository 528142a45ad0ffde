package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestPercentileNearestRank(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		values = append(values, float64(i))
	}
	if got := Percentile(values, 95); got != 95 {
		t.Fatalf("expected 95, got %v", got)
	}
	if values[0] != 100 {
		t.Fatal("input must not be reordered")
	}
	if got := Percentile([]float64{7}, 95); got != 7 {
		t.Fatalf("expected single value, got %v", got)
	}
	if got := Percentile(nil, 95); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}

func TestAggregatorSnapshot(t *testing.T) {
	a := NewAggregator()
	a.SessionOpened()
	a.SessionOpened()
	a.SessionClosed()
	a.Partial()
	a.Partial()
	a.Final()
	a.Interrupt("user_speech")
	a.Error("asr", "ASR_TIMEOUT")

	a.StageSucceeded("asr", 100*time.Millisecond)
	a.StageSucceeded("asr", 300*time.Millisecond)
	a.StageSucceeded("asr", 200*time.Millisecond)
	a.StageFailed("asr", "ASR_TIMEOUT")
	a.StageSucceeded("agent", 50*time.Millisecond)

	snap := a.Snapshot()
	if snap.SessionsOpened != 2 || snap.SessionsClosed != 1 || snap.ActiveSessions != 1 {
		t.Fatalf("unexpected session counts %+v", snap)
	}
	if snap.PartialCount != 2 || snap.FinalCount != 1 || snap.InterruptCount != 1 || snap.ErrorCount != 1 {
		t.Fatalf("unexpected event counts %+v", snap)
	}
	if snap.ErrorsByCode["ASR_TIMEOUT"] != 1 {
		t.Fatalf("expected ASR_TIMEOUT count, got %v", snap.ErrorsByCode)
	}
	if len(snap.Stages) != 2 || snap.Stages[0].Stage != "agent" || snap.Stages[1].Stage != "asr" {
		t.Fatalf("expected sorted stages, got %+v", snap.Stages)
	}

	asr := snap.Stages[1]
	if asr.Success != 3 || asr.Failure != 1 || asr.ErrorRatePct != 25 {
		t.Fatalf("unexpected asr counts %+v", asr)
	}
	if asr.AvgLatencyMs != 200 || asr.P95LatencyMs != 300 || asr.Samples != 3 {
		t.Fatalf("unexpected asr latency %+v", asr)
	}
}

func TestAggregatorBoundsLatencyWindow(t *testing.T) {
	a := NewAggregator()
	for i := range LatencyWindow + 100 {
		a.StageSucceeded("tts", time.Duration(i)*time.Millisecond)
	}
	st := a.Snapshot().Stages[0]
	if st.Samples != LatencyWindow {
		t.Fatalf("expected %d samples, got %d", LatencyWindow, st.Samples)
	}
	if st.Success != LatencyWindow+100 {
		t.Fatalf("success count must not be bounded, got %d", st.Success)
	}
	// the oldest 100 observations were dropped
	if st.AvgLatencyMs != 349.5 {
		t.Fatalf("expected avg over 100..599, got %v", st.AvgLatencyMs)
	}
}

func TestAggregatorConcurrentUpdates(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				a.Partial()
				a.StageSucceeded("asr", time.Millisecond)
			}
		}()
	}
	wg.Wait()

	snap := a.Snapshot()
	if snap.PartialCount != 1000 || snap.Stages[0].Success != 1000 {
		t.Fatalf("lost updates: %+v", snap)
	}
}
