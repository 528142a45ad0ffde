package endpointing

import "testing"

var (
	speechChunk  = make([]float32, 5120)
	silenceChunk = make([]float32, 5120)
)

type feeder struct {
	t      *testing.T
	engine *Engine
	state  *State
	buf    *Buffer
	now    int64
	chunk  int
}

func newFeeder(t *testing.T, cfg Config, chunkMs int) *feeder {
	return &feeder{t: t, engine: NewEngine(cfg), state: NewState(), buf: &Buffer{}, now: 1000, chunk: chunkMs}
}

func (f *feeder) feed(speech bool, rms float64) Decision {
	samples := silenceChunk[:f.chunk*16]
	if speech {
		samples = speechChunk[:f.chunk*16]
	}
	d := f.engine.Process(f.state, f.buf, samples, speech, f.chunk, f.now, rms)
	f.now += int64(f.chunk)
	return d
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.DynamicProfile = false
	return cfg
}

func TestFinalizesAfterSpeechThenSilence(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	for i := range 4 {
		if d := f.feed(true, 0.1); d.ShouldFinalize || !d.ShouldAppendAudio {
			t.Fatalf("speech chunk %d: unexpected decision %+v", i, d)
		}
	}

	var last Decision
	for range 3 {
		last = f.feed(false, 0)
	}
	if !last.ShouldFinalize {
		t.Fatal("expected finalize on third silence chunk")
	}
	if last.FinalReason != ReasonEndpointing {
		t.Fatalf("expected endpointing reason, got %q", last.FinalReason)
	}
	if len(last.Samples) != 7*5120 {
		t.Fatalf("expected 7 chunks of samples, got %d", len(last.Samples))
	}
	if last.SegmentDurationMs != 7*320 || last.SegmentStartMs != 1000 {
		t.Fatalf("unexpected timing: %+v", last)
	}
	if last.TrailingSilenceMs != 960 {
		t.Fatalf("expected trailing silence 960, got %d", last.TrailingSilenceMs)
	}
	if f.state.InSpeech || f.buf.Len() != 0 {
		t.Fatal("expected state and buffer to be reset")
	}
}

func TestShortUtteranceDoesNotFinalize(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	f.feed(true, 0.1)
	for i := range 5 {
		if d := f.feed(false, 0); d.ShouldFinalize {
			t.Fatalf("silence chunk %d finalized a segment below min length", i)
		}
	}
}

func TestFinalizesAtMaxSegment(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	var last Decision
	chunks := 0
	for range 100 {
		chunks++
		last = f.feed(true, 0.1)
		if last.ShouldFinalize {
			break
		}
	}
	if !last.ShouldFinalize || last.FinalReason != ReasonMaxSegment {
		t.Fatalf("expected max_segment finalize, got %+v", last)
	}
	// 47 x 320 = 15040 is the first total at or above 15000.
	if chunks != 47 {
		t.Fatalf("expected finalize after 47 chunks, got %d", chunks)
	}
}

func TestSilenceBeforeSpeechIsIgnored(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	d := f.feed(false, 0)
	if d.ShouldAppendAudio || d.ShouldFinalize || d.InSpeech {
		t.Fatalf("expected no-op decision, got %+v", d)
	}
	if f.buf.Len() != 0 {
		t.Fatal("non-speech chunk should not be buffered")
	}
}

func TestMergeBackCancelsPendingFinalize(t *testing.T) {
	f := newFeeder(t, quietConfig(), 100)
	for range 13 {
		f.feed(true, 0.1)
	}
	for range 3 {
		f.feed(false, 0)
	}
	if !f.state.PendingFinalize {
		t.Fatal("expected pending finalize after 300 ms of silence")
	}
	f.feed(true, 0.1)
	if f.state.PendingFinalize || f.state.PendingFinalizeMs != 0 {
		t.Fatal("expected merge-back to cancel the pending finalize")
	}

	finalizedAt := 0
	for i := 1; i <= 10; i++ {
		if d := f.feed(false, 0); d.ShouldFinalize {
			finalizedAt = i
			break
		}
	}
	if finalizedAt != 8 {
		t.Fatalf("expected finalize after 8 silence chunks, got %d", finalizedAt)
	}
}

func TestProfileSwitchesToNoisyAndBack(t *testing.T) {
	f := newFeeder(t, DefaultConfig(), 320)

	for range 4 {
		f.feed(false, 0.05)
	}
	if f.state.ActiveProfile != ProfileQuiet {
		t.Fatalf("expected quiet after 4 loud chunks, score=%v", f.state.NoiseScore)
	}
	if d := f.feed(false, 0.05); d.Profile != ProfileNoisy {
		t.Fatalf("expected noisy after 5 loud chunks, score=%v", f.state.NoiseScore)
	}

	if d := f.feed(false, 0); d.Profile != ProfileQuiet {
		t.Fatalf("expected quiet after a still chunk, score=%v", f.state.NoiseScore)
	}
}

func TestNoisyProfileExtendsEndSilence(t *testing.T) {
	f := newFeeder(t, DefaultConfig(), 320)
	for range 5 {
		f.feed(false, 0.05)
	}
	for range 4 {
		f.feed(true, 0.1)
	}

	var last Decision
	silenceChunks := 0
	for range 10 {
		silenceChunks++
		last = f.feed(false, 0.05)
		if last.ShouldFinalize {
			break
		}
	}
	if silenceChunks != 4 {
		t.Fatalf("expected finalize after 4 noisy silence chunks, got %d", silenceChunks)
	}
	if last.Profile != ProfileNoisy || last.FinalReason != ReasonEndpointing {
		t.Fatalf("unexpected decision %+v", last)
	}
	if f.state.ActiveProfile != ProfileNoisy || f.state.NoiseScore == 0 {
		t.Fatal("profile state should survive the segment reset")
	}
}

func TestDisabledProfileStaysQuiet(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	for range 20 {
		if d := f.feed(false, 0.5); d.Profile != ProfileQuiet {
			t.Fatal("expected quiet profile when dynamic profiling is off")
		}
	}
}

func TestStop(t *testing.T) {
	f := newFeeder(t, quietConfig(), 320)
	if _, ok := f.engine.Stop(f.state, f.buf, f.now); ok {
		t.Fatal("expected no segment from an empty buffer")
	}

	f.feed(true, 0.1)
	f.feed(true, 0.1)
	d, ok := f.engine.Stop(f.state, f.buf, f.now)
	if !ok || !d.ShouldFinalize || d.FinalReason != ReasonListenStop {
		t.Fatalf("unexpected stop decision %+v", d)
	}
	if len(d.Samples) != 2*5120 || d.SegmentDurationMs != 640 {
		t.Fatalf("unexpected stop payload: samples=%d duration=%d", len(d.Samples), d.SegmentDurationMs)
	}
	if f.state.InSpeech {
		t.Fatal("expected reset after stop")
	}
}
