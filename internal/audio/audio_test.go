package audio

import (
	"errors"
	"math"
	"testing"
)

func sine(n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/16000))
	}
	return out
}

func TestDecodePCM16(t *testing.T) {
	samples, err := DecodePCM16([]byte{0x00, 0x40, 0x00, 0xC0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0] != 0.5 || samples[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", samples)
	}
}

func TestDecodePCM16RejectsBadLength(t *testing.T) {
	for _, payload := range [][]byte{nil, {0x01}, {0x01, 0x02, 0x03}} {
		if _, err := DecodePCM16(payload); !errors.Is(err, ErrDecode) {
			t.Fatalf("payload %v: expected ErrDecode, got %v", payload, err)
		}
	}
}

func TestEncodeDecodeClamps(t *testing.T) {
	got, err := DecodePCM16(EncodePCM16([]float32{2, -2, 0}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[0] < 0.999 || got[1] > -0.999 || got[2] != 0 {
		t.Fatalf("unexpected round trip: %v", got)
	}
}

func TestPreprocessRemovesOffset(t *testing.T) {
	in := make([]float32, 320)
	for i := range in {
		in[i] = 0.5
	}
	f := Preprocess(in)
	if f.RMS > 1e-6 || f.Peak > 1e-6 {
		t.Fatalf("expected DC to be removed, got rms=%v peak=%v", f.RMS, f.Peak)
	}
	if in[0] != 0.5 {
		t.Fatal("input was modified")
	}
}

func TestPreprocessClipping(t *testing.T) {
	f := Preprocess([]float32{0.95, -0.95, 0.95, -0.95})
	if !f.Clipping || f.Peak != 1 {
		t.Fatalf("expected clipping at full scale, got %+v", f)
	}
	if Acceptable(f) {
		t.Fatal("clipped frame should be rejected")
	}
}

func TestClassifyAndQuality(t *testing.T) {
	speech := Preprocess(sine(5120, 0.2))
	if Classify(speech) != Speech || !Acceptable(speech) {
		t.Fatalf("expected acceptable speech, rms=%v", speech.RMS)
	}

	quiet := Preprocess(make([]float32, 5120))
	if Classify(quiet) != NonSpeech || Acceptable(quiet) {
		t.Fatal("expected silence to be non-speech and rejected")
	}

	tiny := Preprocess(sine(100, 0.2))
	if Acceptable(tiny) {
		t.Fatal("expected tiny frame to be rejected")
	}
}

func TestVADFixedThreshold(t *testing.T) {
	v := NewVAD(DefaultVADConfig())
	if !v.IsSpeech(sine(320, 0.2)) {
		t.Fatal("expected speech")
	}
	if v.IsSpeech(sine(320, 0.001)) {
		t.Fatal("expected silence")
	}
	if v.IsSpeech(nil) {
		t.Fatal("empty chunk must not be speech")
	}
}

func TestVADAdaptiveKeepsHalfThresholdFloor(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.Adaptive = true
	v := NewVAD(cfg)
	if v.IsSpeech(sine(320, 0.001)) {
		t.Fatal("expected near-silence to be rejected")
	}
	if !v.IsSpeech(sine(320, 0.2)) {
		t.Fatal("expected loud chunk to be speech")
	}
}

func TestDurationMs(t *testing.T) {
	if got := DurationMs(5120, 16000); got != 320 {
		t.Fatalf("expected 320, got %d", got)
	}
	if got := DurationMs(1, 16000); got != 1 {
		t.Fatalf("expected floor of 1, got %d", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	in := sine(1600, 0.5)
	out, rate, err := ParseWAV(SamplesToWAV(in, 16000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rate != 16000 || len(out) != len(in) {
		t.Fatalf("unexpected rate=%d len=%d", rate, len(out))
	}
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1e-3 {
			t.Fatalf("sample %d: %v vs %v", i, in[i], out[i])
		}
	}
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	if _, _, err := ParseWAV([]byte("not a wav file")); err == nil {
		t.Fatal("expected error")
	}
}

func TestResampleLength(t *testing.T) {
	in := sine(24000, 0.3)
	out := Resample(in, 24000, 16000)
	if len(out) != 16000 {
		t.Fatalf("expected 16000 samples, got %d", len(out))
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Fatal("matching rates should pass through")
	}
}

func TestResamplePreservesDC(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = 0.5
	}
	out := Resample(in, 48000, 16000)
	mid := out[len(out)/2]
	if mid < 0.49 || mid > 0.51 {
		t.Fatalf("expected DC level 0.5 in the middle, got %v", mid)
	}
}
