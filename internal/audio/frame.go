package audio

import "math"

// Frame is a preprocessed chunk with its level statistics.
type Frame struct {
	Samples  []float32
	RMS      float64
	Peak     float64
	Clipping bool
}

type Kind int

const (
	NonSpeech Kind = iota
	Speech
)

const (
	preprocessGain = 1.2

	classifierMinRMS = 0.008

	qualityMinSamples = 160
	qualityMinRMS     = 0.003
	qualityClipPeak   = 0.999
)

// Preprocess removes the DC offset, applies a mild fixed gain and hard-clips
// to [-1, 1]. The input slice is not modified.
func Preprocess(samples []float32) Frame {
	if len(samples) == 0 {
		return Frame{}
	}

	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	out := make([]float32, len(samples))
	var sumSq, peak float64
	clipping := false
	for i, s := range samples {
		v := (float64(s) - mean) * preprocessGain
		if v > 1 {
			v, clipping = 1, true
		} else if v < -1 {
			v, clipping = -1, true
		}
		out[i] = float32(v)
		peak = max(peak, math.Abs(v))
		sumSq += v * v
	}

	return Frame{
		Samples:  out,
		RMS:      math.Sqrt(sumSq / float64(len(out))),
		Peak:     peak,
		Clipping: clipping,
	}
}

// Classify treats low-energy frames as background.
func Classify(f Frame) Kind {
	if f.RMS < classifierMinRMS {
		return NonSpeech
	}
	return Speech
}

// Acceptable rejects tiny frames, near-silent frames and frames that clipped
// at full scale.
func Acceptable(f Frame) bool {
	switch {
	case len(f.Samples) < qualityMinSamples:
		return false
	case f.RMS < qualityMinRMS:
		return false
	case f.Clipping && f.Peak >= qualityClipPeak:
		return false
	}
	return true
}

// RMS returns the root mean square of samples, 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DurationMs is the rounded playback length of n samples, never below 1.
func DurationMs(n, sampleRate int) int {
	if sampleRate <= 0 {
		return 1
	}
	return max(1, int(math.Round(float64(n)*1000/float64(sampleRate))))
}
