package audio

import (
	"math"
	"sync"
)

const filterTaps = 31

// filterKey identifies one low-pass kernel. Sessions resample between a
// handful of fixed rate pairs, so kernels are built once and shared.
type filterKey struct {
	cutoff, rate float64
}

var filters sync.Map // filterKey -> []float32

// Resample converts synthesized or uploaded audio from srcRate to dstRate by
// linear interpolation, band-limited on whichever side has the higher rate.
// Matching rates, unknown rates and empty input are returned as-is.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}

	nyquist := float64(min(srcRate, dstRate)) / 2
	if srcRate > dstRate {
		samples = convolve(samples, kernelFor(nyquist, float64(srcRate)))
	}

	step := float64(srcRate) / float64(dstRate)
	out := make([]float32, int(float64(len(samples))/step))
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		k := int(pos)
		if k >= last {
			out[i] = samples[last]
			continue
		}
		w := float32(pos - float64(k))
		out[i] = samples[k] + (samples[k+1]-samples[k])*w
	}

	if dstRate > srcRate {
		out = convolve(out, kernelFor(nyquist, float64(dstRate)))
	}
	return out
}

func kernelFor(cutoff, rate float64) []float32 {
	key := filterKey{cutoff: cutoff, rate: rate}
	if k, ok := filters.Load(key); ok {
		return k.([]float32)
	}
	k, _ := filters.LoadOrStore(key, blackmanSinc(cutoff/rate, filterTaps))
	return k.([]float32)
}

// convolve applies a centered FIR; taps outside the input contribute nothing.
func convolve(in, kernel []float32) []float32 {
	half := len(kernel) / 2
	out := make([]float32, len(in))
	for i := range in {
		lo := max(0, i-half)
		hi := min(len(in), i+half+1)
		var acc float32
		for n := lo; n < hi; n++ {
			acc += in[n] * kernel[n-i+half]
		}
		out[i] = acc
	}
	return out
}

// blackmanSinc returns a low-pass kernel for the normalized cutoff fc
// (cycles per sample), scaled to unity gain at DC.
func blackmanSinc(fc float64, taps int) []float32 {
	center := taps / 2
	span := float64(taps - 1)
	raw := make([]float64, taps)
	var total float64
	for i := range raw {
		t := float64(i - center)
		v := 2 * fc
		if t != 0 {
			v = math.Sin(2*math.Pi*fc*t) / (math.Pi * t)
		}
		phase := 2 * math.Pi * float64(i) / span
		v *= 0.42 - 0.5*math.Cos(phase) + 0.08*math.Cos(2*phase)
		raw[i] = v
		total += v
	}

	kernel := make([]float32, taps)
	for i, v := range raw {
		kernel[i] = float32(v / total)
	}
	return kernel
}
