package main

import (
	"fmt"
	"math"
	"os"

	"github.com/go-audio/wav"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
)

// loadWAV decodes the first channel of a PCM WAV file and resamples it to rate.
func loadWAV(path string, rate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	channels := max(1, buf.Format.NumChannels)
	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(math.Pow(2, float64(depth-1)))

	samples := make([]float32, 0, len(buf.Data)/channels)
	for i := 0; i < len(buf.Data); i += channels {
		samples = append(samples, float32(buf.Data[i])/scale)
	}
	return audio.Resample(samples, buf.Format.SampleRate, rate), nil
}

// chunk splits samples into PCM16 frames of chunkMs; the tail is zero padded.
func chunk(samples []float32, rate, chunkMs int) [][]byte {
	size := rate * chunkMs / 1000
	var frames [][]byte
	for start := 0; start < len(samples); start += size {
		frame := make([]float32, size)
		copy(frame, samples[start:min(start+size, len(samples))])
		frames = append(frames, audio.EncodePCM16(frame))
	}
	return frames
}

func sineFrames(n, rate, chunkMs int) [][]byte {
	size := rate * chunkMs / 1000
	samples := make([]float32, n*size)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return chunk(samples, rate, chunkMs)
}
