package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrDecode is returned for payloads that are not whole PCM16 samples.
var ErrDecode = errors.New("audio: invalid pcm16 payload")

// DecodePCM16 converts little-endian 16-bit mono PCM to samples in [-1, 1).
// Empty payloads and payloads of odd length are rejected.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data) < 2 || len(data)%2 != 0 {
		return nil, ErrDecode
	}
	n := len(data) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(s) / 32768
	}
	return samples, nil
}

// EncodePCM16 is the inverse of DecodePCM16; values outside [-1, 1] are clamped.
func EncodePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	putPCM16(buf, samples)
	return buf
}

func putPCM16(dst []byte, samples []float32) {
	for i, s := range samples {
		clamped := max(-1.0, min(1.0, s))
		val := int16(clamped * math.MaxInt16)
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(val))
	}
}
