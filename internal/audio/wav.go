package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderLen = 44

// SamplesToWAV wraps samples in a mono 16-bit PCM RIFF container.
func SamplesToWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, wavHeaderLen+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(buf)-8))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	putPCM16(buf[wavHeaderLen:], samples)
	return buf
}

// ParseWAV extracts mono samples and the sample rate from a 16-bit PCM WAV
// body. Multi-channel input is downmixed by averaging. Chunks other than
// "fmt " and "data" are skipped.
func ParseWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("wav: missing RIFF/WAVE header")
	}

	var (
		rate     int
		channels int
		bits     int
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := min(body+size, len(data))

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, 0, errors.New("wav: short fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			rate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
		case "data":
			if rate == 0 {
				return nil, 0, errors.New("wav: data chunk before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("wav: unsupported bit depth %d", bits)
			}
			return downmix(data[body:end], max(1, channels)), rate, nil
		}
		off = body + size + size%2
	}
	return nil, 0, errors.New("wav: no data chunk")
}

func downmix(pcm []byte, channels int) []float32 {
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			s := int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:]))
			sum += float32(s) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out
}
