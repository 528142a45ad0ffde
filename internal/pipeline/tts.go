package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
)

// samplesPerChunk returns the PCM sample count of one outbound chunk.
func samplesPerChunk(req SynthesisRequest) int {
	return max(1, req.SampleRate*req.ChunkMs/1000)
}

// streamChunks runs produce on its own goroutine. emit blocks until the
// consumer takes the chunk or ctx ends.
func streamChunks(ctx context.Context, produce func(emit func([]byte) error) error) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)

	emit := func(b []byte) error {
		select {
		case chunks <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(errs)
		err := produce(emit)
		close(chunks)
		if err != nil {
			errs <- err
		}
	}()
	return chunks, errs
}

// emitSamples encodes samples as PCM16 and emits them in chunk-sized pieces.
func emitSamples(samples []float32, size int, emit func([]byte) error) error {
	for off := 0; off < len(samples); off += size {
		end := min(off+size, len(samples))
		if err := emit(audio.EncodePCM16(samples[off:end])); err != nil {
			return err
		}
	}
	return nil
}

// --- Mock backend (220 Hz tone, length follows the text) ---

const (
	mockToneHz        = 220.0
	mockToneAmplitude = 0.2
	mockChunkPacing   = 15 * time.Millisecond
)

type MockSynthesizer struct{}

func (MockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (<-chan []byte, <-chan error) {
	return streamChunks(ctx, func(emit func([]byte) error) error {
		count := min(8, max(1, len([]rune(req.Text))/8))
		size := samplesPerChunk(req)
		phase := 0
		for range count {
			samples := make([]float32, size)
			for i := range samples {
				t := float64(phase+i) / float64(req.SampleRate)
				samples[i] = float32(mockToneAmplitude * math.Sin(2*math.Pi*mockToneHz*t))
			}
			phase += size
			if err := emit(audio.EncodePCM16(samples)); err != nil {
				return err
			}
			if err := sleepCtx(ctx, mockChunkPacing); err != nil {
				return err
			}
		}
		return nil
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- OpenAI-compatible backend (Kokoro, Orpheus: any server exposing /v1/audio/speech) ---

type HTTPSynthesizer struct {
	url    string
	model  string
	voice  string
	client *http.Client
}

func NewHTTPSynthesizer(url, model, voice string, poolSize int) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		url:    strings.TrimRight(url, "/"),
		model:  model,
		voice:  voice,
		client: NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

// Synthesize requests one WAV per sentence, resamples it to the session
// rate and streams it as PCM16 chunks.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (<-chan []byte, <-chan error) {
	return streamChunks(ctx, func(emit func([]byte) error) error {
		size := samplesPerChunk(req)
		for _, sentence := range splitSentences(req.Text) {
			wavData, err := s.fetch(ctx, sentence)
			if err != nil {
				return err
			}
			samples, rate, err := audio.ParseWAV(wavData)
			if err != nil {
				return fmt.Errorf("parse tts audio: %w", err)
			}
			if err = emitSamples(audio.Resample(samples, rate, req.SampleRate), size, emit); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *HTTPSynthesizer) fetch(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(struct {
		Input          string `json:"input"`
		Model          string `json:"model"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}{Input: text, Model: s.model, Voice: s.voice, ResponseFormat: "wav"})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts status %d: %s", resp.StatusCode, errBody)
	}
	return io.ReadAll(resp.Body)
}

// CheckHealth implements health.Checker.
func (s *HTTPSynthesizer) CheckHealth(ctx context.Context) (string, error) {
	return probeURL(ctx, s.client, s.url)
}
