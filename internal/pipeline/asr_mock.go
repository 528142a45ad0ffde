package pipeline

import (
	"context"
	"fmt"
	"strings"
)

var mockWords = strings.Fields("the quick brown fox jumps over the lazy dog while the band plays on")

// MockRecognizer returns deterministic text whose length grows with the
// amount of audio, so partial and final flows can be exercised offline.
type MockRecognizer struct{}

func (MockRecognizer) DecodePartial(_ context.Context, sessionID string, samples []float32) (string, error) {
	n := max(1, len(samples)/6400)
	return fmt.Sprintf("[partial:%s] %s", sessionID, mockText(n)), nil
}

func (MockRecognizer) DecodeFinal(_ context.Context, sessionID string, samples []float32) (string, error) {
	n := max(3, len(samples)/4800)
	return fmt.Sprintf("[final:%s] %s", sessionID, mockText(n)), nil
}

// MockOfflineRecognizer upper-cases the first word of a fixed phrase sized
// like MockRecognizer's final output.
type MockOfflineRecognizer struct{}

func (MockOfflineRecognizer) Recognize(_ context.Context, samples []float32) (string, error) {
	n := max(3, len(samples)/4800)
	text := mockText(n)
	return strings.ToUpper(text[:1]) + text[1:], nil
}

func mockText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = mockWords[i%len(mockWords)]
	}
	return strings.Join(words, " ")
}
