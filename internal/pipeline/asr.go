package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
)

// WhisperClient uploads audio as a multipart WAV to any whisper-compatible
// HTTP endpoint. It has no streaming state, so partials re-decode the whole
// buffer; it doubles as the offline recognizer for second-pass refinement.
type WhisperClient struct {
	url        string
	endpoint   string
	sampleRate int
	client     *http.Client
}

func NewWhisperClient(url string, sampleRate, poolSize int) *WhisperClient {
	endpoint := "/inference"
	if strings.HasSuffix(url, "/v1") {
		endpoint = "/audio/transcriptions"
	}
	return &WhisperClient{
		url:        strings.TrimRight(url, "/"),
		endpoint:   endpoint,
		sampleRate: sampleRate,
		client:     NewPooledHTTPClient(poolSize, 60*time.Second),
	}
}

func (c *WhisperClient) DecodePartial(ctx context.Context, _ string, samples []float32) (string, error) {
	return c.Recognize(ctx, samples)
}

func (c *WhisperClient) DecodeFinal(ctx context.Context, _ string, samples []float32) (string, error) {
	return c.Recognize(ctx, samples)
}

func (c *WhisperClient) Recognize(ctx context.Context, samples []float32) (string, error) {
	body, contentType, err := buildMultipartAudio(samples, c.sampleRate)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("create whisper request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("whisper status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode whisper response: %w", err)
	}
	return strings.TrimSpace(result.Text), nil
}

// CheckHealth implements health.Checker.
func (c *WhisperClient) CheckHealth(ctx context.Context) (string, error) {
	return probeURL(ctx, c.client, c.url)
}

func buildMultipartAudio(samples []float32, sampleRate int) (*bytes.Buffer, string, error) {
	wavData := audio.SamplesToWAV(samples, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err = part.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("write wav data: %w", err)
	}
	if err = writer.WriteField("response_format", "json"); err != nil {
		return nil, "", fmt.Errorf("write form field: %w", err)
	}
	if err = writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close writer: %w", err)
	}
	return &body, writer.FormDataContentType(), nil
}
