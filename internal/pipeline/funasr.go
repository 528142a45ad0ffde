package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
)

type FunASRConfig struct {
	URL            string
	Mode           string
	ChunkSize      []int
	ChunkInterval  int
	SampleRate     int
	ITN            bool
	ReceiveTimeout time.Duration
	FinalTimeout   time.Duration
}

type funasrResult struct {
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	IsFinal bool   `json:"is_final"`
}

// funasrStream is one open recognition stream. A reader goroutine owns all
// reads so a timed-out wait never leaves the socket in a broken state.
type funasrStream struct {
	conn     *websocket.Conn
	results  chan funasrResult
	sent     int
	lastText string
}

// funasrSession serializes calls for one session.
type funasrSession struct {
	mu     sync.Mutex
	stream *funasrStream
}

// FunASRClient keeps one streaming websocket per session and sends only the
// samples that were not sent yet on each call.
type FunASRClient struct {
	cfg    FunASRConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*funasrSession
}

func NewFunASRClient(cfg FunASRConfig, logger *slog.Logger) *FunASRClient {
	if cfg.Mode == "" {
		cfg.Mode = "2pass"
	}
	if len(cfg.ChunkSize) == 0 {
		cfg.ChunkSize = []int{5, 10, 5}
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = 10
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = 120 * time.Millisecond
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = 2 * time.Second
	}
	return &FunASRClient{
		cfg:      cfg,
		dialer:   &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		logger:   logger,
		sessions: make(map[string]*funasrSession),
	}
}

func (c *FunASRClient) session(sessionID string) *funasrSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		sess = &funasrSession{}
		c.sessions[sessionID] = sess
	}
	return sess
}

func (c *FunASRClient) DecodePartial(ctx context.Context, sessionID string, samples []float32) (string, error) {
	sess := c.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	stream, err := c.send(ctx, sess, sessionID, samples)
	if err != nil {
		return "", err
	}

	timer := time.NewTimer(c.cfg.ReceiveTimeout)
	defer timer.Stop()
	for {
		select {
		case res, ok := <-stream.results:
			if !ok {
				sess.drop()
				return stream.lastText, errors.New("funasr stream closed")
			}
			if t := strings.TrimSpace(res.Text); t != "" {
				stream.lastText = t
			}
			if len(stream.results) == 0 {
				return stream.lastText, nil
			}
		case <-timer.C:
			return stream.lastText, nil
		case <-ctx.Done():
			sess.drop()
			return "", ctx.Err()
		}
	}
}

func (c *FunASRClient) DecodeFinal(ctx context.Context, sessionID string, samples []float32) (string, error) {
	sess := c.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	defer sess.drop()

	stream, err := c.send(ctx, sess, sessionID, samples)
	if err != nil {
		return "", err
	}
	if err = stream.conn.WriteJSON(map[string]any{"is_speaking": false}); err != nil {
		return "", fmt.Errorf("funasr end of speech: %w", err)
	}

	offline := ""
	timer := time.NewTimer(c.cfg.FinalTimeout)
	defer timer.Stop()
	for {
		select {
		case res, ok := <-stream.results:
			if !ok {
				return finalText(offline, stream.lastText)
			}
			t := strings.TrimSpace(res.Text)
			if t != "" {
				stream.lastText = t
			}
			isOffline := strings.Contains(res.Mode, "offline")
			if isOffline && t != "" {
				offline = t
			}
			if res.IsFinal || isOffline {
				return finalText(offline, stream.lastText)
			}
		case <-timer.C:
			if stream.lastText == "" {
				return "", errors.New("funasr final result timed out")
			}
			return stream.lastText, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func finalText(offline, last string) (string, error) {
	if offline != "" {
		return offline, nil
	}
	return last, nil
}

// CloseSession implements SessionCloser.
func (c *FunASRClient) CloseSession(sessionID string) {
	c.mu.Lock()
	sess, ok := c.sessions[sessionID]
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.drop()
}

// CheckHealth implements health.Checker by completing a websocket handshake.
func (c *FunASRClient) CheckHealth(ctx context.Context) (string, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("funasr dial: %w", err)
	}
	conn.Close()
	return c.cfg.URL, nil
}

// send opens the session stream if needed and writes the unsent samples.
// Callers hold sess.mu.
func (c *FunASRClient) send(ctx context.Context, sess *funasrSession, sessionID string, samples []float32) (*funasrStream, error) {
	stream := sess.stream
	if stream == nil || len(samples) < stream.sent {
		sess.drop()
		var err error
		if stream, err = c.open(ctx, sessionID); err != nil {
			return nil, err
		}
		sess.stream = stream
	}

	delta := samples[stream.sent:]
	if len(delta) == 0 {
		return stream, nil
	}
	if err := stream.conn.WriteMessage(websocket.BinaryMessage, audio.EncodePCM16(delta)); err != nil {
		sess.drop()
		return nil, fmt.Errorf("funasr send audio: %w", err)
	}
	stream.sent = len(samples)
	return stream, nil
}

func (c *FunASRClient) open(ctx context.Context, sessionID string) (*funasrStream, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("funasr dial: %w", err)
	}

	start := map[string]any{
		"mode":                    c.cfg.Mode,
		"chunk_size":              c.cfg.ChunkSize,
		"chunk_interval":          c.cfg.ChunkInterval,
		"encoder_chunk_look_back": 4,
		"decoder_chunk_look_back": 0,
		"audio_fs":                c.cfg.SampleRate,
		"wav_name":                sessionID,
		"wav_format":              "pcm",
		"is_speaking":             true,
		"itn":                     c.cfg.ITN,
	}
	if err = conn.WriteJSON(start); err != nil {
		conn.Close()
		return nil, fmt.Errorf("funasr start message: %w", err)
	}

	stream := &funasrStream{conn: conn, results: make(chan funasrResult, 32)}
	go c.readLoop(sessionID, stream)
	return stream, nil
}

func (c *FunASRClient) readLoop(sessionID string, stream *funasrStream) {
	defer close(stream.results)
	for {
		var res funasrResult
		if err := stream.conn.ReadJSON(&res); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("funasr read ended", "session_id", sessionID, "error", err)
			}
			return
		}
		select {
		case stream.results <- res:
		default:
			// consumer is behind; newer results supersede older ones
			select {
			case <-stream.results:
			default:
			}
			stream.results <- res
		}
	}
}

// drop closes the open stream, if any. Callers hold sess.mu.
func (s *funasrSession) drop() {
	if s.stream == nil {
		return
	}
	s.stream.conn.Close()
	s.stream = nil
}
