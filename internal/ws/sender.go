package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
)

var errConnClosed = errors.New("connection closed")

type wsWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// sender serializes every write to one connection. Task-scoped writes check
// the task context under the lock, so once a task is cancelled and its
// cancel has been observed nothing more from it reaches the client.
type sender struct {
	mu        sync.Mutex
	w         wsWriter
	sessionID string
	publisher Publisher
	broken    bool
}

func newSender(w wsWriter, sessionID string, publisher Publisher) *sender {
	return &sender{w: w, sessionID: sessionID, publisher: publisher}
}

// send writes a message from the session loop.
func (s *sender) send(msg protocol.Message) error {
	return s.sendTask(context.Background(), msg)
}

// sendTask writes msg unless ctx has ended.
func (s *sender) sendTask(ctx context.Context, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.writable(ctx); err != nil {
		return err
	}
	if err = s.write(websocket.TextMessage, data); err != nil {
		return err
	}
	s.published(msg)
	return nil
}

// sendAudio writes a binary frame followed by its JSON metadata as one unit.
func (s *sender) sendAudio(ctx context.Context, pcm []byte, meta protocol.Message) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err = s.writable(ctx); err != nil {
		return err
	}
	if err = s.write(websocket.BinaryMessage, pcm); err != nil {
		return err
	}
	if err = s.write(websocket.TextMessage, data); err != nil {
		return err
	}
	s.published(meta)
	return nil
}

func (s *sender) writable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.broken {
		return errConnClosed
	}
	return nil
}

func (s *sender) write(messageType int, data []byte) error {
	if err := s.w.WriteMessage(messageType, data); err != nil {
		s.broken = true
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (s *sender) published(msg protocol.Message) {
	msgType, state := msg.Kind()
	metrics.Messages.WithLabelValues(msgType, state).Inc()
	if s.publisher != nil {
		s.publisher.Publish(s.sessionID, msg)
	}
}
