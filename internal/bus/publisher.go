// Package bus mirrors outbound session messages onto NATS for external
// consumers. Publishing is fire-and-forget; the session never reads back.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
)

type Config struct {
	Servers        []string
	SubjectPrefix  string
	Token          string
	ConnectTimeout time.Duration
}

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher is nil-safe: a nil *Publisher drops everything.
type Publisher struct {
	nc     *nats.Conn
	conn   conn
	prefix string
	log    *slog.Logger
}

func Connect(cfg Config, log *slog.Logger) (*Publisher, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	options := []nats.Option{
		nats.Name("voice-session-gateway"),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	url := strings.Join(cfg.Servers, ",")
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Info("connected to NATS", "servers", url)

	p := newPublisher(nc, cfg.SubjectPrefix, log)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, prefix string, log *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = "voice.sessions"
	}
	return &Publisher{conn: c, prefix: strings.TrimSuffix(prefix, "."), log: log}
}

// Subject returns <prefix>.<sessionID>.<type>.
func (p *Publisher) Subject(sessionID, msgType string) string {
	return p.prefix + "." + sessionID + "." + msgType
}

// Publish mirrors one outbound message. Failures are logged, never returned.
func (p *Publisher) Publish(sessionID string, msg protocol.Message) {
	if p == nil {
		return
	}
	msgType, _ := msg.Kind()
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("bus marshal failed", "session_id", sessionID, "error", err)
		return
	}
	if err = p.conn.Publish(p.Subject(sessionID, msgType), data); err != nil {
		p.log.Warn("bus publish failed", "session_id", sessionID, "type", msgType, "error", err)
	}
}

// CheckHealth implements health.Checker.
func (p *Publisher) CheckHealth(context.Context) (string, error) {
	if p == nil || p.nc == nil {
		return "", errors.New("not connected")
	}
	if status := p.nc.Status(); status != nats.CONNECTED {
		return "", fmt.Errorf("nats status %s", status)
	}
	return p.nc.ConnectedUrl(), nil
}

func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.log.Info("closing NATS connection")
	p.nc.Drain()
	p.nc.Close()
}
