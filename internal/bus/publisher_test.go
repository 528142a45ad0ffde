package bus

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestPublishSubjectAndPayload(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "voice.sessions.", slog.New(slog.NewTextHandler(io.Discard, nil)))

	p.Publish("s1", protocol.AgentResponse{Type: protocol.TypeAgent, State: protocol.StateResponse, Text: "hi", SessionID: "s1"})

	if len(fc.subjects) != 1 || fc.subjects[0] != "voice.sessions.s1.agent" {
		t.Fatalf("unexpected subjects %v", fc.subjects)
	}
	var got protocol.AgentResponse
	if err := json.Unmarshal(fc.payloads[0], &got); err != nil || got.Text != "hi" {
		t.Fatalf("unexpected payload %s (%v)", fc.payloads[0], err)
	}
}

func TestPublishErrorsAreSwallowed(t *testing.T) {
	fc := &fakeConn{err: errors.New("disconnected")}
	p := newPublisher(fc, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.Publish("s1", protocol.NewError("s1", "t1", protocol.StageDecode, protocol.CodeDecodeFail, ""))
	if fc.subjects[0] != "voice.sessions.s1.stt" {
		t.Fatalf("unexpected default subject %q", fc.subjects[0])
	}

	var nilPub *Publisher
	nilPub.Publish("s1", protocol.AgentResponse{})
	nilPub.Close()
}
