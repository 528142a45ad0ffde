package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/prompts"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
)

type failingAgent struct{}

func (failingAgent) Reply(context.Context, pipeline.AgentRequest) (string, error) {
	return "", errors.New("upstream unavailable")
}

// failingFinalRecognizer streams partials but cannot produce a final.
type failingFinalRecognizer struct{ pipeline.MockRecognizer }

func (failingFinalRecognizer) DecodeFinal(context.Context, string, []float32) (string, error) {
	return "", errors.New("decoder crashed")
}

type panickingRecognizer struct{ pipeline.MockRecognizer }

func (panickingRecognizer) DecodePartial(context.Context, string, []float32) (string, error) {
	panic("partial decoder bug")
}

type panickingSynthesizer struct{}

func (panickingSynthesizer) Synthesize(context.Context, pipeline.SynthesisRequest) (<-chan []byte, <-chan error) {
	panic("synthesizer bug")
}

// speakOneSegment sends a tone followed by enough silence to close the segment.
func speakOneSegment(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrames(t, conn, sineFrame(0.2), 5)
	sendFrames(t, conn, silenceFrame(), 3)
}

// expectClosed reads until the server drops the connection.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			t.Fatalf("expected the server to close the connection, got %v", err)
		}
		return
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAgentFailureSpeaksFallback(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent = failingAgent{}
	conn, _ := dial(t, cfg)

	speakOneSegment(t, conn)
	msgs := readUntil(t, conn, 10*time.Second, func(m inbound) bool { return m.kind() == "tts/stop" })

	var order []string
	for _, m := range msgs {
		switch k := m.kind(); k {
		case "stt/error":
			if m.errorField("stage") != "agent" || m.errorField("code") != "AGENT_PROVIDER_ERROR" {
				t.Fatalf("unexpected error %v", m.msg)
			}
			order = append(order, k)
		case "agent/response":
			if m.str("text") != prompts.Fallback("") {
				t.Fatalf("expected fallback reply, got %q", m.str("text"))
			}
			order = append(order, k)
		case "stt/final", "tts/start", "tts/stop":
			order = append(order, k)
		}
	}
	want := []string{"stt/final", "stt/error", "agent/response", "tts/start", "tts/stop"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order %v", order)
		}
	}
	if got := cfg.Metrics.Snapshot().ErrorsByCode["AGENT_PROVIDER_ERROR"]; got != 1 {
		t.Fatalf("expected one agent error counted, got %d", got)
	}
}

func TestAgentFailureWithoutFallbackStaysSilent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent = failingAgent{}
	cfg.FallbackEnabled = false
	conn, _ := dial(t, cfg)

	speakOneSegment(t, conn)
	readUntil(t, conn, 10*time.Second, func(m inbound) bool { return m.kind() == "stt/error" })

	// nothing is spoken between the agent error and this decode error
	conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
	msgs := readUntil(t, conn, 5*time.Second, func(m inbound) bool { return m.errorField("code") == "DECODE_FAIL" })
	for _, m := range msgs {
		if m.kind() == "agent/response" || m.kind() == "tts/start" {
			t.Fatalf("unexpected %s without fallback", m.kind())
		}
	}
}

func TestFinalRecognitionFailureReportsASRError(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognizer = failingFinalRecognizer{}
	conn, _ := dial(t, cfg)

	sendFrames(t, conn, sineFrame(0.2), 2)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"listen","state":"stop"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs := readUntil(t, conn, 5*time.Second, func(m inbound) bool { return m.kind() == "stt/error" })
	last := msgs[len(msgs)-1]
	if last.errorField("stage") != "asr" || last.errorField("code") != "ASR_PROVIDER_ERROR" {
		t.Fatalf("unexpected error %v", last.msg)
	}
	if count(msgs, "stt/final") != 0 {
		t.Fatalf("expected no final: %v", kinds(msgs))
	}

	// the session keeps going
	conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
	msgs = readUntil(t, conn, 2*time.Second, func(inbound) bool { return true })
	if msgs[0].errorField("code") != "DECODE_FAIL" {
		t.Fatalf("session did not continue: %v", msgs[0].msg)
	}
}

func TestOpenCircuitSkipsAgent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent = failingAgent{}
	coord := resilience.NewCoordinator(resilience.DefaultOptions())
	for range resilience.DefaultOptions()[resilience.StageAgent].FailureThreshold {
		coord.MarkFailure(resilience.StageAgent)
	}
	cfg.Executor = resilience.NewExecutor(coord, cfg.Metrics, cfg.Logger)
	conn, _ := dial(t, cfg)

	speakOneSegment(t, conn)
	msgs := readUntil(t, conn, 10*time.Second, func(m inbound) bool { return m.kind() == "agent/response" })

	var errs []inbound
	for _, m := range msgs {
		if m.kind() == "stt/error" {
			errs = append(errs, m)
		}
	}
	if len(errs) != 1 || errs[0].errorField("code") != "AGENT_CIRCUIT_OPEN" {
		t.Fatalf("expected one AGENT_CIRCUIT_OPEN error, got %v", kinds(msgs))
	}
	if msgs[len(msgs)-1].str("text") != prompts.Fallback("") {
		t.Fatalf("expected fallback reply, got %q", msgs[len(msgs)-1].str("text"))
	}
	if cfg.Metrics.Snapshot().ErrorsByCode["AGENT_PROVIDER_ERROR"] != 0 {
		t.Fatal("agent was called while the circuit was open")
	}
}

func TestClientDisconnectInterruptsSynthesis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Synthesizer = slowSynthesizer{}
	opts := resilience.DefaultOptions()
	tts := opts[resilience.StageTTS]
	tts.Timeout = time.Minute
	opts[resilience.StageTTS] = tts
	cfg.Executor = resilience.NewExecutor(resilience.NewCoordinator(opts), cfg.Metrics, cfg.Logger)
	conn, _ := dial(t, cfg)

	speakOneSegment(t, conn)
	readUntil(t, conn, 5*time.Second, func(m inbound) bool { return m.kind() == "tts/chunk" })
	conn.Close()

	waitFor(t, 5*time.Second, func() bool { return cfg.Metrics.Snapshot().SessionsClosed == 1 })
	if got := cfg.Metrics.Snapshot().InterruptCount; got != 1 {
		t.Fatalf("expected one session_close interrupt, got %d", got)
	}
}

func TestSessionLoopPanicEndsSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Recognizer = panickingRecognizer{}
	conn, _ := dial(t, cfg)

	// the server may drop the connection before the second write lands
	for range 2 {
		conn.WriteMessage(websocket.BinaryMessage, sineFrame(0.2))
	}
	msgs := readUntil(t, conn, 5*time.Second, func(m inbound) bool { return m.kind() == "stt/error" })
	last := msgs[len(msgs)-1]
	if last.errorField("stage") != "session" || last.errorField("code") != "INTERNAL_ERROR" {
		t.Fatalf("unexpected error %v", last.msg)
	}
	expectClosed(t, conn)
	waitFor(t, 5*time.Second, func() bool { return cfg.Metrics.Snapshot().SessionsClosed == 1 })
}

func TestSynthesisPanicEndsSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Synthesizer = panickingSynthesizer{}
	conn, _ := dial(t, cfg)

	speakOneSegment(t, conn)
	msgs := readUntil(t, conn, 10*time.Second, func(m inbound) bool { return m.kind() == "stt/error" })
	last := msgs[len(msgs)-1]
	if last.errorField("stage") != "session" || last.errorField("code") != "INTERNAL_ERROR" {
		t.Fatalf("unexpected error %v", last.msg)
	}
	if count(msgs, "tts/start") != 1 {
		t.Fatalf("expected synthesis to have started: %v", kinds(msgs))
	}
	expectClosed(t, conn)
	waitFor(t, 5*time.Second, func() bool { return cfg.Metrics.Snapshot().SessionsClosed == 1 })
}
