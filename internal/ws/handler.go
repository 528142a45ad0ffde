package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
	"github.com/hubenschmidt/voice-session-gateway/internal/endpointing"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
	"github.com/hubenschmidt/voice-session-gateway/internal/trace"
	"github.com/hubenschmidt/voice-session-gateway/internal/transcript"
	"github.com/hubenschmidt/voice-session-gateway/internal/twopass"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Publisher mirrors outbound messages elsewhere. *bus.Publisher satisfies it.
type Publisher interface {
	Publish(sessionID string, msg protocol.Message)
}

// HandlerConfig holds the process-wide collaborators shared by all sessions.
type HandlerConfig struct {
	Recognizer  pipeline.Recognizer
	Agent       pipeline.AgentEngine
	Synthesizer pipeline.Synthesizer
	Executor    *resilience.Executor
	TwoPass     *twopass.Manager
	Metrics     *metrics.Aggregator
	Control     *protocol.ControlParser
	Stabilizer  *transcript.Stabilizer
	PostProcess *transcript.PostProcessor
	TraceStore  *trace.Store
	Publisher   Publisher

	Endpointing endpointing.Config
	VAD         audio.VADConfig

	SampleRate      int
	TTSSampleRate   int
	TTSChunkMs      int
	SystemPrompt    string
	MaxHistoryTurns int
	FallbackEnabled bool
	FallbackText    string
	// Metadata is stored with each traced session.
	Metadata      string
	MaxConcurrent int

	Logger *slog.Logger
}

// Handler manages websocket voice sessions with admission control.
type Handler struct {
	cfg     HandlerConfig
	engine  *endpointing.Engine
	sem     chan struct{}
	closers []pipeline.SessionCloser
	logger  *slog.Logger
}

// NewHandler creates a websocket handler with shared collaborators and a concurrency limit.
func NewHandler(cfg HandlerConfig) *Handler {
	maxConc := cfg.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 100
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.TTSSampleRate <= 0 {
		cfg.TTSSampleRate = cfg.SampleRate
	}
	if cfg.TTSChunkMs <= 0 {
		cfg.TTSChunkMs = 200
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var closers []pipeline.SessionCloser
	for _, c := range []any{cfg.Recognizer, cfg.Agent, cfg.Synthesizer} {
		if sc, ok := c.(pipeline.SessionCloser); ok {
			closers = append(closers, sc)
		}
	}

	return &Handler{
		cfg:     cfg,
		engine:  endpointing.NewEngine(cfg.Endpointing),
		sem:     make(chan struct{}, maxConc),
		closers: closers,
		logger:  logger,
	}
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects. Returns 503 when at capacity.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case h.sem <- struct{}{}:
		defer func() { <-h.sem }()
	default:
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	newRunner(h, conn).run()
}
