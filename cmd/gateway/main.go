package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/alerts"
	"github.com/hubenschmidt/voice-session-gateway/internal/bus"
	"github.com/hubenschmidt/voice-session-gateway/internal/config"
	"github.com/hubenschmidt/voice-session-gateway/internal/env"
	"github.com/hubenschmidt/voice-session-gateway/internal/health"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
	"github.com/hubenschmidt/voice-session-gateway/internal/telemetry"
	"github.com/hubenschmidt/voice-session-gateway/internal/trace"
	"github.com/hubenschmidt/voice-session-gateway/internal/transcript"
	"github.com/hubenschmidt/voice-session-gateway/internal/ws"
)

func main() {
	cfg, err := config.Load(env.Str("GATEWAY_CONFIG", ""))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	if err = run(cfg, logger); err != nil {
		logger.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetryConfig(cfg.Telemetry), logger)
	if err != nil {
		return err
	}

	agg := metrics.NewAggregator()
	exec := resilience.NewExecutor(resilience.NewCoordinator(stageOptions(cfg.Resilience)), agg, logger)

	prov, err := buildProviders(cfg, exec, logger)
	if err != nil {
		return err
	}

	control, err := protocol.NewControlParser()
	if err != nil {
		return err
	}

	var store *trace.Store
	if cfg.Trace.DatabaseURL != "" {
		store, err = trace.Open(ctx, cfg.Trace.DatabaseURL, cfg.Trace.MaxSessions)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("tracing enabled", "max_sessions", cfg.Trace.MaxSessions)
	}

	targets := prov.targets
	handlerCfg := ws.HandlerConfig{
		Recognizer:      prov.recognizer,
		Agent:           prov.agent,
		Synthesizer:     prov.synthesizer,
		Executor:        exec,
		TwoPass:         prov.twoPass,
		Metrics:         agg,
		Control:         control,
		Stabilizer:      transcript.NewStabilizer(stabilizerConfig(cfg.Transcript)),
		PostProcess:     transcript.NewPostProcessor(transcript.PostProcessConfig{Normalize: cfg.Transcript.Normalize, Punctuate: cfg.Transcript.Punctuate}),
		TraceStore:      store,
		Endpointing:     endpointingConfig(cfg.Endpointing),
		VAD:             vadConfig(cfg),
		SampleRate:      cfg.Audio.SampleRate,
		TTSSampleRate:   cfg.TTS.SampleRate,
		TTSChunkMs:      cfg.TTS.ChunkMs,
		SystemPrompt:    cfg.Agent.SystemPrompt,
		MaxHistoryTurns: cfg.Agent.MaxHistoryTurns,
		FallbackEnabled: cfg.Agent.FallbackEnabled,
		FallbackText:    cfg.Agent.FallbackText,
		Metadata:        sessionMetadata(cfg),
		MaxConcurrent:   cfg.HTTP.MaxConcurrentSessions,
		Logger:          logger,
	}

	if len(cfg.Bus.Servers) > 0 {
		pub, err := bus.Connect(busConfig(cfg.Bus), logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		handlerCfg.Publisher = pub
		targets = append(targets, health.Target{Stage: "bus", Provider: "nats", Backend: pub})
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		wsHandler:  ws.NewHandler(handlerCfg),
		metrics:    agg,
		probe:      health.NewProbe(2*time.Second, targets...),
		alerts:     alerts.NewEvaluator(alertsConfig(cfg.Alerts)),
		traceStore: store,
	})

	addr := ":" + cfg.HTTP.Port
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting", "addr", addr, "max_concurrent", cfg.HTTP.MaxConcurrentSessions)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err = shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", "error", err)
	}
	return nil
}

// sessionMetadata is stored with every traced session so runs can be tied
// back to the provider mix that produced them.
func sessionMetadata(cfg config.Config) string {
	return "asr=" + cfg.ASR.Provider + " agent=" + cfg.Agent.Provider + " tts=" + cfg.TTS.Provider
}
