package main

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/config"
	"github.com/hubenschmidt/voice-session-gateway/internal/endpointing"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
)

func TestDefaultConfigMapsToPackageDefaults(t *testing.T) {
	cfg := config.Default()

	if got, want := endpointingConfig(cfg.Endpointing), endpointing.DefaultConfig(); got != want {
		t.Fatalf("endpointing mismatch:\n got %+v\nwant %+v", got, want)
	}

	opts := stageOptions(cfg.Resilience)
	if opts[resilience.StageAgent].RetryCount != 1 || opts[resilience.StageASR].Timeout != 3*time.Second {
		t.Fatalf("unexpected stage options: %+v", opts)
	}
	if opts[resilience.StageTTS].Window != 30*time.Second {
		t.Fatalf("unexpected breaker window: %v", opts[resilience.StageTTS].Window)
	}

	fa := funasrConfig(cfg.ASR.FunASR, 16000)
	if fa.ReceiveTimeout != 120*time.Millisecond || fa.FinalTimeout != 2*time.Second || fa.SampleRate != 16000 {
		t.Fatalf("unexpected funasr config: %+v", fa)
	}

	if a := alertsConfig(cfg.Alerts); a.P95WarnMs["agent"] != 2500 {
		t.Fatalf("unexpected alert thresholds: %+v", a.P95WarnMs)
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestBuildProvidersSelectsConfigured(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.ASR.Provider = "http"
	cfg.ASR.URL = "http://asr.local"
	cfg.TTS.Provider = "polly"
	cfg.TwoPass.Enabled = true

	p, err := buildProviders(cfg, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.recognizer.(*pipeline.WhisperClient); !ok {
		t.Fatalf("expected whisper recognizer, got %T", p.recognizer)
	}
	if _, ok := p.agent.(pipeline.MockAgent); !ok {
		t.Fatalf("expected mock agent, got %T", p.agent)
	}
	if _, ok := p.synthesizer.(*pipeline.PollySynthesizer); !ok {
		t.Fatalf("expected polly synthesizer, got %T", p.synthesizer)
	}
	if p.twoPass == nil || len(p.targets) != 4 {
		t.Fatalf("expected two pass manager and 4 health targets, got %d", len(p.targets))
	}
}
