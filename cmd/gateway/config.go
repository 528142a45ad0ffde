package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-session-gateway/internal/alerts"
	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
	"github.com/hubenschmidt/voice-session-gateway/internal/bus"
	"github.com/hubenschmidt/voice-session-gateway/internal/config"
	"github.com/hubenschmidt/voice-session-gateway/internal/endpointing"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
	"github.com/hubenschmidt/voice-session-gateway/internal/telemetry"
	"github.com/hubenschmidt/voice-session-gateway/internal/transcript"
	"github.com/hubenschmidt/voice-session-gateway/internal/twopass"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func logLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func endpointingConfig(c config.EndpointingConfig) endpointing.Config {
	return endpointing.Config{
		Quiet: endpointing.Thresholds{
			EndSilenceMs: c.EndSilenceMs,
			MinSilenceMs: c.MinSilenceMs,
			MergeBackMs:  c.MergeBackMs,
		},
		Noisy: endpointing.Thresholds{
			EndSilenceMs: c.Noisy.EndSilenceMs,
			MinSilenceMs: c.Noisy.MinSilenceMs,
			MergeBackMs:  c.Noisy.MergeBackMs,
		},
		MinSegmentMs:        c.MinSegmentMs,
		MaxSegmentMs:        c.MaxSegmentMs,
		DynamicProfile:      c.DynamicProfile,
		NoisyFrameRMS:       c.NoisyFrameRMS,
		Smoothing:           c.NoiseSmoothing,
		NoisyScoreThreshold: c.NoisyScoreThreshold,
	}
}

func vadConfig(cfg config.Config) audio.VADConfig {
	return audio.VADConfig{
		EnergyThreshold: cfg.Endpointing.EnergyThreshold,
		Adaptive:        cfg.Audio.AdaptiveVADEnabled,
		Floor:           cfg.Audio.AdaptiveVADFloor,
		Multiplier:      cfg.Audio.AdaptiveVADMultiplier,
		WindowFrames:    cfg.Audio.AdaptiveVADWindowFrames,
	}
}

func stabilizerConfig(c config.TranscriptConfig) transcript.StabilizerConfig {
	return transcript.StabilizerConfig{
		Enabled:              c.StabilityEnabled,
		TailRollbackSeconds:  c.TailRollbackSeconds,
		CharsPerSecond:       c.CharsPerSecond,
		MinRollbackChars:     c.MinRollbackChars,
		MinFrozenPrefixChars: c.MinFrozenPrefixChars,
		MaxTailRewriteChars:  c.MaxTailRewriteChars,
	}
}

func twoPassConfig(c config.TwoPassConfig) twopass.Config {
	return twopass.Config{
		Enabled:        c.Enabled,
		WindowSegments: c.WindowSegments,
		WindowSeconds:  c.WindowSeconds,
		PrefixLock:     c.PrefixLock,
		MinSegmentMs:   c.MinSegmentMs,
	}
}

func stageOptions(c config.ResilienceConfig) map[resilience.Stage]resilience.StageOptions {
	convert := func(s config.StageConfig) resilience.StageOptions {
		return resilience.StageOptions{
			Timeout:          ms(s.TimeoutMs),
			RetryCount:       s.RetryCount,
			FailureThreshold: s.CircuitBreakFailures,
			Window:           time.Duration(s.CircuitBreakWindowSeconds) * time.Second,
		}
	}
	return map[resilience.Stage]resilience.StageOptions{
		resilience.StageASR:     convert(c.ASR),
		resilience.StageAgent:   convert(c.Agent),
		resilience.StageTTS:     convert(c.TTS),
		resilience.StageTwoPass: convert(c.TwoPass),
	}
}

func alertsConfig(c config.AlertsConfig) alerts.Config {
	return alerts.Config{
		Enabled:          c.Enabled,
		ErrorRateWarnPct: c.ErrorRateWarnPct,
		P95WarnMs: map[string]float64{
			string(resilience.StageASR):   c.ASRP95WarnMs,
			string(resilience.StageAgent): c.AgentP95WarnMs,
			string(resilience.StageTTS):   c.TTSP95WarnMs,
		},
	}
}

func telemetryConfig(c config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		ServiceName:  c.ServiceName,
		Exporter:     c.Exporter,
		OTLPEndpoint: c.OTLPEndpoint,
		OTLPInsecure: c.OTLPInsecure,
	}
}

func busConfig(c config.BusConfig) bus.Config {
	return bus.Config{
		Servers:        c.Servers,
		SubjectPrefix:  c.SubjectPrefix,
		Token:          c.Token,
		ConnectTimeout: ms(c.ConnectTimeoutMs),
	}
}

func funasrConfig(c config.FunASRConfig, sampleRate int) pipeline.FunASRConfig {
	return pipeline.FunASRConfig{
		URL:            c.URL,
		Mode:           c.Mode,
		ChunkSize:      c.ChunkSize,
		ChunkInterval:  c.ChunkInterval,
		SampleRate:     sampleRate,
		ITN:            c.ITN,
		ReceiveTimeout: ms(c.ReceiveTimeoutMs),
		FinalTimeout:   ms(c.FinalTimeoutMs),
	}
}

func openAIConfig(c config.OpenAIConfig) pipeline.OpenAIConfig {
	return pipeline.OpenAIConfig{
		APIKey:      c.APIKey,
		BaseURL:     c.BaseURL,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

func geminiConfig(c config.GeminiConfig) pipeline.GeminiConfig {
	return pipeline.GeminiConfig{APIKey: c.APIKey, Model: c.Model, MaxTokens: c.MaxTokens}
}

func pollyConfig(c config.PollyConfig) pipeline.PollyConfig {
	return pipeline.PollyConfig{Region: c.Region, VoiceID: c.VoiceID, Engine: c.Engine}
}
