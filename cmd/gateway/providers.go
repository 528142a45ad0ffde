package main

import (
	"fmt"
	"log/slog"

	"github.com/hubenschmidt/voice-session-gateway/internal/config"
	"github.com/hubenschmidt/voice-session-gateway/internal/health"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
	"github.com/hubenschmidt/voice-session-gateway/internal/twopass"
)

// providers holds the stage implementations selected for this process.
type providers struct {
	recognizer  pipeline.Recognizer
	agent       pipeline.AgentEngine
	synthesizer pipeline.Synthesizer
	twoPass     *twopass.Manager
	targets     []health.Target
}

func buildProviders(cfg config.Config, exec *resilience.Executor, logger *slog.Logger) (providers, error) {
	var p providers

	asrBackends := map[string]pipeline.Recognizer{"mock": pipeline.MockRecognizer{}}
	switch cfg.ASR.Provider {
	case "http":
		asrBackends["http"] = pipeline.NewWhisperClient(cfg.ASR.URL, cfg.Audio.SampleRate, cfg.ASR.PoolSize)
	case "funasr":
		asrBackends["funasr"] = pipeline.NewFunASRClient(funasrConfig(cfg.ASR.FunASR, cfg.Audio.SampleRate), logger)
	}
	asr, err := pipeline.NewRouter(asrBackends, "").Route(cfg.ASR.Provider)
	if err != nil {
		return p, fmt.Errorf("asr: %w", err)
	}
	p.recognizer = asr

	agentBackends := map[string]pipeline.AgentEngine{"mock": pipeline.MockAgent{}}
	switch cfg.Agent.Provider {
	case "openai":
		agentBackends["openai"] = pipeline.NewOpenAIAgent(openAIConfig(cfg.Agent.OpenAI))
	case "agents":
		agentBackends["agents"] = pipeline.NewSDKAgent(openAIConfig(cfg.Agent.OpenAI))
	case "gemini":
		agentBackends["gemini"] = pipeline.NewGeminiAgent(geminiConfig(cfg.Agent.Gemini))
	}
	agent, err := pipeline.NewRouter(agentBackends, "").Route(cfg.Agent.Provider)
	if err != nil {
		return p, fmt.Errorf("agent: %w", err)
	}
	p.agent = agent

	ttsBackends := map[string]pipeline.Synthesizer{"mock": pipeline.MockSynthesizer{}}
	switch cfg.TTS.Provider {
	case "http":
		ttsBackends["http"] = pipeline.NewHTTPSynthesizer(cfg.TTS.URL, cfg.TTS.Model, cfg.TTS.Voice, cfg.TTS.PoolSize)
	case "polly":
		ttsBackends["polly"] = pipeline.NewPollySynthesizer(pollyConfig(cfg.TTS.Polly))
	}
	tts, err := pipeline.NewRouter(ttsBackends, "").Route(cfg.TTS.Provider)
	if err != nil {
		return p, fmt.Errorf("tts: %w", err)
	}
	p.synthesizer = tts

	p.targets = []health.Target{
		{Stage: string(resilience.StageASR), Provider: cfg.ASR.Provider, Backend: asr},
		{Stage: string(resilience.StageAgent), Provider: cfg.Agent.Provider, Backend: agent},
		{Stage: string(resilience.StageTTS), Provider: cfg.TTS.Provider, Backend: tts},
	}

	if cfg.TwoPass.Enabled {
		offlineBackends := map[string]pipeline.OfflineRecognizer{"mock": pipeline.MockOfflineRecognizer{}}
		if cfg.TwoPass.Provider == "http" {
			offlineBackends["http"] = pipeline.NewWhisperClient(cfg.TwoPass.URL, cfg.Audio.SampleRate, cfg.ASR.PoolSize)
		}
		decoder, err := pipeline.NewRouter(offlineBackends, "").Route(cfg.TwoPass.Provider)
		if err != nil {
			return p, fmt.Errorf("two pass: %w", err)
		}
		p.twoPass = twopass.NewManager(twoPassConfig(cfg.TwoPass), decoder, exec, logger)
		p.targets = append(p.targets, health.Target{
			Stage:    string(resilience.StageTwoPass),
			Provider: cfg.TwoPass.Provider,
			Backend:  decoder,
		})
	}

	logger.Info("providers selected",
		"asr", cfg.ASR.Provider,
		"agent", cfg.Agent.Provider,
		"tts", cfg.TTS.Provider,
		"two_pass", cfg.TwoPass.Enabled,
	)
	return p, nil
}
