package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hubenschmidt/voice-session-gateway/internal/env"
	"github.com/hubenschmidt/voice-session-gateway/internal/prompts"
)

type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Log         LogConfig         `yaml:"log"`
	Audio       AudioConfig       `yaml:"audio"`
	Endpointing EndpointingConfig `yaml:"endpointing"`
	Transcript  TranscriptConfig  `yaml:"transcript"`
	TwoPass     TwoPassConfig     `yaml:"two_pass"`
	ASR         ASRConfig         `yaml:"asr"`
	Agent       AgentConfig       `yaml:"agent"`
	TTS         TTSConfig         `yaml:"tts"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Trace       TraceConfig       `yaml:"trace"`
	Bus         BusConfig         `yaml:"bus"`
}

type HTTPConfig struct {
	Port                  string `yaml:"port"`
	MaxConcurrentSessions int    `yaml:"max_concurrent_sessions"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type AudioConfig struct {
	SampleRate              int     `yaml:"sample_rate"`
	ChunkMs                 int     `yaml:"chunk_ms"`
	AdaptiveVADEnabled      bool    `yaml:"adaptive_vad_enabled"`
	AdaptiveVADFloor        float64 `yaml:"adaptive_vad_floor"`
	AdaptiveVADMultiplier   float64 `yaml:"adaptive_vad_multiplier"`
	AdaptiveVADWindowFrames int     `yaml:"adaptive_vad_window_frames"`
}

type ProfileConfig struct {
	EndSilenceMs int `yaml:"end_silence_ms"`
	MinSilenceMs int `yaml:"min_silence_ms"`
	MergeBackMs  int `yaml:"merge_back_ms"`
}

type EndpointingConfig struct {
	EndSilenceMs        int           `yaml:"end_silence_ms"`
	MinSegmentMs        int           `yaml:"min_segment_ms"`
	MinSilenceMs        int           `yaml:"min_silence_ms"`
	MergeBackMs         int           `yaml:"merge_back_ms"`
	MaxSegmentMs        int           `yaml:"max_segment_ms"`
	EnergyThreshold     float64       `yaml:"energy_threshold"`
	DynamicProfile      bool          `yaml:"dynamic_profile"`
	NoisyFrameRMS       float64       `yaml:"noisy_frame_rms"`
	NoiseSmoothing      float64       `yaml:"noise_smoothing"`
	NoisyScoreThreshold float64       `yaml:"noisy_score_threshold"`
	Noisy               ProfileConfig `yaml:"noisy"`
}

type TranscriptConfig struct {
	StabilityEnabled     bool    `yaml:"stability_enabled"`
	TailRollbackSeconds  float64 `yaml:"tail_rollback_seconds"`
	CharsPerSecond       float64 `yaml:"chars_per_second"`
	MinRollbackChars     int     `yaml:"min_rollback_chars"`
	MinFrozenPrefixChars int     `yaml:"min_frozen_prefix_chars"`
	MaxTailRewriteChars  int     `yaml:"max_tail_rewrite_chars"`
	Normalize            bool    `yaml:"normalize"`
	Punctuate            bool    `yaml:"punctuate"`
}

type TwoPassConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Provider       string `yaml:"provider"`
	URL            string `yaml:"url"`
	WindowSegments int    `yaml:"window_segments"`
	WindowSeconds  int    `yaml:"window_seconds"`
	PrefixLock     bool   `yaml:"prefix_lock"`
	MinSegmentMs   int    `yaml:"min_segment_ms"`
}

type FunASRConfig struct {
	URL              string `yaml:"url"`
	Mode             string `yaml:"mode"`
	ChunkSize        []int  `yaml:"chunk_size"`
	ChunkInterval    int    `yaml:"chunk_interval"`
	ReceiveTimeoutMs int    `yaml:"receive_timeout_ms"`
	FinalTimeoutMs   int    `yaml:"final_timeout_ms"`
	ITN              bool   `yaml:"itn"`
}

type ASRConfig struct {
	Provider string       `yaml:"provider"`
	URL      string       `yaml:"url"`
	PoolSize int          `yaml:"pool_size"`
	FunASR   FunASRConfig `yaml:"funasr"`
}

type OpenAIConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type AgentConfig struct {
	Provider        string       `yaml:"provider"`
	SystemPrompt    string       `yaml:"system_prompt"`
	MaxHistoryTurns int          `yaml:"max_history_turns"`
	FallbackEnabled bool         `yaml:"fallback_enabled"`
	FallbackText    string       `yaml:"fallback_text"`
	OpenAI          OpenAIConfig `yaml:"openai"`
	Gemini          GeminiConfig `yaml:"gemini"`
}

type PollyConfig struct {
	Region  string `yaml:"region"`
	VoiceID string `yaml:"voice_id"`
	Engine  string `yaml:"engine"`
}

type TTSConfig struct {
	Provider   string      `yaml:"provider"`
	SampleRate int         `yaml:"sample_rate"`
	ChunkMs    int         `yaml:"chunk_ms"`
	URL        string      `yaml:"url"`
	Model      string      `yaml:"model"`
	Voice      string      `yaml:"voice"`
	PoolSize   int         `yaml:"pool_size"`
	Polly      PollyConfig `yaml:"polly"`
}

type StageConfig struct {
	TimeoutMs                 int `yaml:"timeout_ms"`
	RetryCount                int `yaml:"retry_count"`
	CircuitBreakFailures      int `yaml:"circuit_break_failures"`
	CircuitBreakWindowSeconds int `yaml:"circuit_break_window_seconds"`
}

type ResilienceConfig struct {
	ASR     StageConfig `yaml:"asr"`
	Agent   StageConfig `yaml:"agent"`
	TTS     StageConfig `yaml:"tts"`
	TwoPass StageConfig `yaml:"two_pass"`
}

type AlertsConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ErrorRateWarnPct float64 `yaml:"error_rate_warn_pct"`
	ASRP95WarnMs     float64 `yaml:"asr_p95_warn_ms"`
	AgentP95WarnMs   float64 `yaml:"agent_p95_warn_ms"`
	TTSP95WarnMs     float64 `yaml:"tts_p95_warn_ms"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Exporter     string `yaml:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type TraceConfig struct {
	DatabaseURL string `yaml:"database_url"`
	MaxSessions int    `yaml:"max_sessions"`
}

type BusConfig struct {
	Servers          []string `yaml:"servers"`
	SubjectPrefix    string   `yaml:"subject_prefix"`
	Token            string   `yaml:"token"`
	ConnectTimeoutMs int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:                  "8000",
			MaxConcurrentSessions: 100,
		},
		Log: LogConfig{Level: "info"},
		Audio: AudioConfig{
			SampleRate:              16000,
			ChunkMs:                 320,
			AdaptiveVADFloor:        0.004,
			AdaptiveVADMultiplier:   3.0,
			AdaptiveVADWindowFrames: 20,
		},
		Endpointing: EndpointingConfig{
			EndSilenceMs:        800,
			MinSegmentMs:        1200,
			MinSilenceMs:        300,
			MergeBackMs:         300,
			MaxSegmentMs:        15000,
			EnergyThreshold:     0.012,
			DynamicProfile:      true,
			NoisyFrameRMS:       0.02,
			NoiseSmoothing:      0.2,
			NoisyScoreThreshold: 0.6,
			Noisy: ProfileConfig{
				EndSilenceMs: 1100,
				MinSilenceMs: 450,
				MergeBackMs:  450,
			},
		},
		Transcript: TranscriptConfig{
			StabilityEnabled:    true,
			TailRollbackSeconds: 2,
			CharsPerSecond:      4,
			MinRollbackChars:    8,
			MaxTailRewriteChars: 12,
			Normalize:           true,
			Punctuate:           true,
		},
		TwoPass: TwoPassConfig{
			Provider:       "mock",
			WindowSegments: 3,
			WindowSeconds:  12,
			PrefixLock:     true,
			MinSegmentMs:   800,
		},
		ASR: ASRConfig{
			Provider: "mock",
			PoolSize: 50,
			FunASR: FunASRConfig{
				Mode:             "2pass",
				ChunkSize:        []int{5, 10, 5},
				ChunkInterval:    10,
				ReceiveTimeoutMs: 120,
				FinalTimeoutMs:   2000,
				ITN:              true,
			},
		},
		Agent: AgentConfig{
			Provider:        "mock",
			SystemPrompt:    prompts.DefaultSystem,
			MaxHistoryTurns: 8,
			FallbackEnabled: true,
			FallbackText:    prompts.DefaultFallback,
			OpenAI: OpenAIConfig{
				BaseURL:     "https://api.openai.com/v1",
				Model:       "gpt-4o-mini",
				Temperature: 0.6,
				MaxTokens:   256,
			},
			Gemini: GeminiConfig{
				Model:     "gemini-2.0-flash",
				MaxTokens: 256,
			},
		},
		TTS: TTSConfig{
			Provider:   "mock",
			SampleRate: 16000,
			ChunkMs:    200,
			Model:      "kokoro",
			Voice:      "af_heart",
			PoolSize:   50,
			Polly: PollyConfig{
				Region:  "us-east-1",
				VoiceID: "Joanna",
				Engine:  "neural",
			},
		},
		Resilience: ResilienceConfig{
			ASR:     StageConfig{TimeoutMs: 3000, RetryCount: 0, CircuitBreakFailures: 3, CircuitBreakWindowSeconds: 30},
			Agent:   StageConfig{TimeoutMs: 3000, RetryCount: 1, CircuitBreakFailures: 3, CircuitBreakWindowSeconds: 30},
			TTS:     StageConfig{TimeoutMs: 3000, RetryCount: 0, CircuitBreakFailures: 3, CircuitBreakWindowSeconds: 30},
			TwoPass: StageConfig{TimeoutMs: 5000, RetryCount: 0, CircuitBreakFailures: 3, CircuitBreakWindowSeconds: 30},
		},
		Alerts: AlertsConfig{
			Enabled:          true,
			ErrorRateWarnPct: 20,
			ASRP95WarnMs:     1500,
			AgentP95WarnMs:   2500,
			TTSP95WarnMs:     1500,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "voice-session-gateway",
			Exporter:     "none",
			OTLPInsecure: true,
		},
		Trace: TraceConfig{
			MaxSessions: 100,
		},
		Bus: BusConfig{
			SubjectPrefix:    "voice.sessions",
			ConnectTimeoutMs: 2000,
		},
	}
}

// Load reads the YAML file at path (optional), applies VOICE_* environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.HTTP.Port = env.Str("GATEWAY_PORT", cfg.HTTP.Port)
	cfg.HTTP.MaxConcurrentSessions = env.Int("VOICE_MAX_CONCURRENT_SESSIONS", cfg.HTTP.MaxConcurrentSessions)
	cfg.Log.Level = env.Str("VOICE_LOG_LEVEL", cfg.Log.Level)

	cfg.Audio.SampleRate = env.Int("VOICE_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.AdaptiveVADEnabled = env.Bool("VOICE_ADAPTIVE_VAD_ENABLED", cfg.Audio.AdaptiveVADEnabled)

	cfg.Endpointing.EndSilenceMs = env.Int("VOICE_END_SILENCE_MS", cfg.Endpointing.EndSilenceMs)
	cfg.Endpointing.MinSegmentMs = env.Int("VOICE_MIN_SEGMENT_MS", cfg.Endpointing.MinSegmentMs)
	cfg.Endpointing.MinSilenceMs = env.Int("VOICE_MIN_SILENCE_MS", cfg.Endpointing.MinSilenceMs)
	cfg.Endpointing.MergeBackMs = env.Int("VOICE_MERGE_BACK_MS", cfg.Endpointing.MergeBackMs)
	cfg.Endpointing.MaxSegmentMs = env.Int("VOICE_MAX_SEGMENT_MS", cfg.Endpointing.MaxSegmentMs)
	cfg.Endpointing.EnergyThreshold = env.Float("VOICE_ENERGY_THRESHOLD", cfg.Endpointing.EnergyThreshold)
	cfg.Endpointing.DynamicProfile = env.Bool("VOICE_DYNAMIC_PROFILE", cfg.Endpointing.DynamicProfile)

	cfg.Transcript.StabilityEnabled = env.Bool("VOICE_STABILITY_ENABLED", cfg.Transcript.StabilityEnabled)
	cfg.Transcript.TailRollbackSeconds = env.Float("VOICE_TAIL_ROLLBACK_SECONDS", cfg.Transcript.TailRollbackSeconds)
	cfg.Transcript.MaxTailRewriteChars = env.Int("VOICE_MAX_TAIL_REWRITE_CHARS", cfg.Transcript.MaxTailRewriteChars)

	cfg.TwoPass.Enabled = env.Bool("VOICE_TWO_PASS_ENABLED", cfg.TwoPass.Enabled)
	cfg.TwoPass.Provider = env.Str("VOICE_TWO_PASS_PROVIDER", cfg.TwoPass.Provider)
	cfg.TwoPass.URL = env.Str("VOICE_TWO_PASS_URL", cfg.TwoPass.URL)

	cfg.ASR.Provider = env.Str("VOICE_ASR_PROVIDER", cfg.ASR.Provider)
	cfg.ASR.URL = env.Str("VOICE_ASR_URL", cfg.ASR.URL)
	cfg.ASR.FunASR.URL = env.Str("VOICE_FUNASR_URL", cfg.ASR.FunASR.URL)

	cfg.Agent.Provider = env.Str("VOICE_AGENT_PROVIDER", cfg.Agent.Provider)
	cfg.Agent.SystemPrompt = env.Str("VOICE_AGENT_SYSTEM_PROMPT", cfg.Agent.SystemPrompt)
	cfg.Agent.MaxHistoryTurns = env.Int("VOICE_AGENT_MAX_HISTORY_TURNS", cfg.Agent.MaxHistoryTurns)
	cfg.Agent.FallbackEnabled = env.Bool("VOICE_AGENT_FALLBACK_ENABLED", cfg.Agent.FallbackEnabled)
	cfg.Agent.OpenAI.BaseURL = env.Str("VOICE_OPENAI_BASE_URL", cfg.Agent.OpenAI.BaseURL)
	cfg.Agent.OpenAI.APIKey = env.Str("OPENAI_API_KEY", cfg.Agent.OpenAI.APIKey)
	cfg.Agent.OpenAI.Model = env.Str("VOICE_OPENAI_MODEL", cfg.Agent.OpenAI.Model)
	cfg.Agent.Gemini.APIKey = env.Str("GEMINI_API_KEY", cfg.Agent.Gemini.APIKey)
	cfg.Agent.Gemini.Model = env.Str("VOICE_GEMINI_MODEL", cfg.Agent.Gemini.Model)

	cfg.TTS.Provider = env.Str("VOICE_TTS_PROVIDER", cfg.TTS.Provider)
	cfg.TTS.URL = env.Str("VOICE_TTS_URL", cfg.TTS.URL)
	cfg.TTS.SampleRate = env.Int("VOICE_TTS_SAMPLE_RATE", cfg.TTS.SampleRate)
	cfg.TTS.ChunkMs = env.Int("VOICE_TTS_CHUNK_MS", cfg.TTS.ChunkMs)
	cfg.TTS.Polly.Region = env.Str("AWS_REGION", cfg.TTS.Polly.Region)
	cfg.TTS.Polly.VoiceID = env.Str("VOICE_POLLY_VOICE", cfg.TTS.Polly.VoiceID)

	cfg.Resilience.ASR.TimeoutMs = env.Int("VOICE_ASR_TIMEOUT_MS", cfg.Resilience.ASR.TimeoutMs)
	cfg.Resilience.Agent.TimeoutMs = env.Int("VOICE_AGENT_TIMEOUT_MS", cfg.Resilience.Agent.TimeoutMs)
	cfg.Resilience.TTS.TimeoutMs = env.Int("VOICE_TTS_TIMEOUT_MS", cfg.Resilience.TTS.TimeoutMs)

	cfg.Alerts.Enabled = env.Bool("VOICE_ALERTS_ENABLED", cfg.Alerts.Enabled)

	cfg.Telemetry.Exporter = env.Str("VOICE_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.OTLPEndpoint = env.Str("VOICE_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)

	cfg.Trace.DatabaseURL = env.Str("TRACE_DATABASE_URL", cfg.Trace.DatabaseURL)

	cfg.Bus.Servers = env.List("VOICE_NATS_SERVERS", cfg.Bus.Servers)
	cfg.Bus.SubjectPrefix = env.Str("VOICE_NATS_SUBJECT_PREFIX", cfg.Bus.SubjectPrefix)
	cfg.Bus.Token = env.Str("VOICE_NATS_TOKEN", cfg.Bus.Token)
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.HTTP.Port) == "" {
		return errors.New("http.port must not be empty")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.ChunkMs <= 0 {
		return errors.New("tts.chunk_ms must be positive")
	}
	if cfg.Endpointing.MaxSegmentMs <= 0 {
		return errors.New("endpointing.max_segment_ms must be positive")
	}
	if cfg.Endpointing.NoiseSmoothing < 0 || cfg.Endpointing.NoiseSmoothing > 1 {
		return errors.New("endpointing.noise_smoothing must be within [0,1]")
	}
	if err := oneOf("asr.provider", cfg.ASR.Provider, "mock", "http", "funasr"); err != nil {
		return err
	}
	if cfg.ASR.Provider == "http" && cfg.ASR.URL == "" {
		return errors.New("asr.url must be set when provider=http")
	}
	if cfg.ASR.Provider == "funasr" && cfg.ASR.FunASR.URL == "" {
		return errors.New("asr.funasr.url must be set when provider=funasr")
	}
	if err := oneOf("agent.provider", cfg.Agent.Provider, "mock", "openai", "agents", "gemini"); err != nil {
		return err
	}
	if err := oneOf("tts.provider", cfg.TTS.Provider, "mock", "http", "polly"); err != nil {
		return err
	}
	if cfg.TTS.Provider == "http" && cfg.TTS.URL == "" {
		return errors.New("tts.url must be set when provider=http")
	}
	if cfg.TwoPass.Enabled {
		if err := oneOf("two_pass.provider", cfg.TwoPass.Provider, "mock", "http"); err != nil {
			return err
		}
		if cfg.TwoPass.Provider == "http" && cfg.TwoPass.URL == "" {
			return errors.New("two_pass.url must be set when provider=http")
		}
	}
	for name, st := range map[string]StageConfig{
		"asr":      cfg.Resilience.ASR,
		"agent":    cfg.Resilience.Agent,
		"tts":      cfg.Resilience.TTS,
		"two_pass": cfg.Resilience.TwoPass,
	} {
		if st.TimeoutMs <= 0 {
			return fmt.Errorf("resilience.%s.timeout_ms must be positive", name)
		}
		if st.RetryCount < 0 {
			return fmt.Errorf("resilience.%s.retry_count must be >= 0", name)
		}
	}
	if err := oneOf("telemetry.exporter", cfg.Telemetry.Exporter, "none", "stdout", "otlp"); err != nil {
		return err
	}
	if cfg.Telemetry.Exporter == "otlp" && cfg.Telemetry.OTLPEndpoint == "" {
		return errors.New("telemetry.otlp_endpoint must be set when exporter=otlp")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s", field, strings.Join(allowed, "|"))
}
