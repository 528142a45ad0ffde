package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Currently open voice sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_sessions_total",
		Help: "Voice sessions accepted since start",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_stage_duration_seconds",
		Help:    "Latency of successful stage calls, retries included",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 1.5, 2.5, 5.0},
	}, []string{"stage"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_stage_errors_total",
		Help: "Errors reported to clients, by stage and code",
	}, []string{"stage", "code"})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_messages_total",
		Help: "Outbound protocol messages by type and state",
	}, []string{"type", "state"})

	Interrupts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_interrupts_total",
		Help: "Synthesis tasks cancelled by barge-in or teardown",
	}, []string{"reason"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_audio_chunks_total",
		Help: "Binary audio frames received",
	})

	SegmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_segment_duration_seconds",
		Help:    "Duration of finalized speech segments",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 12, 15},
	})

	FirstAudioDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_first_audio_seconds",
		Help:    "Time from segment finalize to the first synthesized chunk",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})
)
