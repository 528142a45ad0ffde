// Package alerts derives operator alerts from a metrics snapshot and the
// latest dependency health results. Evaluation keeps no state.
package alerts

import (
	"fmt"

	"github.com/hubenschmidt/voice-session-gateway/internal/health"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
)

const (
	RuleStageErrorRate      = "stage_error_rate"
	RuleStageLatencyP95     = "stage_latency_p95"
	RuleDependencyUnhealthy = "dependency_unhealthy"

	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

type Alert struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Stage    string `json:"stage,omitempty"`
}

type Config struct {
	Enabled          bool
	ErrorRateWarnPct float64
	// P95WarnMs maps stage name to a latency threshold; zero or missing
	// disables the latency rule for that stage.
	P95WarnMs map[string]float64
}

func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		ErrorRateWarnPct: 20,
		P95WarnMs: map[string]float64{
			"asr":   1500,
			"agent": 2500,
			"tts":   1500,
		},
	}
}

type Evaluator struct {
	cfg Config
}

func NewEvaluator(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Evaluate(snap metrics.Snapshot, deps []health.Status) []Alert {
	if !e.cfg.Enabled {
		return nil
	}

	alerts := []Alert{}
	for _, st := range snap.Stages {
		if st.Total() > 0 && st.ErrorRatePct >= e.cfg.ErrorRateWarnPct {
			alerts = append(alerts, Alert{
				Rule:     RuleStageErrorRate,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%s error rate %.2f%% >= %.2f%%", st.Stage, st.ErrorRatePct, e.cfg.ErrorRateWarnPct),
				Stage:    st.Stage,
			})
		}
		threshold := e.cfg.P95WarnMs[st.Stage]
		if threshold > 0 && st.Samples > 0 && st.P95LatencyMs >= threshold {
			alerts = append(alerts, Alert{
				Rule:     RuleStageLatencyP95,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%s p95 %.0fms >= %.0fms", st.Stage, st.P95LatencyMs, threshold),
				Stage:    st.Stage,
			})
		}
	}

	for _, d := range deps {
		if d.Healthy {
			continue
		}
		alerts = append(alerts, Alert{
			Rule:     RuleDependencyUnhealthy,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%s/%s unhealthy: %s", d.Stage, d.Provider, d.Detail),
			Stage:    d.Stage,
		})
	}
	return alerts
}
