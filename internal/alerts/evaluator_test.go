package alerts

import (
	"testing"

	"github.com/hubenschmidt/voice-session-gateway/internal/health"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
)

func TestEvaluate(t *testing.T) {
	snap := metrics.Snapshot{
		Stages: []metrics.StageSnapshot{
			{Stage: "agent", Success: 1, Failure: 3, ErrorRatePct: 75, P95LatencyMs: 3000, Samples: 1},
			{Stage: "asr", Success: 10, ErrorRatePct: 0, P95LatencyMs: 200, Samples: 10},
			{Stage: "twopass", Success: 5, P95LatencyMs: 9000, Samples: 5},
		},
	}
	deps := []health.Status{
		{Stage: "asr", Provider: "mock", Healthy: true},
		{Stage: "tts", Provider: "http", Healthy: false, Detail: "connection refused"},
	}

	got := NewEvaluator(DefaultConfig()).Evaluate(snap, deps)
	if len(got) != 3 {
		t.Fatalf("expected 3 alerts, got %d: %+v", len(got), got)
	}
	if got[0].Rule != RuleStageErrorRate || got[0].Stage != "agent" || got[0].Severity != SeverityWarning {
		t.Fatalf("unexpected first alert %+v", got[0])
	}
	if got[1].Rule != RuleStageLatencyP95 || got[1].Stage != "agent" {
		t.Fatalf("unexpected second alert %+v", got[1])
	}
	if got[2].Rule != RuleDependencyUnhealthy || got[2].Severity != SeverityCritical {
		t.Fatalf("unexpected third alert %+v", got[2])
	}
	if got[2].Message != "tts/http unhealthy: connection refused" {
		t.Fatalf("unexpected message %q", got[2].Message)
	}
}

func TestEvaluateIgnoresIdleStages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorRateWarnPct = 0
	snap := metrics.Snapshot{Stages: []metrics.StageSnapshot{{Stage: "asr"}}}
	if got := NewEvaluator(cfg).Evaluate(snap, nil); len(got) != 0 {
		t.Fatalf("expected no alerts for a stage without traffic, got %+v", got)
	}
}

func TestEvaluateThresholdIsInclusive(t *testing.T) {
	snap := metrics.Snapshot{Stages: []metrics.StageSnapshot{
		{Stage: "tts", Success: 4, Failure: 1, ErrorRatePct: 20, P95LatencyMs: 1500, Samples: 4},
	}}
	if got := NewEvaluator(DefaultConfig()).Evaluate(snap, nil); len(got) != 2 {
		t.Fatalf("expected both rules to fire at the threshold, got %+v", got)
	}
}

func TestEvaluateDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	deps := []health.Status{{Stage: "asr", Provider: "funasr"}}
	if got := NewEvaluator(cfg).Evaluate(metrics.Snapshot{}, deps); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}
