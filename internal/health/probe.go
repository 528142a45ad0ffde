// Package health probes the configured stage providers for /healthz and the
// alert evaluator.
package health

import (
	"context"
	"sync"
	"time"
)

// Checker is implemented by providers that can verify their backend. The
// returned detail is shown to operators on success.
type Checker interface {
	CheckHealth(ctx context.Context) (detail string, err error)
}

type Status struct {
	Stage     string `json:"stage"`
	Provider  string `json:"provider"`
	Healthy   bool   `json:"healthy"`
	LatencyMs int64  `json:"latencyMs"`
	Detail    string `json:"detail,omitempty"`
}

// Target is one provider to probe. Backend is checked for Checker at probe time.
type Target struct {
	Stage    string
	Provider string
	Backend  any
}

type Probe struct {
	targets []Target
	timeout time.Duration
}

func NewProbe(timeout time.Duration, targets ...Target) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Probe{targets: targets, timeout: timeout}
}

// Check probes every target concurrently and returns statuses in target order.
// Targets whose backend cannot be probed are left out: their health is unknown.
func (p *Probe) Check(ctx context.Context) []Status {
	out := make([]Status, len(p.targets))
	probed := make([]bool, len(p.targets))
	var wg sync.WaitGroup
	for i, t := range p.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i], probed[i] = p.check(ctx, t)
		}()
	}
	wg.Wait()

	statuses := out[:0]
	for i, st := range out {
		if probed[i] {
			statuses = append(statuses, st)
		}
	}
	return statuses
}

func (p *Probe) check(ctx context.Context, t Target) (Status, bool) {
	st := Status{Stage: t.Stage, Provider: t.Provider}
	if t.Provider == "mock" {
		st.Healthy = true
		st.Detail = "mock provider"
		return st, true
	}

	checker, ok := t.Backend.(Checker)
	if !ok {
		return st, false
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	detail, err := checker.CheckHealth(ctx)
	st.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		st.Detail = err.Error()
		return st, true
	}
	st.Healthy = true
	st.Detail = detail
	return st, true
}

// AllHealthy reports whether every status is healthy.
func AllHealthy(statuses []Status) bool {
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
