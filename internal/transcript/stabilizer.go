// Package transcript keeps streaming partial hypotheses from flickering and
// cleans up recognizer output before it reaches the client.
package transcript

import (
	"math"
	"strings"
)

type StabilizerConfig struct {
	Enabled bool
	// TailRollbackSeconds and CharsPerSecond together size the tail that a
	// new partial may still rewrite.
	TailRollbackSeconds  float64
	CharsPerSecond       float64
	MinRollbackChars     int
	MinFrozenPrefixChars int
	MaxTailRewriteChars  int
}

func DefaultStabilizerConfig() StabilizerConfig {
	return StabilizerConfig{
		Enabled:             true,
		TailRollbackSeconds: 2,
		CharsPerSecond:      4,
		MinRollbackChars:    8,
		MaxTailRewriteChars: 12,
	}
}

// Stabilizer is stateless; the previous partial is supplied by the caller.
type Stabilizer struct {
	enabled    bool
	rollback   int
	minFrozen  int
	maxRewrite int
}

func NewStabilizer(cfg StabilizerConfig) *Stabilizer {
	rollback := int(math.Round(cfg.TailRollbackSeconds * cfg.CharsPerSecond))
	return &Stabilizer{
		enabled:    cfg.Enabled,
		rollback:   max(cfg.MinRollbackChars, rollback),
		minFrozen:  max(0, cfg.MinFrozenPrefixChars),
		maxRewrite: max(1, cfg.MaxTailRewriteChars),
	}
}

// Stabilize returns the partial to show given the last one shown and the
// recognizer's newest hypothesis. Lengths are measured in runes.
func (s *Stabilizer) Stabilize(previous, current string) string {
	if !s.enabled || isBlank(previous) {
		return current
	}
	if isBlank(current) {
		return previous
	}

	prev := []rune(previous)
	cur := []rune(current)

	frozenLen := min(len(prev), max(s.minFrozen, len(prev)-s.rollback))
	frozen := prev[:frozenLen]
	if hasRunePrefix(cur, frozen) {
		return current
	}

	common := commonPrefix(prev, cur)
	if (len(prev)-common)+(len(cur)-common) > s.maxRewrite {
		return previous
	}
	if common >= frozenLen {
		return current
	}
	return string(frozen) + string(cur[common:])
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func hasRunePrefix(s, prefix []rune) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

func commonPrefix(a, b []rune) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
