package endpointing

// Thresholds is one silence profile.
type Thresholds struct {
	EndSilenceMs int
	MinSilenceMs int
	MergeBackMs  int
}

type Config struct {
	Quiet        Thresholds
	Noisy        Thresholds
	MinSegmentMs int
	MaxSegmentMs int

	// DynamicProfile switches to Noisy once the smoothed share of loud
	// non-speech chunks reaches NoisyScoreThreshold.
	DynamicProfile      bool
	NoisyFrameRMS       float64
	Smoothing           float64
	NoisyScoreThreshold float64
}

func DefaultConfig() Config {
	return Config{
		Quiet:               Thresholds{EndSilenceMs: 800, MinSilenceMs: 300, MergeBackMs: 300},
		Noisy:               Thresholds{EndSilenceMs: 1100, MinSilenceMs: 450, MergeBackMs: 450},
		MinSegmentMs:        1200,
		MaxSegmentMs:        15000,
		DynamicProfile:      true,
		NoisyFrameRMS:       0.02,
		Smoothing:           0.2,
		NoisyScoreThreshold: 0.6,
	}
}

// Engine turns a stream of classified chunks into segment boundaries. It is
// stateless; all mutable state lives in the caller's State and Buffer.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Process advances state by one chunk. rms is the chunk's level after
// preprocessing and only feeds the noise profile.
func (e *Engine) Process(state *State, buf *Buffer, samples []float32, speech bool, chunkMs int, nowMs int64, rms float64) Decision {
	th := e.updateProfile(state, speech, rms)

	if !state.InSpeech && !speech {
		return Decision{Profile: state.ActiveProfile}
	}

	if !state.InSpeech {
		state.Reset()
		state.InSpeech = true
		state.SegmentStartMs = nowMs
	}

	state.SegmentDurationMs += chunkMs
	if speech {
		e.handleSpeech(state, chunkMs, th)
	} else {
		e.handleSilence(state, chunkMs, th)
	}

	buf.Append(samples)

	reason, finalize := e.finalReason(state, th)
	if !finalize {
		return Decision{
			ShouldAppendAudio: true,
			InSpeech:          true,
			SegmentDurationMs: state.SegmentDurationMs,
			SegmentStartMs:    state.SegmentStartMs,
			SegmentEndMs:      nowMs,
			TrailingSilenceMs: state.SilenceMs,
			Profile:           state.ActiveProfile,
		}
	}
	return finish(state, buf, nowMs, reason)
}

// Stop closes the open segment on a manual listen-stop, bypassing the
// silence rules. ok is false when nothing was buffered; state is reset either way.
func (e *Engine) Stop(state *State, buf *Buffer, nowMs int64) (Decision, bool) {
	if buf.Len() == 0 {
		state.Reset()
		return Decision{Profile: state.ActiveProfile}, false
	}
	return finish(state, buf, nowMs, ReasonListenStop), true
}

func (e *Engine) handleSpeech(state *State, chunkMs int, th Thresholds) {
	state.SpeechMs += chunkMs
	state.SilenceMs = 0
	if state.PendingFinalize && state.PendingFinalizeMs <= th.MergeBackMs {
		state.PendingFinalize = false
		state.PendingFinalizeMs = 0
	}
}

func (e *Engine) handleSilence(state *State, chunkMs int, th Thresholds) {
	state.SilenceMs += chunkMs
	if state.SpeechMs >= e.cfg.MinSegmentMs && state.SilenceMs >= th.MinSilenceMs {
		state.PendingFinalize = true
		state.PendingFinalizeMs += chunkMs
	}
}

func (e *Engine) finalReason(state *State, th Thresholds) (FinalReason, bool) {
	if state.SegmentDurationMs >= e.cfg.MaxSegmentMs {
		return ReasonMaxSegment, true
	}
	if state.PendingFinalize && state.SilenceMs >= th.EndSilenceMs {
		return ReasonEndpointing, true
	}
	return "", false
}

func (e *Engine) updateProfile(state *State, speech bool, rms float64) Thresholds {
	if !e.cfg.DynamicProfile {
		state.ActiveProfile = ProfileQuiet
		return e.cfg.Quiet
	}

	target := 0.0
	if !speech && rms >= e.cfg.NoisyFrameRMS {
		target = 1
	}
	state.NoiseScore += e.cfg.Smoothing * (target - state.NoiseScore)

	if state.NoiseScore >= e.cfg.NoisyScoreThreshold {
		state.ActiveProfile = ProfileNoisy
		return e.cfg.Noisy
	}
	state.ActiveProfile = ProfileQuiet
	return e.cfg.Quiet
}

func finish(state *State, buf *Buffer, nowMs int64, reason FinalReason) Decision {
	d := Decision{
		ShouldFinalize:    true,
		SegmentDurationMs: state.SegmentDurationMs,
		SegmentStartMs:    state.SegmentStartMs,
		SegmentEndMs:      nowMs,
		TrailingSilenceMs: state.SilenceMs,
		FinalReason:       reason,
		Profile:           state.ActiveProfile,
		Samples:           buf.Drain(),
	}
	state.Reset()
	return d
}
