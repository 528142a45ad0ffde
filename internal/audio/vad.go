package audio

import "sync"

// VADConfig controls the energy gate. With Adaptive set the threshold follows
// a slowly tracked noise floor instead of the fixed EnergyThreshold.
type VADConfig struct {
	EnergyThreshold float64
	Adaptive        bool
	Floor           float64
	Multiplier      float64
	WindowFrames    int
}

// DefaultVADConfig matches the endpointing defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold: 0.012,
		Floor:           0.004,
		Multiplier:      3.0,
		WindowFrames:    20,
	}
}

// VAD is an energy-based voice activity detector. It is safe for concurrent
// use, but each session should own one since the noise estimate is stateful.
type VAD struct {
	cfg VADConfig

	mu      sync.Mutex
	history []float64
	noise   float64
}

func NewVAD(cfg VADConfig) *VAD {
	return &VAD{
		cfg:   cfg,
		noise: max(1e-5, cfg.Floor),
	}
}

// IsSpeech reports whether the chunk's RMS clears the current threshold.
func (v *VAD) IsSpeech(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}
	rms := RMS(samples)
	threshold := v.cfg.EnergyThreshold
	if v.cfg.Adaptive {
		threshold = v.adaptiveThreshold(rms)
	}
	return rms >= threshold
}

func (v *VAD) adaptiveThreshold(rms float64) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.history = append(v.history, rms)
	if limit := max(4, v.cfg.WindowFrames); len(v.history) > limit {
		v.history = v.history[len(v.history)-limit:]
	}

	lowest := v.history[0]
	for _, e := range v.history[1:] {
		lowest = min(lowest, e)
	}

	v.noise = 0.98*v.noise + 0.02*lowest
	adaptive := max(v.cfg.Floor, v.noise*v.cfg.Multiplier)
	return max(v.cfg.EnergyThreshold*0.5, adaptive)
}
