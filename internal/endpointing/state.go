package endpointing

// Profile names the silence thresholds currently in force.
type Profile string

const (
	ProfileQuiet Profile = "quiet"
	ProfileNoisy Profile = "noisy"
)

// FinalReason records why a segment was closed.
type FinalReason string

const (
	ReasonEndpointing FinalReason = "endpointing"
	ReasonMaxSegment  FinalReason = "max_segment"
	ReasonListenStop  FinalReason = "listen_stop"
)

// State is the per-session segmenter state. It is owned by the session loop
// and never shared between goroutines.
type State struct {
	InSpeech          bool
	PendingFinalize   bool
	SegmentDurationMs int
	SpeechMs          int
	SilenceMs         int
	PendingFinalizeMs int
	SegmentStartMs    int64

	// Survive Reset.
	ActiveProfile Profile
	NoiseScore    float64
}

func NewState() *State {
	return &State{ActiveProfile: ProfileQuiet}
}

// Reset clears every per-segment field in one step.
func (s *State) Reset() {
	s.InSpeech = false
	s.PendingFinalize = false
	s.SegmentDurationMs = 0
	s.SpeechMs = 0
	s.SilenceMs = 0
	s.PendingFinalizeMs = 0
	s.SegmentStartMs = 0
}

// Decision is the immutable outcome of one Process call.
type Decision struct {
	ShouldAppendAudio bool
	ShouldFinalize    bool
	InSpeech          bool
	SegmentDurationMs int
	SegmentStartMs    int64
	SegmentEndMs      int64
	TrailingSilenceMs int
	FinalReason       FinalReason
	Profile           Profile

	// Samples holds the drained segment audio, set only when finalizing.
	Samples []float32
}

// Buffer accumulates the samples of the open segment.
type Buffer struct {
	samples []float32
}

func (b *Buffer) Append(samples []float32) {
	b.samples = append(b.samples, samples...)
}

func (b *Buffer) Len() int { return len(b.samples) }

// Snapshot copies the accumulated samples without draining them.
func (b *Buffer) Snapshot() []float32 {
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	return out
}

// Drain hands over the accumulated samples and empties the buffer.
func (b *Buffer) Drain() []float32 {
	out := b.samples
	b.samples = nil
	return out
}
