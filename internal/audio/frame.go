package audio

import "time"

// DefaultFrameSize is the window length used when a source is given none.
const DefaultFrameSize = 2048

// Scale describes the unit of a frame's frequency magnitudes.
type Scale int

const (
	// ScaleLinear magnitudes are plain |X(k)| values.
	ScaleLinear Scale = iota
	// ScaleDecibel magnitudes are 20*log10(|X(k)|), as produced by analyser-style sources.
	ScaleDecibel
)

func (s Scale) String() string {
	switch s {
	case ScaleDecibel:
		return "dB"
	default:
		return "linear"
	}
}

// Frame is one capture tick: a window of mono time-domain samples and an
// optional frequency magnitude spectrum of the same window.
type Frame struct {
	Samples    []float64
	Magnitudes []float64
	Scale      Scale
	SampleRate float64
	Timestamp  time.Time
}

// Len returns the number of time-domain samples.
func (f Frame) Len() int {
	return len(f.Samples)
}

// Duration is the time span covered by the samples.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(f.Samples)) / f.SampleRate * float64(time.Second))
}

// Source delivers frames at the host's cadence. Generation increments every
// time the underlying stream restarts so consumers can drop stale state.
type Source interface {
	Frame() (Frame, bool)
	SampleRate() float64
	Generation() uint64
	Close() error
}
