package analyzer

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/hanrai/VoiceShow/internal/audio"
)

var (
	// ErrExtraction is the parent of every per-frame extraction failure.
	ErrExtraction = errors.New("feature extraction failed")
	// ErrNoSignal marks empty frames and frames below the silence floor.
	ErrNoSignal = fmt.Errorf("%w: no signal", ErrExtraction)
	// ErrNonFinite marks frames producing NaN or infinite features.
	ErrNonFinite = fmt.Errorf("%w: non-finite feature", ErrExtraction)
)

// Config controls Extractor behaviour.
type Config struct {
	// SilenceFloor is the peak amplitude a frame must exceed to count as signal.
	SilenceFloor  float64 `yaml:"silence_floor" json:"silenceFloor"`
	NumMelFilters int     `yaml:"mel_filters" json:"melFilters"`
	MinFFTSize    int     `yaml:"min_fft_size" json:"minFFTSize"`
	MaxFFTSize    int     `yaml:"max_fft_size" json:"maxFFTSize"`
	// LoudnessFloor clamps the dBFS loudness from below; the ceiling is 0 dB.
	LoudnessFloor  float64 `yaml:"loudness_floor" json:"loudnessFloor"`
	PitchMinHz     float64 `yaml:"pitch_min_hz" json:"pitchMinHz"`
	PitchMaxHz     float64 `yaml:"pitch_max_hz" json:"pitchMaxHz"`
	PitchThreshold float64 `yaml:"pitch_threshold" json:"pitchThreshold"`
	// RolloffFraction is the share of spectral energy below the rolloff point.
	RolloffFraction float64 `yaml:"rolloff_fraction" json:"rolloffFraction"`
}

// DefaultConfig suits 2048-sample frames with loudness reported in -100..0 dB.
func DefaultConfig() Config {
	return Config{
		SilenceFloor:    0.001,
		NumMelFilters:   26,
		MinFFTSize:      256,
		MaxFFTSize:      4096,
		LoudnessFloor:   -100,
		PitchMinHz:      60,
		PitchMaxHz:      1000,
		PitchThreshold:  0.3,
		RolloffFraction: 0.85,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SilenceFloor <= 0 {
		c.SilenceFloor = d.SilenceFloor
	}
	if c.NumMelFilters <= 0 {
		c.NumMelFilters = d.NumMelFilters
	}
	if c.MinFFTSize <= 0 {
		c.MinFFTSize = d.MinFFTSize
	}
	if c.MaxFFTSize < c.MinFFTSize {
		c.MaxFFTSize = max(d.MaxFFTSize, c.MinFFTSize)
	}
	c.MinFFTSize = nextPow2(c.MinFFTSize)
	c.MaxFFTSize = nextPow2(c.MaxFFTSize)
	if c.LoudnessFloor >= 0 {
		c.LoudnessFloor = d.LoudnessFloor
	}
	if c.PitchMinHz <= 0 {
		c.PitchMinHz = d.PitchMinHz
	}
	if c.PitchMaxHz <= c.PitchMinHz {
		c.PitchMaxHz = max(d.PitchMaxHz, c.PitchMinHz*2)
	}
	if c.PitchThreshold <= 0 {
		c.PitchThreshold = d.PitchThreshold
	}
	if c.RolloffFraction <= 0 || c.RolloffFraction > 1 {
		c.RolloffFraction = d.RolloffFraction
	}
	return c
}

// Extractor turns frames into FeatureVectors. It keeps scratch buffers
// between calls and is not safe for concurrent use.
type Extractor struct {
	cfg Config

	buffer   []float64
	mag      []float64
	window   []float64
	provided []float64
	bank     *melBank
}

// New creates an Extractor; zero or invalid Config fields fall back to DefaultConfig.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes the feature vector of one frame. Failures wrap
// ErrExtraction: ErrNoSignal for empty or silent frames, ErrNonFinite when a
// feature comes out NaN or infinite.
func (e *Extractor) Extract(frame audio.Frame) (FeatureVector, error) {
	samples := frame.Samples
	if len(samples) < 2 {
		return FeatureVector{}, ErrNoSignal
	}
	if frame.SampleRate <= 0 {
		return FeatureVector{}, fmt.Errorf("%w: sample rate %v", ErrExtraction, frame.SampleRate)
	}

	peak := 0.0
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return FeatureVector{}, fmt.Errorf("%w: sample=%v", ErrNonFinite, s)
		}
		peak = math.Max(peak, math.Abs(s))
	}
	if peak <= e.cfg.SilenceFloor || peak == 0 {
		return FeatureVector{}, ErrNoSignal
	}

	var fv FeatureVector
	fv.RMS = rms(samples)
	fv.Energy = fv.RMS * fv.RMS * 255
	fv.ZCR = zeroCrossingRate(samples, frame.SampleRate)
	fv.Loudness = loudness(fv.RMS, e.cfg.LoudnessFloor)
	fv.Pitch = estimatePitch(samples, frame.SampleRate, e.cfg.PitchMinHz, e.cfg.PitchMaxHz, e.cfg.PitchThreshold)

	spec := e.magnitudes(frame)
	fv.SpectralCentroid = centroid(spec)
	fv.SpectralRolloff = rolloff(spec, e.cfg.RolloffFraction)

	if !e.bank.matches(len(spec.mag), spec.binHz) {
		e.bank = newMelBank(len(spec.mag), spec.binHz, e.cfg.NumMelFilters, NumMFCC)
	}
	e.bank.coefficients(spec.mag, fv.MFCC[:])

	if err := fv.Validate(); err != nil {
		return FeatureVector{}, err
	}
	return fv, nil
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(samples, samples) / float64(len(samples)))
}

// zeroCrossingRate counts sign changes and reports them per second.
func zeroCrossingRate(samples []float64, sampleRate float64) float64 {
	if len(samples) < 2 || sampleRate <= 0 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	seconds := float64(len(samples)) / sampleRate
	return float64(crossings) / seconds
}

// loudness is RMS expressed in dBFS, clamped to [floor, 0].
func loudness(rmsValue, floor float64) float64 {
	if rmsValue <= 0 {
		return floor
	}
	return clamp(20*math.Log10(rmsValue), floor, 0)
}

// estimatePitch picks the strongest normalised autocorrelation peak between
// the lags of maxHz and minHz, past the first negative lobe. It returns 0
// when no peak reaches threshold.
func estimatePitch(samples []float64, sampleRate, minHz, maxHz, threshold float64) float64 {
	n := len(samples)
	minLag := int(sampleRate / maxHz)
	maxLag := int(sampleRate / minHz)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag >= maxLag {
		return 0
	}

	energy := floats.Dot(samples, samples)
	if energy <= 0 {
		return 0
	}

	ac := func(lag int) float64 {
		return floats.Dot(samples[:n-lag], samples[lag:]) / energy
	}

	start := minLag
	for lag := 1; lag <= maxLag; lag++ {
		if ac(lag) < 0 {
			start = max(lag, minLag)
			break
		}
	}

	best, bestLag := 0.0, 0
	for lag := start; lag <= maxLag; lag++ {
		if r := ac(lag); r > best {
			best, bestLag = r, lag
		}
	}
	if bestLag == 0 || best < threshold {
		return 0
	}
	return sampleRate / float64(bestLag)
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
