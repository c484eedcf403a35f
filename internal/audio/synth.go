package audio

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// segment is one block of the synthetic schedule.
type segment struct {
	name     string
	duration time.Duration
	render   func(s *Synth, t float64) float64
}

// Synth is a seeded stand-in for a microphone. It cycles through
// silence, a voiced harmonic tone, a decaying broadband burst and soft
// breath-like noise so every stage of the pipeline sees varied input.
type Synth struct {
	mu         sync.Mutex
	rng        *rand.Rand
	sampleRate float64
	frameSize  int
	start      time.Time
	elapsed    float64
	generation uint64
	schedule   []segment
	lowpass    float64
}

// SynthConfig controls a Synth source.
type SynthConfig struct {
	SampleRate float64
	FrameSize  int
	// Seed fixes the noise sequence; 0 picks a random seed.
	Seed int64
	// Start anchors frame timestamps; zero means time.Now().
	Start time.Time
}

// NewSynth creates a synthetic source.
func NewSynth(cfg SynthConfig) *Synth {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 48_000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	seed := uint64(cfg.Seed)
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &Synth{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
		start:      cfg.Start,
		generation: 1,
	}
	s.schedule = []segment{
		{name: "silence", duration: 400 * time.Millisecond, render: silence},
		{name: "voiced", duration: 900 * time.Millisecond, render: voiced},
		{name: "burst", duration: 250 * time.Millisecond, render: burst},
		{name: "breath", duration: 700 * time.Millisecond, render: breath},
	}
	return s
}

// Frame renders the next window and advances the synthetic clock by one frame.
func (s *Synth) Frame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := make([]float64, s.frameSize)
	dt := 1.0 / s.sampleRate
	offset := s.elapsed
	for i := range samples {
		samples[i] = s.sample(offset + float64(i)*dt)
	}
	s.elapsed += float64(s.frameSize) * dt

	return Frame{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Timestamp:  s.start.Add(time.Duration(offset * float64(time.Second))),
	}, true
}

// Segment reports which schedule block is active at the current clock.
func (s *Synth) Segment() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, _ := s.locate(s.elapsed)
	return seg.name
}

func (s *Synth) locate(t float64) (segment, float64) {
	total := 0.0
	for _, seg := range s.schedule {
		total += seg.duration.Seconds()
	}
	pos := math.Mod(t, total)
	for _, seg := range s.schedule {
		d := seg.duration.Seconds()
		if pos < d {
			return seg, pos
		}
		pos -= d
	}
	last := s.schedule[len(s.schedule)-1]
	return last, 0
}

func (s *Synth) sample(t float64) float64 {
	seg, local := s.locate(t)
	return clampSample(seg.render(s, local))
}

// SampleRate returns the synthetic sample rate.
func (s *Synth) SampleRate() float64 {
	return s.sampleRate
}

// Generation is bumped by Restart.
func (s *Synth) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Restart rewinds the schedule and advances the generation.
func (s *Synth) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.start.Add(time.Duration(s.elapsed * float64(time.Second)))
	s.elapsed = 0
	s.lowpass = 0
	s.generation++
}

// Close is a no-op.
func (s *Synth) Close() error {
	return nil
}

func silence(_ *Synth, _ float64) float64 {
	return 0
}

func voiced(s *Synth, t float64) float64 {
	f0 := 160 + 20*math.Sin(2*math.Pi*3*t)
	v := 0.0
	for h := 1; h <= 6; h++ {
		v += math.Sin(2*math.Pi*f0*float64(h)*t) / float64(h)
	}
	return 0.12*v + 0.005*(s.rng.Float64()*2-1)
}

func burst(s *Synth, t float64) float64 {
	env := math.Exp(-t * 12)
	return 0.6 * env * (s.rng.Float64()*2 - 1)
}

func breath(s *Synth, _ float64) float64 {
	s.lowpass = s.lowpass*0.9 + (s.rng.Float64()*2-1)*0.1
	return 0.08 * s.lowpass
}

func clampSample(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}
