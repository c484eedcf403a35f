package classify

import (
	"errors"
	"fmt"
	"math"
)

// DefaultThreshold is the score a category must exceed to be emitted.
const DefaultThreshold = 0.2

// Config holds the tunable classifier table.
type Config struct {
	Threshold float64              `yaml:"threshold" json:"threshold"`
	Profiles  map[Category]Profile `yaml:"profiles" json:"profiles"`
}

// DefaultConfig returns the hand-tuned ranges and weights.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Profiles: map[Category]Profile{
			Cough: {
				Range:   EventRange{RMS: Range{0.01, 1.0}, Centroid: Range{500, 4000}, ZCR: Range{100, 3000}, Loudness: Range{-60, -10}},
				Weights: Weights{RMS: 0.35, Centroid: 0.25, ZCR: 0.15, Loudness: 0.15, MFCC: 0.10},
			},
			Speech: {
				Range:   EventRange{RMS: Range{0.005, 0.8}, Centroid: Range{200, 3000}, ZCR: Range{50, 2000}, Loudness: Range{-70, -20}},
				Weights: Weights{RMS: 0.15, Centroid: 0.30, ZCR: 0.15, Loudness: 0.30, MFCC: 0.10},
			},
			Laugh: {
				Range:   EventRange{RMS: Range{0.008, 0.9}, Centroid: Range{300, 3500}, ZCR: Range{80, 2500}, Loudness: Range{-65, -15}},
				Weights: Weights{RMS: 0.10, Centroid: 0.25, ZCR: 0.25, Loudness: 0.30, MFCC: 0.10},
			},
			Sneeze: {
				Range:   EventRange{RMS: Range{0.015, 1.0}, Centroid: Range{600, 4500}, ZCR: Range{120, 3500}, Loudness: Range{-55, -5}},
				Weights: Weights{RMS: 0.25, Centroid: 0.30, ZCR: 0.25, Loudness: 0.10, MFCC: 0.10},
			},
			Breath: {
				Range:   EventRange{RMS: Range{0.003, 0.5}, Centroid: Range{100, 2000}, ZCR: Range{30, 1500}, Loudness: Range{-80, -30}},
				Weights: Weights{RMS: 0.15, Centroid: 0.20, ZCR: 0.20, Loudness: 0.35, MFCC: 0.10},
			},
			Noise: {
				Range:   EventRange{RMS: Range{0.001, 0.3}, Centroid: Range{0, 5000}, ZCR: Range{0, 4000}, Loudness: Range{-90, -40}},
				Weights: Weights{RMS: 0.10, Centroid: 0.10, ZCR: 0.35, Loudness: 0.35, MFCC: 0.10},
			},
		},
	}
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	out := Config{Threshold: c.Threshold, Profiles: make(map[Category]Profile, len(c.Profiles))}
	for k, v := range c.Profiles {
		out.Profiles[k] = v
	}
	return out
}

// Validate reports every problem in the table at once.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold >= 1 || math.IsNaN(c.Threshold) {
		errs = append(errs, fmt.Errorf("threshold %v outside [0,1)", c.Threshold))
	}
	for cat := range c.Profiles {
		if _, err := ParseCategory(string(cat)); err != nil {
			errs = append(errs, err)
		}
	}
	for _, cat := range Categories {
		p, ok := c.Profiles[cat]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: missing profile", cat))
			continue
		}
		errs = append(errs, p.validate(cat)...)
	}
	return errors.Join(errs...)
}

func (p Profile) validate(cat Category) []error {
	var errs []error
	ranges := []struct {
		name string
		r    Range
	}{
		{"rms", p.Range.RMS},
		{"centroid", p.Range.Centroid},
		{"zcr", p.Range.ZCR},
		{"loudness", p.Range.Loudness},
	}
	for _, r := range ranges {
		if !(r.r.Max > r.r.Min) {
			errs = append(errs, fmt.Errorf("%s: %s range [%v,%v] is empty", cat, r.name, r.r.Min, r.r.Max))
		}
	}
	if p.Range.RMS.Min < 0 {
		errs = append(errs, fmt.Errorf("%s: rms range must be non-negative", cat))
	}
	w := p.Weights
	for _, v := range []float64{w.RMS, w.Centroid, w.ZCR, w.Loudness, w.MFCC} {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Errorf("%s: negative weight %v", cat, v))
			break
		}
	}
	if !(w.Sum() > 0) {
		errs = append(errs, fmt.Errorf("%s: weights sum to zero", cat))
	}
	return errs
}
