package analyzer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// NumMFCC is the number of cepstral coefficients kept per frame.
const NumMFCC = 13

// NormalizedLen is the length of FeatureVector.Normalized.
const NormalizedLen = 4 + NumMFCC

// FeatureVector holds the descriptors extracted from one frame.
type FeatureVector struct {
	RMS              float64 `json:"rms"`
	SpectralCentroid float64 `json:"spectralCentroid"`
	// SpectralRolloff is the frequency below which RolloffFraction of the
	// spectral energy lies.
	SpectralRolloff float64          `json:"spectralRolloff"`
	ZCR             float64          `json:"zcr"`
	MFCC            [NumMFCC]float64 `json:"mfcc"`
	Loudness        float64          `json:"loudness"`
	Pitch           float64          `json:"pitch"`
	// Energy is rms² scaled to the 0..255 byte range.
	Energy float64 `json:"energy"`
}

// Validate reports ErrNonFinite if any field is NaN or infinite.
func (f FeatureVector) Validate() error {
	check := func(name string, v float64) error {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s=%v", ErrNonFinite, name, v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"rms", f.RMS},
		{"spectralCentroid", f.SpectralCentroid},
		{"spectralRolloff", f.SpectralRolloff},
		{"zcr", f.ZCR},
		{"loudness", f.Loudness},
		{"pitch", f.Pitch},
		{"energy", f.Energy},
	} {
		if err := check(c.name, c.v); err != nil {
			return err
		}
	}
	for i, v := range f.MFCC {
		if err := check(fmt.Sprintf("mfcc[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

// MFCCEnergy is the mean of the squared coefficients.
func (f FeatureVector) MFCCEnergy() float64 {
	var sq [NumMFCC]float64
	for i, c := range f.MFCC {
		sq[i] = c * c
	}
	return stat.Mean(sq[:], nil)
}

// Normalized maps the vector onto roughly [0,1] per dimension for displays
// and clustering: rms, centroid/5000, zcr/4000, (loudness+100)/100, then
// (mfcc+20)/40 for each coefficient.
func (f FeatureVector) Normalized() []float64 {
	out := make([]float64, 0, NormalizedLen)
	out = append(out,
		f.RMS,
		f.SpectralCentroid/5000,
		f.ZCR/4000,
		(f.Loudness+100)/100,
	)
	for _, c := range f.MFCC {
		out = append(out, (c+20)/40)
	}
	return out
}
