package analyzer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanrai/VoiceShow/internal/audio"
)

func sine(freq, amp, sampleRate float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sampleRate)
	}
	return out
}

func TestNextPow2(t *testing.T) {
	cases := map[int]int{
		0:   1,
		1:   1,
		2:   2,
		3:   4,
		5:   8,
		16:  16,
		31:  32,
		257: 512,
	}
	for input, want := range cases {
		if got := nextPow2(input); got != want {
			t.Fatalf("nextPow2(%d)=%d want=%d", input, got, want)
		}
	}
}

func TestClamp(t *testing.T) {
	if clamp(2, 0, 1) != 1 {
		t.Fatalf("expected clamp high to be 1")
	}
	if clamp(-1, 0, 1) != 0 {
		t.Fatalf("expected clamp low to be 0")
	}
	if clamp(0.5, 0, 1) != 0.5 {
		t.Fatalf("expected clamp middle to be unchanged")
	}
}

func TestExtractSine(t *testing.T) {
	const sr = 48000.0
	e := New(DefaultConfig())
	fv, err := e.Extract(audio.Frame{Samples: sine(440, 0.5, sr, 2048), SampleRate: sr})
	require.NoError(t, err)

	assert.InDelta(t, 0.5/math.Sqrt2, fv.RMS, 0.01)
	assert.InDelta(t, 880, fv.ZCR, 30)
	assert.InDelta(t, 440, fv.SpectralCentroid, 60)
	assert.InDelta(t, 20*math.Log10(0.5/math.Sqrt2), fv.Loudness, 0.2)
	assert.InDelta(t, 440, fv.Pitch, 10)
	assert.InDelta(t, 440, fv.SpectralRolloff, 50)
	assert.InDelta(t, fv.RMS*fv.RMS*255, fv.Energy, 1e-9)
	require.NoError(t, fv.Validate())
	assert.NotZero(t, fv.MFCCEnergy())
}

func TestExtractIsRepeatable(t *testing.T) {
	const sr = 16000.0
	e := New(DefaultConfig())
	frame := audio.Frame{Samples: sine(300, 0.2, sr, 1024), SampleRate: sr}
	first, err := e.Extract(frame)
	require.NoError(t, err)

	_, err = e.Extract(audio.Frame{Samples: sine(3000, 0.7, sr, 700), SampleRate: sr})
	require.NoError(t, err)

	second, err := e.Extract(frame)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestExtractNoSignal(t *testing.T) {
	e := New(DefaultConfig())

	_, err := e.Extract(audio.Frame{SampleRate: 48000})
	assert.ErrorIs(t, err, ErrNoSignal)

	_, err = e.Extract(audio.Frame{Samples: make([]float64, 2048), SampleRate: 48000})
	assert.ErrorIs(t, err, ErrNoSignal)
	assert.ErrorIs(t, err, ErrExtraction)

	quiet := make([]float64, 512)
	for i := range quiet {
		quiet[i] = 0.0005
	}
	_, err = e.Extract(audio.Frame{Samples: quiet, SampleRate: 48000})
	assert.ErrorIs(t, err, ErrNoSignal)
}

func TestExtractRejectsNonFiniteSamples(t *testing.T) {
	e := New(DefaultConfig())
	samples := sine(440, 0.5, 48000, 512)
	samples[100] = math.NaN()
	_, err := e.Extract(audio.Frame{Samples: samples, SampleRate: 48000})
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractRequiresSampleRate(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.Extract(audio.Frame{Samples: sine(440, 0.5, 48000, 512)})
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractUsesDecibelMagnitudes(t *testing.T) {
	const sr = 48000.0
	mags := make([]float64, 1024)
	for i := range mags {
		mags[i] = -240
	}
	binHz := sr / 2048
	mags[64] = 0

	e := New(DefaultConfig())
	fv, err := e.Extract(audio.Frame{
		Samples:    sine(440, 0.3, sr, 2048),
		Magnitudes: mags,
		Scale:      audio.ScaleDecibel,
		SampleRate: sr,
	})
	require.NoError(t, err)
	assert.InDelta(t, 64*binHz, fv.SpectralCentroid, 1)
}

func TestCentroidOfEmptySpectrumIsZero(t *testing.T) {
	assert.Zero(t, centroid(spectrum{mag: make([]float64, 8), binHz: 10}))
}

func TestRolloff(t *testing.T) {
	mag := make([]float64, 10)
	mag[2] = 1
	mag[7] = 1
	s := spectrum{mag: mag, binHz: 100}
	assert.Equal(t, 200.0, rolloff(s, 0.5))
	assert.Equal(t, 700.0, rolloff(s, 0.85))
	assert.Zero(t, rolloff(spectrum{mag: make([]float64, 4), binHz: 100}, 0.85))
}

func TestConfigRolloffFractionDefault(t *testing.T) {
	assert.Equal(t, 0.85, New(Config{RolloffFraction: 1.5}).Config().RolloffFraction)
	assert.Equal(t, 0.9, New(Config{RolloffFraction: 0.9}).Config().RolloffFraction)
}

func TestLoudnessClamp(t *testing.T) {
	assert.Equal(t, -100.0, loudness(0, -100))
	assert.Equal(t, -100.0, loudness(1e-9, -100))
	assert.Equal(t, 0.0, loudness(2, -100))
	assert.InDelta(t, -20, loudness(0.1, -100), 1e-9)
}

func TestZeroCrossingRate(t *testing.T) {
	samples := []float64{1, -1, 1, -1, 1, -1, 1, -1}
	// 7 crossings over 8 samples at 8 Hz is one second.
	assert.InDelta(t, 7, zeroCrossingRate(samples, 8), 1e-9)
	assert.Zero(t, zeroCrossingRate([]float64{1}, 8))
}

func TestPitchUnvoicedNoise(t *testing.T) {
	assert.Zero(t, estimatePitch(make([]float64, 1024), 16000, 60, 1000, 0.3))
}

func TestDCTOfConstantKeepsOnlyC0(t *testing.T) {
	bank := newMelBank(513, 16000.0/1024, 26, NumMFCC)
	in := make([]float64, 26)
	for i := range in {
		in[i] = 2
	}
	out := make([]float64, NumMFCC)
	dctInto(bank.dct, in, out)
	assert.InDelta(t, 2*math.Sqrt(26), out[0], 1e-9)
	for k := 1; k < NumMFCC; k++ {
		assert.InDelta(t, 0, out[k], 1e-9, "coefficient %d", k)
	}
}

func TestMelBankFiltersAreTriangles(t *testing.T) {
	bank := newMelBank(1025, 48000.0/2048, 26, NumMFCC)
	require.Len(t, bank.filters, 26)
	for m, f := range bank.filters {
		peak := 0.0
		for _, w := range f {
			assert.GreaterOrEqual(t, w, 0.0)
			peak = math.Max(peak, w)
		}
		assert.LessOrEqual(t, peak, 1.0, "filter %d", m)
		assert.Greater(t, peak, 0.0, "filter %d", m)
	}
}

func TestValidateFlagsNonFiniteMFCC(t *testing.T) {
	var fv FeatureVector
	fv.MFCC[3] = math.Inf(1)
	err := fv.Validate()
	assert.ErrorIs(t, err, ErrNonFinite)
	assert.Contains(t, err.Error(), "mfcc[3]")
}

func TestNormalized(t *testing.T) {
	fv := FeatureVector{RMS: 0.2, SpectralCentroid: 2500, ZCR: 2000, Loudness: -50}
	fv.MFCC[0] = 20
	n := fv.Normalized()
	require.Len(t, n, NormalizedLen)
	assert.InDeltaSlice(t, []float64{0.2, 0.5, 0.5, 0.5, 1}, n[:5], 1e-9)
	assert.InDelta(t, 0.5, n[5], 1e-9)
}
