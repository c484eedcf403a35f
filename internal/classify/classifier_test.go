package classify

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanrai/VoiceShow/internal/analyzer"
)

func coughLike() analyzer.FeatureVector {
	fv := analyzer.FeatureVector{
		RMS:              0.3,
		SpectralCentroid: 1500,
		ZCR:              800,
		Loudness:         -30,
	}
	v := math.Sqrt(5)
	for i := range fv.MFCC {
		if i%2 == 0 {
			fv.MFCC[i] = v
		} else {
			fv.MFCC[i] = -v
		}
	}
	return fv
}

func midpoint(p Profile) analyzer.FeatureVector {
	return analyzer.FeatureVector{
		RMS:              p.Range.RMS.Mid(),
		SpectralCentroid: p.Range.Centroid.Mid(),
		ZCR:              p.Range.ZCR.Mid(),
		Loudness:         p.Range.Loudness.Mid(),
	}
}

func TestCoughScenario(t *testing.T) {
	c := Default()
	ts := time.Unix(100, 0)
	ev, ok := c.Classify(coughLike(), ts)
	require.True(t, ok)
	assert.Equal(t, Cough, ev.Type)
	assert.Equal(t, ts, ev.Timestamp)
	assert.Greater(t, ev.Confidence, DefaultThreshold)
	assert.LessOrEqual(t, ev.Confidence, 1.0)
	assert.Equal(t, coughLike(), ev.Features)
}

func TestScoresCanonicalOrder(t *testing.T) {
	scores := Default().Scores(coughLike())
	require.Len(t, scores, len(Categories))
	for i, s := range scores {
		assert.Equal(t, Categories[i], s.Category)
		assert.GreaterOrEqual(t, s.Score, 0.0)
		assert.LessOrEqual(t, s.Score, 1.0)
	}
}

func TestMidpointsWinTheirCategory(t *testing.T) {
	cfg := DefaultConfig()
	c := Default()
	for _, cat := range Categories {
		ev, ok := c.Classify(midpoint(cfg.Profiles[cat]), time.Time{})
		require.True(t, ok, cat)
		assert.Equal(t, cat, ev.Type)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	c := Default()
	fv := coughLike()
	first, ok1 := c.Classify(fv, time.Time{})
	second, ok2 := c.Classify(fv, time.Time{})
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, first, second)
}

func TestSilenceProducesNoEvent(t *testing.T) {
	c := Default()
	_, ok := c.Classify(analyzer.FeatureVector{Loudness: -100}, time.Time{})
	assert.False(t, ok)
	for _, s := range c.Scores(analyzer.FeatureVector{}) {
		assert.Zero(t, s.Score, s.Category)
	}
}

func TestOutOfRangeProducesNoEvent(t *testing.T) {
	fv := analyzer.FeatureVector{RMS: 5, SpectralCentroid: 20000, ZCR: 20000, Loudness: 0}
	_, ok := Default().Classify(fv, time.Time{})
	assert.False(t, ok)
}

func TestThresholdIsStrict(t *testing.T) {
	cfg := DefaultConfig()
	fv := midpoint(cfg.Profiles[Speech])
	best, _ := Best(Default().Scores(fv))

	cfg.Threshold = best.Score
	c, err := New(cfg)
	require.NoError(t, err)
	_, ok := c.Classify(fv, time.Time{})
	assert.False(t, ok)
}

func TestBestPrefersFirstOnTie(t *testing.T) {
	best, ok := Best([]Score{{Speech, 0.5}, {Laugh, 0.5}, {Noise, 0.1}})
	require.True(t, ok)
	assert.Equal(t, Speech, best.Category)

	_, ok = Best(nil)
	assert.False(t, ok)
}

func TestSubScores(t *testing.T) {
	r := Range{100, 900}
	assert.InDelta(t, 1, logRatioScore(500, r), 1e-9)
	assert.Zero(t, logRatioScore(50, r))
	assert.Zero(t, logRatioScore(0, Range{0, 10}))

	assert.InDelta(t, 1, linearScore(500, r), 1e-9)
	assert.InDelta(t, 0.5, linearScore(100, r), 1e-9)
	assert.Zero(t, linearScore(1000, r))

	loud := Range{-60, -10}
	assert.InDelta(t, 1, loudnessScore(-35, loud), 1e-9)
	assert.InDelta(t, 0, loudnessScore(-60, loud), 1e-9)
	assert.Zero(t, loudnessScore(-5, loud))

	assert.InDelta(t, 0.5, mfccScore(analyzer.FeatureVector{}), 1e-9)
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	for cat, p := range DefaultConfig().Profiles {
		assert.InDelta(t, 1, p.Weights.Sum(), 1e-9, cat)
	}
}

func TestValidateJoinsProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 2
	p := cfg.Profiles[Laugh]
	p.Weights = Weights{}
	cfg.Profiles[Laugh] = p
	delete(cfg.Profiles, Noise)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
	assert.Contains(t, err.Error(), "laugh: weights sum to zero")
	assert.Contains(t, err.Error(), "noise: missing profile")

	_, err = New(cfg)
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	p := clone.Profiles[Cough]
	p.Weights.RMS = 0
	clone.Profiles[Cough] = p
	assert.Equal(t, 0.35, cfg.Profiles[Cough].Weights.RMS)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Sneeze ")
	require.NoError(t, err)
	assert.Equal(t, Sneeze, c)
	_, err = ParseCategory("hiccup")
	assert.Error(t, err)
}
