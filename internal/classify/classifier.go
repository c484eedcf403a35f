package classify

import (
	"fmt"
	"math"
	"time"

	"github.com/hanrai/VoiceShow/internal/analyzer"
)

// Event is an accepted classification of one frame.
type Event struct {
	Type       Category               `json:"type"`
	Confidence float64                `json:"confidence"`
	Timestamp  time.Time              `json:"timestamp"`
	Features   analyzer.FeatureVector `json:"features"`
}

// Score is the composite score of one category.
type Score struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

type row struct {
	category Category
	Profile
}

// Classifier scores feature vectors against a fixed category table. It holds
// no state between calls and is safe for concurrent use.
type Classifier struct {
	threshold float64
	rows      []row
}

// New validates cfg and builds a Classifier.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("classifier config: %w", err)
	}
	c := &Classifier{threshold: cfg.Threshold, rows: make([]row, 0, len(Categories))}
	for _, cat := range Categories {
		c.rows = append(c.rows, row{category: cat, Profile: cfg.Profiles[cat]})
	}
	return c, nil
}

// Default returns a Classifier over DefaultConfig.
func Default() *Classifier {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return c
}

// Config returns a copy of the table in use.
func (c *Classifier) Config() Config {
	cfg := Config{Threshold: c.threshold, Profiles: make(map[Category]Profile, len(c.rows))}
	for _, r := range c.rows {
		cfg.Profiles[r.category] = r.Profile
	}
	return cfg
}

// Threshold returns the acceptance threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Scores returns one composite per category in canonical order.
func (c *Classifier) Scores(fv analyzer.FeatureVector) []Score {
	out := make([]Score, len(c.rows))
	silent := !(fv.RMS > 0)
	mfcc := mfccScore(fv)
	for i, r := range c.rows {
		out[i].Category = r.category
		if silent {
			continue
		}
		w := r.Weights
		total := w.RMS*logRatioScore(fv.RMS, r.Range.RMS) +
			w.Centroid*logRatioScore(fv.SpectralCentroid, r.Range.Centroid) +
			w.ZCR*linearScore(fv.ZCR, r.Range.ZCR) +
			w.Loudness*loudnessScore(fv.Loudness, r.Range.Loudness) +
			w.MFCC*mfcc
		out[i].Score = clamp01(total)
	}
	return out
}

// Classify returns the best-scoring category when its score strictly
// exceeds the threshold.
func (c *Classifier) Classify(fv analyzer.FeatureVector, ts time.Time) (Event, bool) {
	best, ok := Best(c.Scores(fv))
	if !ok || !(best.Score > c.threshold) {
		return Event{}, false
	}
	return Event{
		Type:       best.Category,
		Confidence: best.Score,
		Timestamp:  ts,
		Features:   fv,
	}, true
}

// Best picks the highest score; the first wins on ties.
func Best(scores []Score) (Score, bool) {
	if len(scores) == 0 {
		return Score{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best, true
}

// Normalized is the display projection of fv.
func Normalized(fv analyzer.FeatureVector) []float64 {
	return fv.Normalized()
}

func logRatioScore(v float64, r Range) float64 {
	mid := r.Mid()
	if !r.Contains(v) || v <= 0 || mid <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(math.Log10(v/mid)))
}

func linearScore(v float64, r Range) float64 {
	width := r.Width()
	if !r.Contains(v) || width <= 0 {
		return 0
	}
	return clamp01(1 - math.Abs(v-r.Mid())/width)
}

func loudnessScore(v float64, r Range) float64 {
	w := r.Width()
	n := v - r.Min
	if w <= 0 || n < 0 || n > w {
		return 0
	}
	half := w / 2
	return clamp01(1 - math.Abs(n-half)/half)
}

func mfccScore(fv analyzer.FeatureVector) float64 {
	e := fv.MFCCEnergy()
	if math.IsNaN(e) || e < 0 {
		return 0
	}
	return clamp01((math.Log10(e+1) + 1) / 2)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
