package classify

import (
	"fmt"
	"strings"
)

// Category names an audio event type.
type Category string

const (
	Cough  Category = "cough"
	Speech Category = "speech"
	Laugh  Category = "laugh"
	Sneeze Category = "sneeze"
	Breath Category = "breath"
	Noise  Category = "noise"
)

// Categories lists every category in canonical order. Ties between scores
// resolve to the earlier entry.
var Categories = []Category{Cough, Speech, Laugh, Sneeze, Breath, Noise}

// ParseCategory is case-insensitive.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string {
	return string(c)
}

// Range is an inclusive interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) Mid() float64 {
	return (r.Min + r.Max) / 2
}

func (r Range) Width() float64 {
	return r.Max - r.Min
}

// EventRange bounds the features a category is tuned for.
type EventRange struct {
	RMS      Range `yaml:"rms" json:"rms"`
	Centroid Range `yaml:"centroid" json:"centroid"`
	ZCR      Range `yaml:"zcr" json:"zcr"`
	Loudness Range `yaml:"loudness" json:"loudness"`
}

// Weights blend the sub-scores of one category.
type Weights struct {
	RMS      float64 `yaml:"rms" json:"rms"`
	Centroid float64 `yaml:"centroid" json:"centroid"`
	ZCR      float64 `yaml:"zcr" json:"zcr"`
	Loudness float64 `yaml:"loudness" json:"loudness"`
	MFCC     float64 `yaml:"mfcc" json:"mfcc"`
}

// Sum of all weights.
func (w Weights) Sum() float64 {
	return w.RMS + w.Centroid + w.ZCR + w.Loudness + w.MFCC
}

// Profile is the per-category row of the classifier table.
type Profile struct {
	Range   EventRange `yaml:"range" json:"range"`
	Weights Weights    `yaml:"weights" json:"weights"`
}
