package params

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hanrai/VoiceShow/internal/analyzer"
	"github.com/hanrai/VoiceShow/internal/classify"
	"github.com/hanrai/VoiceShow/internal/cluster"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

// Parameters is the tunable part of a run. Fields missing from a YAML file
// keep their Defaults value; a profile listed under classify.profiles
// replaces the whole default profile of that category.
type Parameters struct {
	Analyzer       analyzer.Config `yaml:"analyzer" json:"analyzer"`
	Classify       classify.Config `yaml:"classify" json:"classify"`
	Cluster        cluster.Config  `yaml:"cluster" json:"cluster"`
	ReclusterEvery int             `yaml:"recluster_every" json:"reclusterEvery"`
	Meter          Meter           `yaml:"meter" json:"meter"`
}

// Meter tunes the terminal display.
type Meter struct {
	Palette  string `yaml:"palette" json:"palette"`
	BarWidth int    `yaml:"bar_width" json:"barWidth"`
}

// Defaults returns the hand-tuned values every run starts from.
func Defaults() Parameters {
	p := pipeline.DefaultConfig()
	return Parameters{
		Analyzer:       p.Analyzer,
		Classify:       p.Classify,
		Cluster:        p.Cluster,
		ReclusterEvery: p.ReclusterEvery,
		Meter:          Meter{Palette: "default", BarWidth: 30},
	}
}

// Pipeline projects the parameters onto a session configuration.
func (p Parameters) Pipeline() pipeline.Config {
	return pipeline.Config{
		Analyzer:       p.Analyzer,
		Classify:       p.Classify.Clone(),
		Cluster:        p.Cluster,
		ReclusterEvery: p.ReclusterEvery,
	}
}

// Clone returns a deep copy.
func (p Parameters) Clone() Parameters {
	p.Classify = p.Classify.Clone()
	return p
}

// Load reads and validates the YAML file at path.
func Load(path string) (Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return Parameters{}, fmt.Errorf("params: open %q: %w", path, err)
	}
	defer f.Close()

	p, err := LoadFromReader(f)
	if err != nil {
		return Parameters{}, fmt.Errorf("params: parse %q: %w", path, err)
	}
	return p, nil
}

// LoadFromReader decodes YAML over Defaults and validates the result.
// Unknown keys are rejected.
func LoadFromReader(r io.Reader) (Parameters, error) {
	p := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Parameters{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Parameters{}, err
	}
	return p, nil
}

// Validate returns every problem found, joined.
func (p Parameters) Validate() error {
	var errs []error
	a := p.Analyzer
	if a.SilenceFloor < 0 || a.SilenceFloor >= 1 {
		errs = append(errs, fmt.Errorf("analyzer.silence_floor %v outside [0,1)", a.SilenceFloor))
	}
	if a.NumMelFilters < 0 || a.NumMelFilters > 128 {
		errs = append(errs, fmt.Errorf("analyzer.mel_filters %d outside [0,128]", a.NumMelFilters))
	}
	if a.NumMelFilters > 0 && a.NumMelFilters < analyzer.NumMFCC {
		errs = append(errs, fmt.Errorf("analyzer.mel_filters %d must be at least %d", a.NumMelFilters, analyzer.NumMFCC))
	}
	if a.MaxFFTSize > 0 && a.MinFFTSize > a.MaxFFTSize {
		errs = append(errs, fmt.Errorf("analyzer.min_fft_size %d exceeds max_fft_size %d", a.MinFFTSize, a.MaxFFTSize))
	}
	if a.PitchMaxHz > 0 && a.PitchMinHz >= a.PitchMaxHz {
		errs = append(errs, fmt.Errorf("analyzer.pitch_min_hz %v must be below pitch_max_hz %v", a.PitchMinHz, a.PitchMaxHz))
	}
	if err := p.Classify.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classify: %w", err))
	}
	if err := p.Cluster.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cluster: %w", err))
	}
	if p.ReclusterEvery < 0 {
		errs = append(errs, fmt.Errorf("recluster_every %d must not be negative", p.ReclusterEvery))
	}
	if p.Meter.BarWidth < 0 {
		errs = append(errs, fmt.Errorf("meter.bar_width %d must not be negative", p.Meter.BarWidth))
	}
	return errors.Join(errs...)
}

// Patch is a partial update of the classifier, as accepted over HTTP.
type Patch struct {
	Threshold *float64                                `json:"threshold,omitempty"`
	Weights   map[classify.Category]*classify.Weights `json:"weights,omitempty"`
}

// Apply returns p with patch merged in, or an error leaving p unchanged.
func (p Parameters) Apply(patch Patch) (Parameters, error) {
	out := p.Clone()
	if patch.Threshold != nil {
		out.Classify.Threshold = *patch.Threshold
	}
	for key, w := range patch.Weights {
		cat, err := classify.ParseCategory(string(key))
		if err != nil {
			return p, err
		}
		if w == nil {
			continue
		}
		prof := out.Classify.Profiles[cat]
		prof.Weights = *w
		out.Classify.Profiles[cat] = prof
	}
	if err := out.Validate(); err != nil {
		return p, err
	}
	return out, nil
}
