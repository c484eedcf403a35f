package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hanrai/VoiceShow/internal/analyzer"
	"github.com/hanrai/VoiceShow/internal/audio"
	"github.com/hanrai/VoiceShow/internal/classify"
	"github.com/hanrai/VoiceShow/internal/cluster"
)

// Config wires the three stages of a Session.
type Config struct {
	Analyzer analyzer.Config `yaml:"analyzer" json:"analyzer"`
	Classify classify.Config `yaml:"classify" json:"classify"`
	Cluster  cluster.Config  `yaml:"cluster" json:"cluster"`
	// ReclusterEvery runs k-means after this many extracted frames.
	ReclusterEvery int `yaml:"recluster_every" json:"reclusterEvery"`
}

func DefaultConfig() Config {
	return Config{
		Analyzer:       analyzer.DefaultConfig(),
		Classify:       classify.DefaultConfig(),
		Cluster:        cluster.DefaultConfig(),
		ReclusterEvery: 1,
	}
}

// Result is the outcome of one Process call.
type Result struct {
	Features analyzer.FeatureVector
	Event    classify.Event
	HasEvent bool
	// Onset is set when the event type differs from the previous frame's outcome.
	Onset bool
	Err   error
}

// Counters accumulate over the lifetime of a session.
type Counters struct {
	Frames    uint64                       `json:"frames"`
	Extracted uint64                       `json:"extracted"`
	Silent    uint64                       `json:"silent"`
	Failed    uint64                       `json:"failed"`
	Events    uint64                       `json:"events"`
	Onsets    uint64                       `json:"onsets"`
	ByType    map[classify.Category]uint64 `json:"byType"`
}

// Snapshot is a consistent copy of the latest session state.
type Snapshot struct {
	SessionID  string                  `json:"sessionId"`
	Features   *analyzer.FeatureVector `json:"features,omitempty"`
	Event      *classify.Event         `json:"event,omitempty"`
	Normalized []float64               `json:"normalized,omitempty"`
	Scores     []classify.Score        `json:"scores,omitempty"`
	Clusters   []cluster.Cluster       `json:"clusters"`
	Window     int                     `json:"window"`
	Counters   Counters                `json:"counters"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// Session is the per-capture context chaining extraction, classification and
// clustering. Process must be called from a single goroutine; Latest and the
// configuration methods may be called concurrently with it.
type Session struct {
	mu sync.RWMutex

	id         uuid.UUID
	cfg        Config
	extractor  *analyzer.Extractor
	classifier *classify.Classifier
	online     *cluster.Online

	sinceRecluster int
	counters       Counters

	features  *analyzer.FeatureVector
	event     *classify.Event
	scores    []classify.Score
	lastType  classify.Category
	updatedAt time.Time

	now func() time.Time
}

// New validates cfg and builds a Session.
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classifier, err := classify.New(cfg.Classify)
	if err != nil {
		return nil, err
	}
	if cfg.ReclusterEvery <= 0 {
		cfg.ReclusterEvery = 1
	}
	s := &Session{
		id:         uuid.New(),
		cfg:        cfg,
		extractor:  analyzer.New(cfg.Analyzer),
		classifier: classifier,
		online:     cluster.NewOnline(cfg.Cluster),
		now:        time.Now,
	}
	s.counters.ByType = make(map[classify.Category]uint64)
	return s, nil
}

// Validate checks the classifier and clusterer settings.
func (c Config) Validate() error {
	var errs []error
	if err := c.Classify.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classify: %w", err))
	}
	if err := c.Cluster.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("cluster: %w", err))
	}
	if c.ReclusterEvery < 0 {
		errs = append(errs, errors.New("recluster_every must not be negative"))
	}
	return errors.Join(errs...)
}

// ID identifies the session; it changes on Reset.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id.String()
}

// Config returns the configuration in effect.
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.Classify = cfg.Classify.Clone()
	return cfg
}

// Process runs one frame through extract, classify and cluster. Extraction
// failures are reported in Result.Err and leave the classifier and clusterer
// untouched.
func (s *Session) Process(frame audio.Frame) Result {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Frames++
	s.updatedAt = ts

	fv, err := s.extractor.Extract(frame)
	if err != nil {
		if errors.Is(err, analyzer.ErrNoSignal) {
			s.counters.Silent++
		} else {
			s.counters.Failed++
		}
		s.event = nil
		s.scores = nil
		s.lastType = ""
		return Result{Err: err}
	}
	s.counters.Extracted++
	s.features = &fv

	s.scores = s.classifier.Scores(fv)
	ev, ok := s.classifier.Classify(fv, ts)
	res := Result{Features: fv, Event: ev, HasEvent: ok}
	if ok {
		s.event = &ev
		s.counters.Events++
		s.counters.ByType[ev.Type]++
		if ev.Type != s.lastType {
			res.Onset = true
			s.counters.Onsets++
		}
		s.lastType = ev.Type
	} else {
		s.event = nil
		s.lastType = ""
	}

	s.online.Observe(cluster.Point{Features: fv.Normalized(), Timestamp: ts})
	s.sinceRecluster++
	if s.sinceRecluster >= s.cfg.ReclusterEvery {
		s.sinceRecluster = 0
		// Too few points keeps what is left of the previous partition.
		if err := s.online.Recluster(); err != nil && !errors.Is(err, cluster.ErrInsufficientData) {
			res.Err = err
		}
	}
	return res
}

// Latest returns a snapshot of the most recent state.
func (s *Session) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SessionID: s.id.String(),
		Clusters:  s.online.Clusters(),
		Window:    s.online.Len(),
		Counters:  s.counters,
		UpdatedAt: s.updatedAt,
	}
	snap.Counters.ByType = maps.Clone(s.counters.ByType)
	if s.features != nil {
		fv := *s.features
		snap.Features = &fv
		snap.Normalized = fv.Normalized()
	}
	if s.event != nil {
		ev := *s.event
		snap.Event = &ev
	}
	if s.scores != nil {
		snap.Scores = append([]classify.Score(nil), s.scores...)
	}
	if snap.Clusters == nil {
		snap.Clusters = []cluster.Cluster{}
	}
	return snap
}

// SetClassifier swaps the classifier table.
func (s *Session) SetClassifier(cfg classify.Config) error {
	c, err := classify.New(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifier = c
	s.cfg.Classify = cfg.Clone()
	return nil
}

// Reconfigure applies cfg. A changed cluster configuration restarts the
// clustering window.
func (s *Session) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c, err := classify.New(cfg.Classify)
	if err != nil {
		return err
	}
	if cfg.ReclusterEvery <= 0 {
		cfg.ReclusterEvery = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Analyzer != s.cfg.Analyzer {
		s.extractor = analyzer.New(cfg.Analyzer)
	}
	if cfg.Cluster != s.cfg.Cluster {
		s.online = cluster.NewOnline(cfg.Cluster)
		s.sinceRecluster = 0
	}
	s.classifier = c
	cfg.Classify = cfg.Classify.Clone()
	s.cfg = cfg
	return nil
}

// Reset drops every piece of per-capture state and starts a new session ID.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = uuid.New()
	s.online.Reset()
	s.sinceRecluster = 0
	s.counters = Counters{ByType: make(map[classify.Category]uint64)}
	s.features = nil
	s.event = nil
	s.scores = nil
	s.lastType = ""
	s.updatedAt = time.Time{}
}
