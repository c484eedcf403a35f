package cluster

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrInsufficientData is returned when the window holds fewer than MinPoints.
	ErrInsufficientData = errors.New("cluster: insufficient data")
	// ErrDimensionMismatch is returned when points differ in length.
	ErrDimensionMismatch = errors.New("cluster: dimension mismatch")
)

// Config tunes Lloyd's algorithm.
type Config struct {
	K             int           `yaml:"k" json:"k"`
	MaxIterations int           `yaml:"max_iterations" json:"maxIterations"`
	Epsilon       float64       `yaml:"epsilon" json:"epsilon"`
	MinPoints     int           `yaml:"min_points" json:"minPoints"`
	Horizon       time.Duration `yaml:"horizon" json:"horizon"`
	// Seed makes centroid initialisation reproducible; 0 seeds from entropy.
	Seed uint64 `yaml:"seed" json:"seed"`
}

func DefaultConfig() Config {
	return Config{
		K:             3,
		MaxIterations: 10,
		Epsilon:       0.001,
		MinPoints:     3,
		Horizon:       DefaultHorizon,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.K <= 0 {
		c.K = d.K
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Epsilon <= 0 {
		c.Epsilon = d.Epsilon
	}
	if c.MinPoints <= 0 {
		c.MinPoints = d.MinPoints
	}
	if c.Horizon <= 0 {
		c.Horizon = d.Horizon
	}
	return c
}

// Validate rejects settings that withDefaults would not repair.
func (c Config) Validate() error {
	var errs []error
	if c.K < 0 {
		errs = append(errs, fmt.Errorf("k must be positive, got %d", c.K))
	}
	if c.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("epsilon must be positive, got %v", c.Epsilon))
	}
	if c.Horizon < 0 {
		errs = append(errs, fmt.Errorf("horizon must be positive, got %v", c.Horizon))
	}
	return errors.Join(errs...)
}

// Cluster is one partition of the window.
type Cluster struct {
	Centroid []float64 `json:"centroid"`
	Points   []Point   `json:"points"`
}

// Stats describes one clustering run.
type Stats struct {
	Iterations  int     `json:"iterations"`
	LastMaxMove float64 `json:"lastMaxMove"`
}

// KMeans partitions point sets with Lloyd's algorithm.
type KMeans struct {
	cfg Config
	rng *rand.Rand
}

func NewKMeans(cfg Config) *KMeans {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &KMeans{cfg: cfg, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Cluster partitions points into at most K non-empty clusters. The point
// counts of the result always sum to len(points).
func (km *KMeans) Cluster(points []Point) ([]Cluster, Stats, error) {
	if len(points) < km.cfg.MinPoints {
		return nil, Stats{}, fmt.Errorf("%w: %d points, need %d", ErrInsufficientData, len(points), km.cfg.MinPoints)
	}
	dim := len(points[0].Features)
	for i, p := range points {
		if len(p.Features) != dim {
			return nil, Stats{}, fmt.Errorf("%w: point %d has %d dims, want %d", ErrDimensionMismatch, i, len(p.Features), dim)
		}
	}

	centroids := km.initCentroids(points)
	assign := make([]int, len(points))
	next := make([][]float64, len(centroids))
	counts := make([]int, len(centroids))
	for i := range next {
		next[i] = make([]float64, dim)
	}

	var stats Stats
	for stats.Iterations < km.cfg.MaxIterations {
		stats.Iterations++
		for i, p := range points {
			assign[i] = nearest(centroids, p.Features)
		}

		for i := range next {
			clear(next[i])
			counts[i] = 0
		}
		for i, p := range points {
			floats.Add(next[assign[i]], p.Features)
			counts[assign[i]]++
		}

		maxMove := 0.0
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			floats.Scale(1/float64(counts[i]), next[i])
			maxMove = max(maxMove, floats.Distance(centroids[i], next[i], 2))
			copy(centroids[i], next[i])
		}
		stats.LastMaxMove = maxMove
		if maxMove <= km.cfg.Epsilon {
			break
		}
	}

	// Final assignment against the settled centroids.
	for i, p := range points {
		assign[i] = nearest(centroids, p.Features)
	}
	groups := make([][]Point, len(centroids))
	for i, p := range points {
		groups[assign[i]] = append(groups[assign[i]], p)
	}

	out := make([]Cluster, 0, len(centroids))
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		c := make([]float64, dim)
		for _, p := range g {
			floats.Add(c, p.Features)
		}
		floats.Scale(1/float64(len(g)), c)
		out = append(out, Cluster{Centroid: c, Points: g})
	}
	return out, stats, nil
}

// initCentroids draws min(K, len(points)) distinct points at random.
func (km *KMeans) initCentroids(points []Point) [][]float64 {
	k := min(km.cfg.K, len(points))
	perm := km.rng.Perm(len(points))
	out := make([][]float64, k)
	for i := 0; i < k; i++ {
		out[i] = append([]float64(nil), points[perm[i]].Features...)
	}
	return out
}

func nearest(centroids [][]float64, v []float64) int {
	best, bestDist := 0, floats.Distance(centroids[0], v, 2)
	for i := 1; i < len(centroids); i++ {
		if d := floats.Distance(centroids[i], v, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
