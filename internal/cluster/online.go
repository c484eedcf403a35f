package cluster

import (
	"errors"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// Online couples a Window with KMeans and keeps the last partition.
type Online struct {
	mu       sync.RWMutex
	window   *Window
	km       *KMeans
	clusters []Cluster
	stats    Stats
}

func NewOnline(cfg Config) *Online {
	cfg = cfg.withDefaults()
	return &Online{window: NewWindow(cfg.Horizon), km: NewKMeans(cfg)}
}

// Observe appends p to the window and returns how many points were evicted.
func (o *Online) Observe(p Point) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.window.Add(p)
}

// Recluster partitions the current window. With too few points the previous
// partition is kept, minus every point that has left the window; other
// errors keep it unchanged.
func (o *Online) Recluster() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	clusters, stats, err := o.km.Cluster(o.window.points)
	if err != nil {
		if errors.Is(err, ErrInsufficientData) {
			o.clusters = o.prune(o.clusters)
		}
		return err
	}
	o.clusters, o.stats = clusters, stats
	return nil
}

// prune drops evicted points and recomputes the centroids of what is left.
func (o *Online) prune(clusters []Cluster) []Cluster {
	out := clusters[:0]
	for _, c := range clusters {
		kept := c.Points[:0]
		for _, p := range c.Points {
			if o.window.Contains(p.Timestamp) {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if len(kept) != len(c.Points) {
			centroid := make([]float64, len(c.Centroid))
			for _, p := range kept {
				floats.Add(centroid, p.Features)
			}
			floats.Scale(1/float64(len(kept)), centroid)
			c.Centroid = centroid
		}
		c.Points = kept
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Clusters returns a deep copy of the last partition.
func (o *Online) Clusters() []Cluster {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.clusters == nil {
		return nil
	}
	out := make([]Cluster, len(o.clusters))
	for i, c := range o.clusters {
		points := make([]Point, len(c.Points))
		for j, p := range c.Points {
			points[j] = Point{Features: append([]float64(nil), p.Features...), Timestamp: p.Timestamp}
		}
		out[i] = Cluster{Centroid: append([]float64(nil), c.Centroid...), Points: points}
	}
	return out
}

func (o *Online) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

func (o *Online) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.window.Len()
}

// Reset drops the window and the last partition.
func (o *Online) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.window.Reset()
	o.clusters = nil
	o.stats = Stats{}
}
