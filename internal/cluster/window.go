package cluster

import "time"

// DefaultHorizon is how long a point stays in the window.
const DefaultHorizon = 10 * time.Second

// Point is one feature projection observed at Timestamp.
type Point struct {
	Features  []float64 `json:"features"`
	Timestamp time.Time `json:"timestamp"`
}

// Window keeps the points observed within Horizon of the newest one.
type Window struct {
	horizon time.Duration
	points  []Point
}

// NewWindow returns an empty window; horizon <= 0 selects DefaultHorizon.
func NewWindow(horizon time.Duration) *Window {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Window{horizon: horizon}
}

// Add appends p and evicts every point whose age relative to p strictly
// exceeds the horizon. It returns the number of evicted points.
func (w *Window) Add(p Point) int {
	w.points = append(w.points, p)
	return w.evict(p.Timestamp)
}

func (w *Window) evict(now time.Time) int {
	kept := w.points[:0]
	for _, p := range w.points {
		if now.Sub(p.Timestamp) > w.horizon {
			continue
		}
		kept = append(kept, p)
	}
	evicted := len(w.points) - len(kept)
	clear(w.points[len(kept):])
	w.points = kept
	return evicted
}

// Contains reports whether a point observed at ts would still be in the
// window.
func (w *Window) Contains(ts time.Time) bool {
	if len(w.points) == 0 {
		return false
	}
	newest := w.points[len(w.points)-1].Timestamp
	return newest.Sub(ts) <= w.horizon
}

// Points returns a copy of the current contents, oldest first.
func (w *Window) Points() []Point {
	out := make([]Point, len(w.points))
	copy(out, w.points)
	return out
}

func (w *Window) Len() int {
	return len(w.points)
}

func (w *Window) Horizon() time.Duration {
	return w.horizon
}

// Reset empties the window.
func (w *Window) Reset() {
	clear(w.points)
	w.points = w.points[:0]
}
