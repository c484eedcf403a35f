package mic

// ring is a fixed-size mono sample buffer. Callers synchronise access.
type ring struct {
	buf     []float64
	index   int
	written int
}

func newRing(size int) *ring {
	return &ring{buf: make([]float64, size)}
}

func (r *ring) reset() {
	for i := range r.buf {
		r.buf[i] = 0
	}
	r.index = 0
	r.written = 0
}

func (r *ring) full() bool {
	return r.written >= len(r.buf)
}

// writeInterleaved mixes interleaved multichannel input down to mono.
func (r *ring) writeInterleaved(in []float32, channels int) {
	if channels <= 1 {
		for _, s := range in {
			r.push(float64(s))
		}
		return
	}
	frames := len(in) / channels
	for i := 0; i < frames; i++ {
		sum := 0.0
		base := i * channels
		for ch := 0; ch < channels; ch++ {
			sum += float64(in[base+ch])
		}
		r.push(sum / float64(channels))
	}
}

func (r *ring) write(in []float64) {
	if len(in) >= len(r.buf) {
		copy(r.buf, in[len(in)-len(r.buf):])
		r.index = 0
		r.written += len(in)
		return
	}
	for _, s := range in {
		r.push(s)
	}
}

func (r *ring) push(s float64) {
	r.buf[r.index] = s
	r.index++
	if r.index == len(r.buf) {
		r.index = 0
	}
	r.written++
}

// snapshot returns the buffer contents oldest-first.
func (r *ring) snapshot() []float64 {
	cp := make([]float64, len(r.buf))
	if r.index == 0 {
		copy(cp, r.buf)
		return cp
	}
	n := copy(cp, r.buf[r.index:])
	copy(cp[n:], r.buf[:r.index])
	return cp
}
