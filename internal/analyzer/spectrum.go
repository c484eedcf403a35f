package analyzer

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"

	"github.com/hanrai/VoiceShow/internal/audio"
)

// spectrum is a magnitude spectrum with uniform bin spacing starting at 0 Hz.
type spectrum struct {
	mag   []float64
	binHz float64
}

func (s spectrum) freq(i int) float64 {
	return float64(i) * s.binHz
}

// magnitudes returns the frame's linear magnitude spectrum. Source-provided
// magnitudes win; otherwise the samples are windowed and transformed.
func (e *Extractor) magnitudes(frame audio.Frame) spectrum {
	if len(frame.Magnitudes) > 0 {
		return e.providedSpectrum(frame)
	}

	size := nextPow2(len(frame.Samples))
	if size < e.cfg.MinFFTSize {
		size = e.cfg.MinFFTSize
	}
	if size > e.cfg.MaxFFTSize {
		size = e.cfg.MaxFFTSize
	}
	e.ensureWorkspace(size)

	// The newest samples matter most when the frame is longer than the FFT.
	samples := frame.Samples
	if len(samples) > size {
		samples = samples[len(samples)-size:]
	}
	n := len(samples)
	win := e.window
	if n < size {
		win = window.Hann(n)
	}
	for i := 0; i < size; i++ {
		if i < n {
			e.buffer[i] = samples[i] * win[i]
			continue
		}
		e.buffer[i] = 0
	}

	res := fft.FFTReal(e.buffer)
	half := size/2 + 1
	for i := 0; i < half; i++ {
		e.mag[i] = cmplx.Abs(res[i])
	}
	return spectrum{mag: e.mag[:half], binHz: frame.SampleRate / float64(size)}
}

// providedSpectrum converts analyser-style bins (frequencyBinCount = N/2,
// bin i at i*sr/N) to linear magnitudes.
func (e *Extractor) providedSpectrum(frame audio.Frame) spectrum {
	n := len(frame.Magnitudes)
	if cap(e.provided) < n {
		e.provided = make([]float64, n)
	}
	mag := e.provided[:n]
	for i, v := range frame.Magnitudes {
		if frame.Scale == audio.ScaleDecibel {
			if math.IsInf(v, -1) {
				mag[i] = 0
				continue
			}
			mag[i] = math.Pow(10, v/20)
			continue
		}
		mag[i] = math.Abs(v)
	}
	return spectrum{mag: mag, binHz: frame.SampleRate / float64(2*n)}
}

func (e *Extractor) ensureWorkspace(size int) {
	if len(e.buffer) != size {
		e.buffer = make([]float64, size)
		e.mag = make([]float64, size/2+1)
		e.window = window.Hann(size)
	}
}

// centroid is the magnitude-weighted mean frequency.
func centroid(s spectrum) float64 {
	var num, den float64
	for i, m := range s.mag {
		num += s.freq(i) * m
		den += m
	}
	if den < 1e-12 {
		return 0
	}
	return num / den
}

// rolloff returns the first bin frequency at which the cumulative energy
// reaches fraction of the total.
func rolloff(s spectrum, fraction float64) float64 {
	total := floats.Dot(s.mag, s.mag)
	if total < 1e-12 {
		return 0
	}
	target := fraction * total
	cum := 0.0
	for i, m := range s.mag {
		cum += m * m
		if cum >= target {
			return s.freq(i)
		}
	}
	return s.freq(len(s.mag) - 1)
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
