package analyzer

import "math"

// melBank holds a triangular mel filterbank and the DCT-II basis for one
// (bins, bin spacing) layout.
type melBank struct {
	bins    int
	binHz   float64
	filters [][]float64
	dct     [][]float64
	energy  []float64
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// newMelBank builds numFilters triangles equally spaced on the mel scale
// between 0 Hz and the highest bin frequency.
func newMelBank(bins int, binHz float64, numFilters, numCoeffs int) *melBank {
	b := &melBank{
		bins:    bins,
		binHz:   binHz,
		filters: make([][]float64, numFilters),
		energy:  make([]float64, numFilters),
	}

	highMel := hzToMel(float64(bins-1) * binHz)
	edges := make([]float64, numFilters+2)
	for i := range edges {
		edges[i] = melToHz(highMel * float64(i) / float64(numFilters+1))
	}

	for m := 0; m < numFilters; m++ {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		f := make([]float64, bins)
		for k := 0; k < bins; k++ {
			hz := float64(k) * binHz
			switch {
			case hz > left && hz <= center && center > left:
				f[k] = (hz - left) / (center - left)
			case hz > center && hz < right && right > center:
				f[k] = (right - hz) / (right - center)
			}
		}
		b.filters[m] = f
	}

	b.dct = make([][]float64, numCoeffs)
	for k := 0; k < numCoeffs; k++ {
		row := make([]float64, numFilters)
		scale := math.Sqrt(2.0 / float64(numFilters))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(numFilters))
		}
		for n := 0; n < numFilters; n++ {
			row[n] = scale * math.Cos(math.Pi*float64(k)*(float64(n)+0.5)/float64(numFilters))
		}
		b.dct[k] = row
	}
	return b
}

func (b *melBank) matches(bins int, binHz float64) bool {
	return b != nil && b.bins == bins && b.binHz == binHz
}

// coefficients computes MFCCs from a linear magnitude spectrum into out.
func (b *melBank) coefficients(mag []float64, out []float64) {
	for m, filter := range b.filters {
		sum := 0.0
		for k, w := range filter {
			if w == 0 {
				continue
			}
			sum += mag[k] * mag[k] * w
		}
		if sum < 1e-10 {
			sum = 1e-10
		}
		b.energy[m] = math.Log(sum)
	}
	dctInto(b.dct, b.energy, out)
}

func dctInto(basis [][]float64, in, out []float64) {
	for k := range out {
		if k >= len(basis) {
			out[k] = 0
			continue
		}
		sum := 0.0
		for n, v := range in {
			sum += basis[k][n] * v
		}
		out[k] = sum
	}
}
