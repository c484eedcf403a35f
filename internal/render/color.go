package render

import (
	"math"
	"strconv"

	"github.com/hanrai/VoiceShow/internal/classify"
)

var (
	resetANSI       = "\x1b[0m"
	boldANSI        = "\x1b[1m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// categoryHue spreads the categories around the colour wheel.
var categoryHue = map[classify.Category]float64{
	classify.Cough:  0.00,
	classify.Speech: 0.58,
	classify.Laugh:  0.14,
	classify.Sneeze: 0.83,
	classify.Breath: 0.45,
	classify.Noise:  0.08,
}

func categoryColor(c classify.Category, intensity float64) string {
	h, ok := categoryHue[c]
	if !ok {
		return colorCode(hsvToANSI(0, 0, 0.4+0.6*intensity))
	}
	return colorCode(hsvToANSI(h, 0.85, 0.45+0.55*intensity))
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func hsvToANSI(h, s, v float64) int {
	r, g, b := hsvToRGB(h, s, v)
	return rgbToANSI(r, g, b)
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = clamp01(h)
	s = clamp01(s)
	v = clamp01(v)
	if s == 0 {
		return v, v, v
	}

	hv := h * 6.0
	i := math.Floor(hv)
	f := hv - i
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

// rgbToANSI picks the nearest xterm-256 cube or grey entry.
func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		return 232 + int(math.Round(r*23))
	}
	ri := int(math.Min(r*5+0.5, 5))
	gi := int(math.Min(g*5+0.5, 5))
	bi := int(math.Min(b*5+0.5, 5))
	return 16 + 36*ri + 6*gi + bi
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
