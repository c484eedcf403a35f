package render

var (
	defaultPalette = []rune(" .:-=+*#%@")
	boxPalette     = []rune(" ░▒▓█")
	blockPalette   = []rune(" ▁▂▃▄▅▆▇█")
	asciiPalette   = []rune(" .oO#")
)

// Palette returns the intensity ramp used for bars and strips, dimmest
// first. Unknown names fall back to the default ramp.
func Palette(name string) []rune {
	switch name {
	case "box":
		return boxPalette
	case "block":
		return blockPalette
	case "ascii":
		return asciiPalette
	default:
		return defaultPalette
	}
}

// PaletteNames returns all palette identifiers.
func PaletteNames() []string {
	return []string{"default", "box", "block", "ascii"}
}

// glyph maps v in [0,1] onto the ramp.
func glyph(ramp []rune, v float64) rune {
	if len(ramp) == 0 {
		return ' '
	}
	idx := int(clamp01(v)*float64(len(ramp)-1) + 0.5)
	return ramp[idx]
}
