package render

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hanrai/VoiceShow/internal/classify"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

const labelWidth = 10

// Frame contains the rendered lines and the status text.
type Frame struct {
	Lines  []string
	Status string
}

// Meter draws a session snapshot as text: a feature readout, one score bar
// per category, the normalized feature strip and a cluster summary.
type Meter struct {
	width       int
	height      int
	barWidth    int
	paletteName string
	ramp        []rune
	useANSI     bool

	line strings.Builder
}

// New creates a Meter.
func New(width, height int, paletteName string, barWidth int, useANSI bool) (*Meter, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions: width=%d height=%d", width, height)
	}
	m := &Meter{width: width, height: height, useANSI: useANSI}
	m.Configure(paletteName, barWidth)
	return m, nil
}

// Configure switches palette and bar width.
func (m *Meter) Configure(paletteName string, barWidth int) {
	if paletteName == "" {
		paletteName = "default"
	}
	if barWidth <= 0 {
		barWidth = 30
	}
	m.paletteName = paletteName
	m.ramp = Palette(paletteName)
	m.barWidth = barWidth
}

// Resize adapts to a new terminal size.
func (m *Meter) Resize(width, height int) {
	if width > 0 {
		m.width = width
	}
	if height > 0 {
		m.height = height
	}
}

func (m *Meter) PaletteName() string { return m.paletteName }

// Render lays out snap in at most height lines of at most width columns.
func (m *Meter) Render(snap pipeline.Snapshot, fps float64) Frame {
	lines := make([]string, 0, m.height)
	lines = append(lines, m.featureLine(snap), "")

	var current classify.Category
	if snap.Event != nil {
		current = snap.Event.Type
	}
	scores := snap.Scores
	if scores == nil {
		scores = make([]classify.Score, len(classify.Categories))
		for i, c := range classify.Categories {
			scores[i].Category = c
		}
	}
	for _, s := range scores {
		lines = append(lines, m.barLine(s, s.Category == current))
	}

	lines = append(lines, "", m.stripLine(snap.Normalized), m.clusterLine(snap))

	if len(lines) > m.height {
		lines = lines[:m.height]
	}
	for len(lines) < m.height {
		lines = append(lines, "")
	}
	return Frame{Lines: lines, Status: m.status(snap, fps)}
}

func (m *Meter) featureLine(snap pipeline.Snapshot) string {
	if snap.Features == nil {
		return m.fit("features  waiting for signal")
	}
	f := snap.Features
	b := &m.line
	b.Reset()
	b.WriteString(pad("features", labelWidth))
	b.WriteString("rms ")
	appendFloat(b, f.RMS, 3)
	b.WriteString("  centroid ")
	appendFloat(b, f.SpectralCentroid, 0)
	b.WriteString("Hz  zcr ")
	appendFloat(b, f.ZCR, 0)
	b.WriteString("/s  loud ")
	appendFloat(b, f.Loudness, 1)
	b.WriteString("dB  pitch ")
	if f.Pitch > 0 {
		appendFloat(b, f.Pitch, 0)
		b.WriteString("Hz")
	} else {
		b.WriteString("-")
	}
	return m.fit(b.String())
}

func (m *Meter) barLine(s classify.Score, active bool) string {
	width := min(m.barWidth, m.width-labelWidth-9)
	if width < 1 {
		return m.fit(pad(s.Category.String(), labelWidth))
	}
	filled := clamp01(s.Score) * float64(width)
	full := int(filled)
	full = min(full, width)

	bar := make([]rune, width)
	top := m.ramp[len(m.ramp)-1]
	for i := range bar {
		switch {
		case i < full:
			bar[i] = top
		case i == full:
			bar[i] = glyph(m.ramp, filled-float64(full))
		default:
			bar[i] = ' '
		}
	}

	marker := "  "
	if active {
		marker = " <"
	}
	score := strconv.FormatFloat(s.Score, 'f', 2, 64)
	label := pad(s.Category.String(), labelWidth)
	if !m.useANSI {
		return m.fit(label + "[" + string(bar) + "] " + score + marker)
	}
	color := categoryColor(s.Category, s.Score)
	if active {
		color = boldANSI + color
	}
	return label + "[" + color + string(bar) + resetANSI + "] " + score + marker
}

func (m *Meter) stripLine(normalized []float64) string {
	b := &m.line
	b.Reset()
	b.WriteString(pad("shape", labelWidth))
	if len(normalized) == 0 {
		b.WriteString("-")
		return m.fit(b.String())
	}
	for _, v := range normalized {
		b.WriteRune(glyph(m.ramp, v))
	}
	return m.fit(b.String())
}

func (m *Meter) clusterLine(snap pipeline.Snapshot) string {
	b := &m.line
	b.Reset()
	b.WriteString(pad("clusters", labelWidth))
	b.WriteString(strconv.Itoa(len(snap.Clusters)))
	if len(snap.Clusters) > 0 {
		b.WriteString(" sizes")
		for _, c := range snap.Clusters {
			b.WriteByte(' ')
			b.WriteString(strconv.Itoa(len(c.Points)))
		}
	}
	b.WriteString(" | window ")
	b.WriteString(strconv.Itoa(snap.Window))
	return m.fit(b.String())
}

func (m *Meter) status(snap pipeline.Snapshot, fps float64) string {
	b := &m.line
	b.Reset()
	b.Grow(96)
	id := snap.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	b.WriteString("session ")
	b.WriteString(id)
	b.WriteString(" | frames ")
	b.WriteString(strconv.FormatUint(snap.Counters.Frames, 10))
	b.WriteString(" events ")
	b.WriteString(strconv.FormatUint(snap.Counters.Events, 10))
	b.WriteString(" onsets ")
	b.WriteString(strconv.FormatUint(snap.Counters.Onsets, 10))
	b.WriteString(" silent ")
	b.WriteString(strconv.FormatUint(snap.Counters.Silent, 10))
	b.WriteString(" | palette=")
	b.WriteString(m.paletteName)
	b.WriteString(" fps ")
	appendFloat(b, fps, 1)
	return b.String()
}

// fit truncates plain text to the meter width.
func (m *Meter) fit(s string) string {
	if utf8.RuneCountInString(s) <= m.width {
		return s
	}
	return string([]rune(s)[:m.width])
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func appendFloat(builder *strings.Builder, value float64, precision int) {
	var buf [32]byte
	b := strconv.AppendFloat(buf[:0], value, 'f', precision, 64)
	builder.Write(b)
}
