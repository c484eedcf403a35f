package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanrai/VoiceShow/internal/audio"
	"github.com/hanrai/VoiceShow/internal/classify"
	"github.com/hanrai/VoiceShow/internal/params"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHeadless(t *testing.T, mutate func(*Config)) *App {
	t.Helper()
	cfg := Config{
		DisableAudio: true,
		Headless:     true,
		FrameSize:    1024,
		Seed:         7,
		TargetFPS:    100,
		Log:          quietLogger(),
		Out:          &bytes.Buffer{},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestStepProcessesSynthFrames(t *testing.T) {
	dir := t.TempDir()
	a := newHeadless(t, func(c *Config) {
		c.JournalPath = filepath.Join(dir, "onsets.db")
	})

	ctx := context.Background()
	for i := 0; i < 60; i++ {
		a.step(ctx)
	}

	snap := a.Snapshot()
	assert.Equal(t, uint64(60), snap.Counters.Frames)
	assert.Positive(t, snap.Counters.Silent)

	n, err := a.journal.CountBySession(ctx, snap.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int(snap.Counters.Onsets), n)
}

func TestStepDrainsQueue(t *testing.T) {
	a := newHeadless(t, func(c *Config) { c.QueueSize = 4 })
	for i := 0; i < 6; i++ {
		f, ok := a.source.Frame()
		require.True(t, ok)
		a.queue.Push(f)
	}

	a.step(context.Background())
	assert.Equal(t, uint64(4), a.Snapshot().Counters.Frames)
	assert.Equal(t, uint64(2), a.dropped)
	assert.Zero(t, a.queue.Len())
}

// stallingSource hands out its frames once each and then goes quiet.
type stallingSource struct {
	frames     []audio.Frame
	restarts   int
	generation uint64
}

func (s *stallingSource) Frame() (audio.Frame, bool) {
	if len(s.frames) == 0 {
		return audio.Frame{}, false
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, true
}

func (s *stallingSource) SampleRate() float64 { return 16000 }
func (s *stallingSource) Generation() uint64  { return s.generation }
func (s *stallingSource) Close() error        { return nil }

func (s *stallingSource) Restart() error {
	s.restarts++
	s.generation++
	return nil
}

func TestStepRestartsStalledSource(t *testing.T) {
	a := newHeadless(t, nil)
	src := &stallingSource{frames: []audio.Frame{{
		Samples:    make([]float64, 1024),
		SampleRate: 16000,
		Timestamp:  time.Now(),
	}}}
	a.source = src
	ctx := context.Background()

	a.step(ctx)
	a.step(ctx)
	assert.Equal(t, uint64(1), a.Snapshot().Counters.Frames)
	assert.Zero(t, src.restarts)

	a.lastFrame = time.Now().Add(-2 * stallTimeout)
	a.step(ctx)
	assert.Equal(t, 1, src.restarts)
	assert.Equal(t, uint64(1), a.generation)
	assert.Zero(t, a.Snapshot().Counters.Frames)

	a.step(ctx)
	assert.Equal(t, 1, src.restarts)
}

func TestUpdateParams(t *testing.T) {
	a := newHeadless(t, nil)

	th := 0.5
	got, err := a.UpdateParams(params.Patch{Threshold: &th})
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Classify.Threshold)
	assert.Equal(t, 0.5, a.Params().Classify.Threshold)

	bad := 2.0
	_, err = a.UpdateParams(params.Patch{Threshold: &bad})
	assert.Error(t, err)
	assert.Equal(t, 0.5, a.Params().Classify.Threshold)

	_, err = a.UpdateParams(params.Patch{Weights: map[classify.Category]*classify.Weights{"hiccup": {RMS: 1}}})
	assert.Error(t, err)
}

func TestResetStartsNewSession(t *testing.T) {
	a := newHeadless(t, nil)
	a.step(context.Background())
	before := a.Snapshot().SessionID

	a.Reset()
	snap := a.Snapshot()
	assert.NotEqual(t, before, snap.SessionID)
	assert.Zero(t, snap.Counters.Frames)
}

func TestSeedOverridesClusterSeed(t *testing.T) {
	a := newHeadless(t, nil)
	assert.Equal(t, uint64(7), a.Params().Cluster.Seed)
}

func TestReloadParamsKeepsSeedAndRejectsInvalid(t *testing.T) {
	a := newHeadless(t, nil)

	p := params.Defaults()
	p.Meter.Palette = "box"
	a.reloadParams(p)
	assert.Equal(t, "box", a.Params().Meter.Palette)
	assert.Equal(t, uint64(7), a.Params().Cluster.Seed)

	p.ReclusterEvery = -1
	a.reloadParams(p)
	assert.GreaterOrEqual(t, a.Params().ReclusterEvery, 0)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newHeadless(t, func(c *Config) { c.QueueSize = 8 })
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, a.Run(ctx))
	assert.Positive(t, a.Snapshot().Counters.Frames)
}

func TestProfilerWritesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.csv")
	p := newProfiler(path, quietLogger())
	require.NotNil(t, p)

	p.beginFrame()
	p.mark("process")
	p.mark("render")
	p.endFrame()
	require.NoError(t, p.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "timestamp,frame,stage,ms", lines[0])
	assert.Contains(t, lines[1], ",1,process,")
	assert.Contains(t, lines[3], ",1,total,")
}

func TestNilProfilerIsNoop(t *testing.T) {
	var p *profiler
	p.beginFrame()
	p.mark("process")
	p.endFrame()
	assert.NoError(t, p.Close())
	assert.Nil(t, newProfiler("", quietLogger()))
}

func TestStatusBar(t *testing.T) {
	assert.Equal(t, "abc  ", statusBar("abc", 5))
	assert.Equal(t, "ab", statusBar("abc", 2))
	assert.Equal(t, "abc", statusBar("abc", 0))
}
