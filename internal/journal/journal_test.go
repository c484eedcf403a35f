package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanrai/VoiceShow/internal/analyzer"
	"github.com/hanrai/VoiceShow/internal/classify"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func event(cat classify.Category, sec int64, rms float64) classify.Event {
	fv := analyzer.FeatureVector{RMS: rms, SpectralCentroid: 1200, ZCR: 600, Loudness: -25}
	fv.MFCC[0] = -3.5
	return classify.Event{Type: cat, Confidence: 0.6, Timestamp: time.Unix(sec, 0).UTC(), Features: fv}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	_, err := s.Record(ctx, "a", event(classify.Speech, 10, 0.1))
	require.NoError(t, err)
	_, err = s.Record(ctx, "a", event(classify.Cough, 30, 0.3))
	require.NoError(t, err)
	_, err = s.Record(ctx, "b", event(classify.Laugh, 20, 0.2))
	require.NoError(t, err)

	got, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	cats := []classify.Category{got[0].Category, got[1].Category, got[2].Category}
	if diff := cmp.Diff([]classify.Category{classify.Cough, classify.Laugh, classify.Speech}, cats); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, event(classify.Cough, 30, 0.3).Features, got[0].Features)
	assert.Equal(t, time.Unix(30, 0).UTC(), got[0].Timestamp)
	assert.NotEmpty(t, got[0].ID)
}

func TestRecentLimit(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Record(ctx, "a", event(classify.Breath, int64(i), 0.01))
		require.NoError(t, err)
	}
	got, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, time.Unix(4, 0).UTC(), got[0].Timestamp)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestEmptyJournal(t *testing.T) {
	got, err := openMemory(t).Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCountBySessionAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Record(ctx, "sess", event(classify.Sneeze, 1, 0.5))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.CountBySession(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.CountBySession(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)
}
