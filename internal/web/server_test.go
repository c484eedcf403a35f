package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanrai/VoiceShow/internal/classify"
	"github.com/hanrai/VoiceShow/internal/journal"
	"github.com/hanrai/VoiceShow/internal/params"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

type fakeBackend struct {
	mu     sync.Mutex
	p      params.Parameters
	resets int
	frames uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{p: params.Defaults()}
}

func (f *fakeBackend) Snapshot() pipeline.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames++
	return pipeline.Snapshot{SessionID: "test", Counters: pipeline.Counters{Frames: f.frames}}
}

func (f *fakeBackend) Params() params.Parameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.p.Clone()
}

func (f *fakeBackend) UpdateParams(patch params.Patch) (params.Parameters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := f.p.Apply(patch)
	if err != nil {
		return params.Parameters{}, err
	}
	f.p = next
	return next.Clone(), nil
}

func (f *fakeBackend) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSnapshotEndpoint(t *testing.T) {
	s := NewServer(Config{Backend: newFakeBackend()})
	rec := do(t, s.Handler(), http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "test", snap.SessionID)
}

func TestParamsRoundTrip(t *testing.T) {
	b := newFakeBackend()
	h := NewServer(Config{Backend: b}).Handler()

	rec := do(t, h, http.MethodGet, "/api/params", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got params.Parameters
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, classify.DefaultThreshold, got.Classify.Threshold)

	rec = do(t, h, http.MethodPost, "/api/params", `{"threshold":0.3,"weights":{"noise":{"rms":0.5,"zcr":0.5}}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0.3, b.Params().Classify.Threshold)
	assert.Equal(t, 0.5, b.Params().Classify.Profiles[classify.Noise].Weights.ZCR)
}

func TestParamsRejectsBadInput(t *testing.T) {
	b := newFakeBackend()
	h := NewServer(Config{Backend: b}).Handler()

	rec := do(t, h, http.MethodPost, "/api/params", `{"threshold":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/params", `{"palette":"box"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/params", `{"threshold":4}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, classify.DefaultThreshold, b.Params().Classify.Threshold)

	rec = do(t, h, http.MethodGet, "/api/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestResetEndpoint(t *testing.T) {
	b := newFakeBackend()
	rec := do(t, NewServer(Config{Backend: b}).Handler(), http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, b.resets)
}

func TestEventsEndpoint(t *testing.T) {
	b := newFakeBackend()

	rec := do(t, NewServer(Config{Backend: b}).Handler(), http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store, err := journal.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.Record(ctx, "s", classify.Event{Type: classify.Cough, Confidence: 0.5, Timestamp: time.Unix(int64(i), 0)})
		require.NoError(t, err)
	}

	h := NewServer(Config{Backend: b, Events: store}).Handler()
	rec = do(t, h, http.MethodGet, "/api/events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []journal.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Timestamp.Equal(time.Unix(2, 0)), entries[0].Timestamp)

	rec = do(t, h, http.MethodGet, "/api/events?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRouteOptional(t *testing.T) {
	b := newFakeBackend()
	rec := do(t, NewServer(Config{Backend: b}).Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("voiceshow_frames_total 1\n"))
	})
	rec = do(t, NewServer(Config{Backend: b, Metrics: metrics}).Handler(), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voiceshow_frames_total")
}

func readSnapshot(t *testing.T, conn *websocket.Conn) pipeline.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var snap pipeline.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestWebSocketPushesSnapshots(t *testing.T) {
	s := NewServer(Config{Backend: newFakeBackend(), PushInterval: 20 * time.Millisecond})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "ws://" + ln.Addr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readSnapshot(t, conn)
	assert.Equal(t, "test", first.SessionID)
	second := readSnapshot(t, conn)
	assert.Greater(t, second.Counters.Frames, first.Counters.Frames)
	assert.Equal(t, 1, s.ClientCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Zero(t, s.ClientCount())
}
