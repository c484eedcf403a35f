package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hanrai/VoiceShow/internal/journal"
	"github.com/hanrai/VoiceShow/internal/observe"
	"github.com/hanrai/VoiceShow/internal/params"
	"github.com/hanrai/VoiceShow/internal/pipeline"
)

// Backend is the running pipeline as seen by HTTP clients.
type Backend interface {
	Snapshot() pipeline.Snapshot
	Params() params.Parameters
	UpdateParams(params.Patch) (params.Parameters, error)
	Reset()
}

// EventLister reads the onset journal.
type EventLister interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Config wires a Server. Events and Metrics are optional.
type Config struct {
	Backend Backend
	Events  EventLister
	// Metrics serves GET /metrics when set.
	Metrics     http.Handler
	Instruments *observe.Metrics
	Log         *slog.Logger
	// PushInterval is the websocket snapshot cadence; default 250ms.
	PushInterval time.Duration
}

// Server exposes snapshots, parameters and the journal over HTTP and pushes
// snapshots to websocket clients.
type Server struct {
	cfg       Config
	log       *slog.Logger
	upgrader  websocket.Upgrader
	broadcast chan []byte

	mu      sync.RWMutex
	clients map[*websocketClient]bool
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 250 * time.Millisecond
	}
	return &Server{
		cfg:       cfg,
		log:       cfg.Log.With("component", "web"),
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 16),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/params", s.handleGetParams)
	mux.HandleFunc("POST /api/params", s.handleUpdateParams)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	return mux
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.broadcastLoop(loopCtx)
	go s.pushLoop(loopCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	s.closeClients()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Backend.Snapshot())
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Backend.Params())
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	var patch params.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	updated, err := s.cfg.Backend.UpdateParams(patch)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
		return
	}
	s.log.Info("parameters updated over http", "threshold", updated.Classify.Threshold)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.cfg.Backend.Reset()
	writeJSON(w, http.StatusOK, s.cfg.Backend.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "journal disabled"})
		return
	}
	limit := journal.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer in 1..1000"})
			return
		}
		limit = n
	}
	entries, err := s.cfg.Events.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error("journal query failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "journal query failed"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 8),
		server: s,
	}

	// The first frame goes out immediately instead of waiting a tick.
	first, err := json.Marshal(s.cfg.Backend.Snapshot())
	s.mu.Lock()
	s.clients[client] = true
	if err == nil {
		client.send <- first
	}
	s.mu.Unlock()
	s.cfg.Instruments.ClientConnected(r.Context())

	go client.writePump()
	go client.readPump()
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	if !s.clients[c] {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c)
	close(c.send)
	s.mu.Unlock()
	s.cfg.Instruments.ClientDisconnected(context.Background())
}

func (s *Server) closeClients() {
	s.mu.RLock()
	clients := make([]*websocketClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			var slow []*websocketClient
			s.mu.RLock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			s.mu.RUnlock()
			for _, c := range slow {
				s.log.Debug("dropping slow websocket client")
				s.removeClient(c)
			}
		}
	}
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.ClientCount() == 0 {
			continue
		}
		data, err := json.Marshal(s.cfg.Backend.Snapshot())
		if err != nil {
			s.log.Error("encode snapshot", "err", err)
			continue
		}
		select {
		case s.broadcast <- data:
		default:
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1 << 12)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// One snapshot per message; clients parse each frame as JSON.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}
