package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

// Server is the frame-relay server. It owns the registry of active
// sessions, accepts WebSocket connections, dispatches incoming messages,
// and broadcasts outgoing frames.
type Server struct {
	config *Config

	// Session registry, guarded by mu. Insert/remove take the lock
	// exclusively; lookups and broadcast snapshots take it shared.
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   atomic.Uint64

	upgrader   websocket.Upgrader
	httpServer *http.Server
	listener   net.Listener

	metrics *metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	running atomic.Bool
}

// New creates a relay server, filling unset config fields from defaults.
func New(config *Config) *Server {
	config = config.withDefaults()
	logger := slog.Default().With("component", "server")

	return &Server{
		config:   config,
		sessions: make(map[uint64]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			CheckOrigin:       config.CheckOrigin,
			EnableCompression: config.EnableCompression,
		},
		metrics: newMetrics(),
		tracer:  newTracer(),
		logger:  logger,
	}
}

// Handler returns the HTTP handler: the WebSocket endpoint plus health,
// metrics, and stats routes.
func (srv *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", srv.handleWebSocket)
	r.Get("/healthz", srv.handleHealth)
	r.Get("/stats", srv.handleStats)
	r.Handle("/metrics", promhttp.HandlerFor(srv.metrics.registry, promhttp.HandlerOpts{}))
	return r
}

// Start binds the listening socket and serves connections in the
// background. Bind failures are returned synchronously.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.config.Addr)
	if err != nil {
		return fmt.Errorf("server: bind %s: %w", srv.config.Addr, err)
	}
	srv.listener = ln
	srv.httpServer = &http.Server{Handler: srv.Handler()}
	srv.running.Store(true)

	go func() {
		srv.logger.Info("sidecar listening", "address", ln.Addr().String())
		if err := srv.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			srv.logger.Error("serve error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listen address, or the configured address before
// Start.
func (srv *Server) Addr() string {
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.config.Addr
}

// Stop closes every session and releases the listening socket.
func (srv *Server) Stop(ctx context.Context) error {
	if !srv.running.Swap(false) {
		return ErrServerClosed
	}

	ctx, cancel := context.WithTimeout(ctx, srv.config.ShutdownTimeout)
	defer cancel()

	srv.mu.Lock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.Unlock()

	for _, s := range sessions {
		s.close(protocol.StateDisconnected)
	}

	if srv.httpServer != nil {
		if err := srv.httpServer.Shutdown(ctx); err != nil {
			srv.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	srv.logger.Info("server shutdown complete")
	return nil
}

// Run starts the server and blocks until SIGINT/SIGTERM, then shuts down
// gracefully.
func (srv *Server) Run() error {
	if err := srv.Start(); err != nil {
		return err
	}
	return srv.Wait()
}

// Wait blocks until SIGINT/SIGTERM, then shuts the server down.
func (srv *Server) Wait() error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown

	srv.logger.Info("shutting down...")
	return srv.Stop(context.Background())
}

// ClientCount returns the number of registered sessions.
func (srv *Server) ClientCount() int {
	srv.mu.RLock()
	defer srv.mu.RUnlock()
	return len(srv.sessions)
}

// handleWebSocket upgrades the connection and, if admitted, runs the
// session's read and forwarding goroutines.
func (srv *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s, err := srv.addSession(conn)
	if err != nil {
		srv.logger.Warn("connection rejected", "remote", conn.RemoteAddr().String(), "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "max clients reached"),
			writeControlDeadline(srv.config))
		conn.Close()
		return
	}

	s.logger.Info("client connected", "remote", conn.RemoteAddr().String())
	s.setState(protocol.StateConnected)
	srv.metrics.activeClients.Inc()
	srv.metrics.connectionsTotal.Inc()

	go srv.forwardLoop(s)
	srv.readLoop(s)
}

// addSession registers a new session unless the client limit is reached.
// Admission and registration happen under one exclusive lock so a burst of
// connections cannot overshoot the limit.
func (srv *Server) addSession(conn *websocket.Conn) (*Session, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if len(srv.sessions) >= srv.config.MaxClients {
		return nil, ErrMaxClients
	}

	id := srv.nextID.Add(1)
	s := newSession(id, conn, srv.config.FrameBufferSize, srv.logger)
	srv.sessions[id] = s
	return s, nil
}

// removeSession tears down and unregisters a session. A session that
// already reached a terminal state keeps it; otherwise this is a graceful
// disconnect.
func (srv *Server) removeSession(s *Session) {
	if state := s.State(); state == protocol.StateError {
		s.close(protocol.StateError)
	} else {
		s.close(protocol.StateDisconnected)
	}

	srv.mu.Lock()
	_, present := srv.sessions[s.ID]
	delete(srv.sessions, s.ID)
	srv.mu.Unlock()

	if present {
		srv.metrics.activeClients.Dec()
		s.logger.Info("client disconnected", "state", string(s.State()))
	}
}

// BroadcastFrame sends a frameAck notification plus the frame's raw
// payload to every registered session, converting the payload to each
// session's negotiated format when they differ. Sessions whose format has
// no conversion path from the frame's format are skipped.
func (srv *Server) BroadcastFrame(f *frame.Frame) error {
	if !srv.running.Load() {
		return ErrServerClosed
	}

	srv.mu.RLock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.RUnlock()

	// One conversion per distinct target format, shared across sessions.
	converted := map[protocol.FrameFormat][]byte{f.Meta.Format: f.Data}

	for _, s := range sessions {
		format, _, _ := s.Format()
		payload, ok := converted[format]
		if !ok {
			cf, err := f.Convert(format)
			if err != nil {
				s.logger.Warn("skipping session in broadcast",
					"format", string(format), "error", err)
				continue
			}
			converted[format] = cf.Data
			payload = cf.Data
		}

		ack := &protocol.FrameAck{Sequence: f.Meta.Sequence, Latency: 0}
		if err := s.sendFrame(ack, payload); err != nil {
			s.logger.Warn("broadcast enqueue failed", "error", err)
		}
	}

	srv.metrics.framesBroadcast.Inc()
	return nil
}

// SessionStats is one session's entry in the stats report.
type SessionStats struct {
	ID     uint64                   `json:"id"`
	State  protocol.ConnectionState `json:"state"`
	Format protocol.FrameFormat     `json:"format"`
	Width  uint32                   `json:"width"`
	Height uint32                   `json:"height"`
	Stats  protocol.Stats           `json:"stats"`
}

// ServerStats is the JSON body served by the stats endpoint.
type ServerStats struct {
	Clients  int            `json:"clients"`
	Sessions []SessionStats `json:"sessions"`
}

// Stats returns a snapshot of all session statistics, ordered by id.
func (srv *Server) Stats() ServerStats {
	srv.mu.RLock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	out := ServerStats{Clients: len(sessions), Sessions: make([]SessionStats, 0, len(sessions))}
	for _, s := range sessions {
		format, width, height := s.Format()
		out.Sessions = append(out.Sessions, SessionStats{
			ID:     s.ID,
			State:  s.State(),
			Format: format,
			Width:  width,
			Height: height,
			Stats:  s.Stats(),
		})
	}
	return out
}

func (srv *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (srv *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(srv.Stats()); err != nil {
		srv.logger.Error("stats encode error", "error", err)
	}
}
