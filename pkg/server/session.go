package server

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

// Session is the per-connection server-side state: the negotiated frame
// format, the frame ring buffer, statistics, and the outbound send queue.
//
// A session is created when a connection is accepted and destroyed when the
// connection closes. Its interior is single-writer: only the connection's
// read goroutine dispatches messages, so the ring buffer, rate tracker, and
// pending announcement need no locking. The small mu guards fields that the
// stats endpoint and broadcast path read from other goroutines.
type Session struct {
	// ID is the monotonically assigned connection id.
	ID uint64

	// CreatedAt is the accept time.
	CreatedAt time.Time

	conn *websocket.Conn
	out  *sendQueue
	done chan struct{}

	// Negotiated state and connection lifecycle, guarded by mu.
	mu     sync.RWMutex
	state  protocol.ConnectionState
	config *protocol.Config
	format protocol.FrameFormat
	width  uint32
	height uint32

	// Single-writer dispatch state (read goroutine only).
	ring    *frame.Ring
	rate    *frame.RateTracker
	pending *protocol.FrameMetadata

	// Statistics.
	framesReceived   atomic.Uint64
	framesDropped    atomic.Uint64
	bytesTransferred atomic.Uint64
	currentFPS       atomic.Uint64 // math.Float64bits
	avgLatency       atomic.Uint64 // math.Float64bits

	closed atomic.Bool
	logger *slog.Logger
}

// Frame format applied to a connection before any setFormat arrives.
const (
	defaultFrameWidth  = 640
	defaultFrameHeight = 480
)

func newSession(id uint64, conn *websocket.Conn, bufferSize int, logger *slog.Logger) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		conn:      conn,
		out:       newSendQueue(),
		done:      make(chan struct{}),
		state:     protocol.StateConnecting,
		config:    protocol.DefaultConfig(),
		format:    protocol.FormatRGBA,
		width:     defaultFrameWidth,
		height:    defaultFrameHeight,
		ring:      frame.NewRing(bufferSize),
		rate:      frame.NewRateTracker(frame.DefaultRateWindow),
		logger:    logger.With("session", id),
	}
}

// State returns the connection lifecycle state.
func (s *Session) State() protocol.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state protocol.ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Format returns the negotiated frame format and dimensions.
func (s *Session) Format() (protocol.FrameFormat, uint32, uint32) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format, s.width, s.height
}

func (s *Session) setFormat(format protocol.FrameFormat, width, height uint32) {
	s.mu.Lock()
	s.format = format
	s.width = width
	s.height = height
	s.mu.Unlock()
}

// applyMode overwrites the session mode and any config fields present in
// the update. Absent fields keep their current values.
func (s *Session) applyMode(mode protocol.Mode, update *protocol.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.config.Mode = mode
	if update == nil {
		return
	}
	if update.TargetFPS != nil {
		s.config.TargetFPS = update.TargetFPS
	}
	if update.PreferredFormat != nil {
		s.config.PreferredFormat = update.PreferredFormat
	}
	if update.RemoteURL != nil {
		s.config.RemoteURL = update.RemoteURL
	}
	if update.EnableCompression != nil {
		s.config.EnableCompression = update.EnableCompression
	}
	if update.RingBufferSize != nil {
		s.config.RingBufferSize = update.RingBufferSize
	}
}

// Config returns a copy of the session's sidecar config.
func (s *Session) Config() protocol.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.config
}

// Stats returns a point-in-time statistics snapshot.
func (s *Session) Stats() protocol.Stats {
	return protocol.Stats{
		FramesReceived:   s.framesReceived.Load(),
		FramesDropped:    s.framesDropped.Load(),
		AvgLatency:       math.Float64frombits(s.avgLatency.Load()),
		CurrentFPS:       math.Float64frombits(s.currentFPS.Load()),
		BytesTransferred: s.bytesTransferred.Load(),
	}
}

// BufferedFrames returns the current ring occupancy. Intended for the
// read goroutine and tests; concurrent callers see a stale value at worst.
func (s *Session) BufferedFrames() int {
	return s.ring.Len()
}

// send encodes a control message and queues it for delivery.
func (s *Session) send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	return s.out.enqueue(outMessage{kind: websocket.TextMessage, data: data})
}

// sendFrame queues a frameAck and its binary payload as one batch so no
// other write can land between them.
func (s *Session) sendFrame(ack *protocol.FrameAck, payload []byte) error {
	data, err := protocol.Encode(ack)
	if err != nil {
		return err
	}
	return s.out.enqueue(
		outMessage{kind: websocket.TextMessage, data: data},
		outMessage{kind: websocket.BinaryMessage, data: payload},
	)
}

// sendError reports a request-scoped failure to the client.
func (s *Session) sendError(code, message string) {
	if err := s.send(&protocol.ErrorMessage{Code: code, Message: message}); err != nil {
		s.logger.Warn("error reply dropped", "error", err)
	}
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

// close tears the session down with the given final state. Safe to call
// more than once.
func (s *Session) close(state protocol.ConnectionState) {
	if s.closed.Swap(true) {
		return
	}
	s.setState(state)
	s.out.close()
	close(s.done)
	s.conn.Close()
}
