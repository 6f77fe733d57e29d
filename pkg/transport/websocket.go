package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

// inboxSize bounds the received-message buffer. A full inbox drops the
// oldest message: a client that never polls should not pin memory.
const inboxSize = 64

// defaultWriteTimeout bounds writes when the caller's context carries no
// deadline.
const defaultWriteTimeout = 10 * time.Second

// WebSocketTransport is the native client transport: it dials the sidecar
// server and exchanges JSON control messages and binary frame payloads
// over one WebSocket connection.
type WebSocketTransport struct {
	url    string
	config protocol.Config
	dialer *websocket.Dialer
	logger *slog.Logger

	// writeMu serializes writes so a frame announcement and its payload
	// stay adjacent on the wire.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu    sync.RWMutex
	state protocol.ConnectionState

	inbox  chan protocol.Message
	frames chan *frame.Frame
	done   chan struct{}

	// Format the peer delivers frames in, set by SetFormat.
	format atomic.Value // protocol.FrameFormat
	width  atomic.Uint32
	height atomic.Uint32

	// lastAck holds the sequence of the most recent frameAck, consumed by
	// the next binary payload.
	lastAck atomic.Uint64

	framesReceived   atomic.Uint64
	framesDropped    atomic.Uint64
	bytesTransferred atomic.Uint64
}

var _ Transport = (*WebSocketTransport)(nil)

// NewWebSocket creates a transport that will dial url. The config's
// optional fields default per protocol.DefaultConfig.
func NewWebSocket(url string, config *protocol.Config) *WebSocketTransport {
	if config == nil {
		config = protocol.DefaultConfig()
	}
	t := &WebSocketTransport{
		url:    url,
		config: *config,
		dialer: websocket.DefaultDialer,
		state:  protocol.StateDisconnected,
		logger: slog.Default().With("component", "transport"),
	}
	t.format.Store(protocol.FormatRGBA)
	t.width.Store(640)
	t.height.Store(480)
	return t
}

// State returns the current connection state.
func (t *WebSocketTransport) State() protocol.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *WebSocketTransport) setState(s protocol.ConnectionState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Config returns the transport configuration.
func (t *WebSocketTransport) Config() protocol.Config {
	return t.config
}

// Connect dials the server. On success the transport moves to the
// connected state and starts receiving.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.State() == protocol.StateConnected {
		return nil
	}
	t.setState(protocol.StateConnecting)

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		t.setState(protocol.StateError)
		return fmt.Errorf("%w: dial %s: %v", ErrConnectionFailed, t.url, err)
	}

	t.conn = conn
	t.inbox = make(chan protocol.Message, inboxSize)
	t.frames = make(chan *frame.Frame, inboxSize)
	t.done = make(chan struct{})
	t.setState(protocol.StateConnected)

	go t.readLoop(conn, t.done)
	return nil
}

// Disconnect closes the connection gracefully.
func (t *WebSocketTransport) Disconnect(ctx context.Context) error {
	if t.conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		writeDeadline(ctx))
	t.writeMu.Unlock()

	t.teardown(protocol.StateDisconnected)
	return nil
}

func (t *WebSocketTransport) teardown(state protocol.ConnectionState) {
	t.mu.Lock()
	if t.state == protocol.StateDisconnected || t.state == protocol.StateError {
		t.mu.Unlock()
		return
	}
	t.state = state
	done := t.done
	t.mu.Unlock()

	if done != nil {
		close(done)
	}
	t.conn.Close()
}

// SendFrame transmits the frame announcement and its payload back to back.
func (t *WebSocketTransport) SendFrame(ctx context.Context, f *frame.Frame) error {
	if t.State() != protocol.StateConnected {
		return ErrNotConnected
	}

	announce, err := protocol.Encode(&protocol.FrameAnnounce{Metadata: f.Meta})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(writeDeadline(ctx))
	if err := t.conn.WriteMessage(websocket.TextMessage, announce); err != nil {
		return t.sendError(err)
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, f.Data); err != nil {
		return t.sendError(err)
	}

	t.bytesTransferred.Add(uint64(len(f.Data)))
	return nil
}

// SendMessage transmits one control message.
func (t *WebSocketTransport) SendMessage(ctx context.Context, m protocol.Message) error {
	if t.State() != protocol.StateConnected {
		return ErrNotConnected
	}

	data, err := protocol.Encode(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(writeDeadline(ctx))
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return t.sendError(err)
	}
	return nil
}

// SetFormat negotiates the frame format and dimensions, and records them
// locally so incoming payloads can be reconstructed into frames.
func (t *WebSocketTransport) SetFormat(ctx context.Context, format protocol.FrameFormat, width, height uint32) error {
	if err := t.SendMessage(ctx, &protocol.SetFormat{Format: format, Width: width, Height: height}); err != nil {
		return err
	}
	t.format.Store(format)
	t.width.Store(width)
	t.height.Store(height)
	return nil
}

// Stats returns transfer statistics.
func (t *WebSocketTransport) Stats() protocol.Stats {
	return protocol.Stats{
		FramesReceived:   t.framesReceived.Load(),
		FramesDropped:    t.framesDropped.Load(),
		BytesTransferred: t.bytesTransferred.Load(),
	}
}

// Poll returns the next buffered control message, if any.
func (t *WebSocketTransport) Poll() (protocol.Message, bool) {
	if t.inbox == nil {
		return nil, false
	}
	select {
	case m := <-t.inbox:
		return m, true
	default:
		return nil, false
	}
}

// Frames exposes received frames. Nil before Connect.
func (t *WebSocketTransport) Frames() <-chan *frame.Frame {
	return t.frames
}

// readLoop receives until the connection closes, routing control messages
// to the inbox and pairing binary payloads with the preceding frameAck.
func (t *WebSocketTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Local teardown already ran.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.teardown(protocol.StateDisconnected)
				} else {
					t.logger.Error("receive failed", "error", err)
					t.teardown(protocol.StateError)
				}
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			t.handleControl(data)
		case websocket.BinaryMessage:
			t.handlePayload(data)
		}
	}
}

func (t *WebSocketTransport) handleControl(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		t.logger.Warn("undecodable message", "error", err)
		return
	}
	if ack, ok := msg.(*protocol.FrameAck); ok {
		t.lastAck.Store(ack.Sequence)
	}

	for {
		select {
		case t.inbox <- msg:
			return
		default:
			// Inbox full: drop the oldest and retry.
			select {
			case <-t.inbox:
			default:
			}
		}
	}
}

// handlePayload reconstructs a frame from a binary payload using the
// negotiated format and the sequence of the preceding frameAck.
func (t *WebSocketTransport) handlePayload(data []byte) {
	meta := protocol.FrameMetadata{
		Sequence:  t.lastAck.Load(),
		Timestamp: float64(time.Now().UnixNano()) / 1e6,
		Width:     t.width.Load(),
		Height:    t.height.Load(),
		Format:    t.format.Load().(protocol.FrameFormat),
		Keyframe:  true,
	}

	f, err := frame.New(meta, data)
	if err != nil {
		t.logger.Warn("received frame rejected", "error", err)
		t.framesDropped.Add(1)
		return
	}

	t.framesReceived.Add(1)
	t.bytesTransferred.Add(uint64(len(data)))

	select {
	case t.frames <- f:
	default:
		t.framesDropped.Add(1)
	}
}

func (t *WebSocketTransport) sendError(err error) error {
	t.teardown(protocol.StateError)
	return fmt.Errorf("%w: %v", ErrSendFailed, err)
}

func writeDeadline(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(defaultWriteTimeout)
}
