// Package transport abstracts how frames and control messages travel
// between a sidecar endpoint and its peer. The same capability interface
// is satisfied by the native WebSocket client here and by host-bound
// bindings in other environments, so callers never depend on a concrete
// transport.
package transport

import (
	"context"
	"errors"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

// Sentinel errors for transport failures.
var (
	// ErrConnectionFailed is returned when establishing the transport fails.
	ErrConnectionFailed = errors.New("transport: connection failed")

	// ErrNotConnected is returned for operations requiring an established
	// connection.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendFailed is returned when a send could not complete.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrReceiveFailed is returned when the receive side breaks.
	ErrReceiveFailed = errors.New("transport: receive failed")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("transport: timeout")
)

// Transport is the capability interface for frame transmission. Incoming
// messages surface through Poll and the Frames channel rather than through
// registered callbacks, so no particular callback ABI is assumed.
type Transport interface {
	// State returns the current connection state.
	State() protocol.ConnectionState

	// Config returns the transport configuration.
	Config() protocol.Config

	// Connect establishes the transport.
	Connect(ctx context.Context) error

	// Disconnect closes the transport gracefully.
	Disconnect(ctx context.Context) error

	// SendFrame transmits a frame: its metadata announcement followed by
	// the raw payload.
	SendFrame(ctx context.Context, f *frame.Frame) error

	// SendMessage transmits a single control message.
	SendMessage(ctx context.Context, m protocol.Message) error

	// SetFormat negotiates the frame format and dimensions with the peer.
	SetFormat(ctx context.Context, format protocol.FrameFormat, width, height uint32) error

	// Stats returns transfer statistics.
	Stats() protocol.Stats

	// Poll returns the next received control message, reporting false
	// when none is pending.
	Poll() (protocol.Message, bool)
}
