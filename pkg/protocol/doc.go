// Package protocol defines the wire protocol spoken between the sidecar
// and browser clients.
//
// Control messages are JSON objects exchanged as WebSocket text messages.
// Every message carries a "type" discriminator field; the remaining fields
// depend on the tag. Decoding is strict: an unknown or missing discriminator,
// or a missing required field, fails with a *ProtocolError rather than
// being matched best-effort.
//
// # Message Types
//
// Client → Server:
//
//   - setMode: select the sidecar operating mode, optionally with config
//   - setFormat: negotiate the frame format and dimensions
//   - frame: announce an incoming frame (metadata only)
//   - ping: latency probe
//
// Server → Client:
//
//   - modeAck, formatAck: acknowledgements for setMode/setFormat
//   - frameAck: per-frame delivery notification
//   - pong: ping reply carrying the server clock
//   - error: request-scoped failure report
//
// Binary frame payloads never travel inside a control message. A frame's
// raw pixel data is sent as a separate WebSocket binary message immediately
// associated with the preceding frame/frameAck exchange on the same
// connection; its length is implicit from the WebSocket framing.
package protocol
