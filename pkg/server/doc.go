// Package server implements the sidecar's frame-relay server.
//
// The server accepts WebSocket connections from browser clients, keeps one
// Session per connection, and relays rendered frames to every registered
// client. Incoming control messages are dispatched on the connection's read
// goroutine; outgoing messages flow through an unbounded per-connection
// send queue drained by a forwarding goroutine, so a slow client never
// blocks dispatch for other connections.
//
// # Concurrency
//
// The session registry (connection id → Session) is the only state shared
// across goroutines. It sits behind a single readers-writer lock held for
// short, non-blocking critical sections: insert and remove take the lock
// exclusively, lookups take it shared, and no I/O happens under it. Each
// Session's interior (ring buffer, negotiated format, rate tracker) is
// single-writer — only that connection's read goroutine mutates it — so it
// carries no locks of its own. Counters read by the stats endpoint are
// atomics.
//
// A slow consumer only risks losing its own buffered frames to ring-buffer
// eviction; there is no cross-connection backpressure.
package server
