package server

import (
	"net/http"
	"time"
)

// DefaultAddr is the default bind address for the sidecar server.
const DefaultAddr = "127.0.0.1:9876"

// Config holds configuration for the relay server.
type Config struct {
	// Addr is the address to listen on.
	// Default: "127.0.0.1:9876".
	Addr string

	// MaxClients is the maximum number of concurrent connections. A new
	// connection beyond the limit is closed immediately without creating
	// a session.
	// Default: 10.
	MaxClients int

	// FrameBufferSize is the per-session frame ring capacity.
	// Default: 4.
	FrameBufferSize int

	// ReadTimeout is the maximum time to wait for a message from a client.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait when sending a message.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the time between WebSocket pings.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// MaxMessageSize is the maximum size of an incoming WebSocket message,
	// covering both control envelopes and binary frame payloads.
	// Default: 64MB (a 4K RGBA frame is ~33MB).
	MaxMessageSize int64

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the request origin on upgrade.
	// Default: allows all origins (the sidecar binds loopback).
	CheckOrigin func(r *http.Request) bool

	// EnableCompression negotiates per-message compression on upgrade.
	// Compression helps on remote links; on loopback it burns CPU for
	// nothing, so it is off by default.
	EnableCompression bool

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10 seconds.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:              DefaultAddr,
		MaxClients:        10,
		FrameBufferSize:   4,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		MaxMessageSize:    64 << 20,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       func(*http.Request) bool { return true },
		ShutdownTimeout:   10 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	defaults := DefaultConfig()
	out := *c
	if out.Addr == "" {
		out.Addr = defaults.Addr
	}
	if out.MaxClients == 0 {
		out.MaxClients = defaults.MaxClients
	}
	if out.FrameBufferSize == 0 {
		out.FrameBufferSize = defaults.FrameBufferSize
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = defaults.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = defaults.WriteTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = defaults.MaxMessageSize
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = defaults.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = defaults.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = defaults.CheckOrigin
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return &out
}
