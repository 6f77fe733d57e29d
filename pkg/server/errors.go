package server

import "errors"

// Sentinel errors for server and session error conditions.
var (
	// ErrServerClosed is returned when an operation is attempted on a
	// server that is not running.
	ErrServerClosed = errors.New("server: closed")

	// ErrMaxClients is returned when a connection is rejected because the
	// client limit has been reached.
	ErrMaxClients = errors.New("server: max clients reached")

	// ErrSessionClosed is returned when an operation is attempted on a
	// closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrQueueClosed is returned when a message is enqueued on a closed
	// send queue.
	ErrQueueClosed = errors.New("server: send queue closed")

	// ErrSendFailed is returned when writing to a client fails.
	ErrSendFailed = errors.New("server: send failed")
)
