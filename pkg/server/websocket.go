package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qemuweb/sidecar/pkg/frame"
	"github.com/qemuweb/sidecar/pkg/protocol"
)

func writeControlDeadline(c *Config) time.Time {
	return time.Now().Add(c.WriteTimeout)
}

// nowMillis returns the wall clock in floating-point milliseconds, the
// unit the wire protocol uses for all timestamps.
func nowMillis() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}

// readLoop reads messages from the connection until it closes. Text
// messages are control envelopes; binary messages carry the pixel data for
// the most recent frame announcement. This is the session's single writer:
// all dispatch-side mutation happens here.
func (srv *Server) readLoop(s *Session) {
	defer srv.removeSession(s)

	s.conn.SetReadLimit(srv.config.MaxMessageSize)
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(srv.config.ReadTimeout))
	})
	// Reply to client pings through the send queue; the forwarding
	// goroutine owns all writes on this connection.
	s.conn.SetPingHandler(func(data string) error {
		s.out.enqueue(outMessage{kind: websocket.PongMessage, data: []byte(data)})
		return nil
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(srv.config.ReadTimeout))

		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				s.setState(protocol.StateDisconnected)
				s.logger.Info("client closed connection")
			} else {
				s.setState(protocol.StateError)
				s.logger.Error("read error", "error", err)
				srv.metrics.readErrors.Inc()
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			srv.dispatch(s, msg)
		case websocket.BinaryMessage:
			srv.ingestFrame(s, msg)
		}
	}
}

// dispatch decodes and handles one control message, replying on the
// session's send queue. A malformed envelope produces an error reply and
// leaves the connection up.
func (srv *Server) dispatch(s *Session, data []byte) {
	start := time.Now()

	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Error("protocol error", "error", err)
		srv.metrics.protocolErrors.Inc()
		s.sendError("protocol", err.Error())
		return
	}

	_, span := srv.tracer.Start(context.Background(), "sidecar.dispatch",
		traceMessageAttrs(s.ID, msg.Type())...)
	defer span.End()

	switch m := msg.(type) {
	case *protocol.SetMode:
		s.applyMode(m.Mode, m.Config)
		s.reply(&protocol.ModeAck{Mode: m.Mode, Success: true})

	case *protocol.SetFormat:
		// Overwrites unconditionally; frames already buffered keep the
		// format recorded in their own metadata.
		s.setFormat(m.Format, m.Width, m.Height)
		s.reply(&protocol.FormatAck{Format: m.Format, Success: true})

	case *protocol.FrameAnnounce:
		srv.handleAnnounce(s, m)

	case *protocol.Ping:
		s.reply(&protocol.Pong{Timestamp: m.Timestamp, ServerTime: nowMillis()})

	default:
		// Server → client tags arriving from a client are a protocol
		// violation.
		srv.metrics.protocolErrors.Inc()
		s.sendError("protocol", "unexpected message type "+string(msg.Type()))
	}

	srv.metrics.dispatchDuration.WithLabelValues(string(msg.Type())).
		Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int64("sidecar.dispatch_us", time.Since(start).Microseconds()))
}

// reply queues a response, logging instead of failing the session when the
// queue has been closed by a concurrent teardown.
func (s *Session) reply(m protocol.Message) {
	if err := s.send(m); err != nil {
		s.logger.Warn("reply dropped", "type", m.Type(), "error", err)
	}
}

// handleAnnounce records a frame announcement. The pixel data arrives as a
// separate binary message; the announcement is stashed until it does.
func (srv *Server) handleAnnounce(s *Session, m *protocol.FrameAnnounce) {
	now := nowMillis()
	s.rate.Record(now)
	s.framesReceived.Add(1)
	s.storeFPS(s.rate.Rate())
	if lat := now - m.Metadata.Timestamp; lat >= 0 {
		s.updateAvgLatency(lat)
	}

	if s.pending != nil {
		s.logger.Debug("frame announcement overwritten before payload arrived",
			"sequence", s.pending.Sequence)
	}
	meta := m.Metadata
	s.pending = &meta

	srv.metrics.framesReceived.Inc()
}

// ingestFrame pairs a binary payload with the preceding announcement and
// pushes the resulting frame into the session's ring buffer. Validation
// failures reject this frame only.
func (srv *Server) ingestFrame(s *Session, data []byte) {
	meta := s.pending
	if meta == nil {
		s.logger.Warn("binary payload without frame announcement", "bytes", len(data))
		s.sendError("protocol", "binary payload without preceding frame announcement")
		return
	}
	s.pending = nil

	f, err := frame.New(*meta, data)
	if err != nil {
		s.logger.Error("frame rejected", "sequence", meta.Sequence, "error", err)
		s.sendError("frame", err.Error())
		return
	}

	if !s.ring.Push(f) {
		s.framesDropped.Add(1)
		srv.metrics.framesDropped.Inc()
	}
	s.bytesTransferred.Add(uint64(len(data)))
	srv.metrics.bytesReceived.Add(float64(len(data)))
}

// forwardLoop drains the session's send queue onto the connection and
// emits heartbeat pings. It is the only goroutine that writes to the
// connection, and it exits when the session closes.
func (srv *Server) forwardLoop(s *Session) {
	ticker := time.NewTicker(srv.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		for {
			msg, ok := s.out.dequeue()
			if !ok {
				break
			}
			if err := srv.writeMessage(s, msg); err != nil {
				s.logger.Error("write error", "error", err)
				srv.metrics.writeErrors.Inc()
				s.close(protocol.StateError)
				return
			}
			srv.metrics.bytesSent.Add(float64(len(msg.data)))
		}

		select {
		case <-s.out.wakeCh():
		case <-ticker.C:
			deadline := time.Now().Add(srv.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Error("ping error", "error", err)
				s.close(protocol.StateError)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (srv *Server) writeMessage(s *Session, msg outMessage) error {
	deadline := time.Now().Add(srv.config.WriteTimeout)
	if msg.kind == websocket.PongMessage || msg.kind == websocket.PingMessage {
		return s.conn.WriteControl(msg.kind, msg.data, deadline)
	}
	s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteMessage(msg.kind, msg.data)
}

// storeFPS and updateAvgLatency publish float metrics via atomic bits so
// the stats endpoint can read them without taking the session lock.
func (s *Session) storeFPS(fps float64) {
	s.currentFPS.Store(floatBits(fps))
}

// updateAvgLatency folds one announcement-to-arrival latency sample into a
// running average over all received frames.
func (s *Session) updateAvgLatency(sample float64) {
	n := float64(s.framesReceived.Load())
	if n <= 0 {
		return
	}
	prev := floatFromBits(s.avgLatency.Load())
	s.avgLatency.Store(floatBits(prev + (sample-prev)/n))
}
