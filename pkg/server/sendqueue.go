package server

import (
	"sync"

	"github.com/eapache/queue"
)

// outMessage is one queued WebSocket write: a gorilla message type plus
// its payload.
type outMessage struct {
	kind int
	data []byte
}

// sendQueue is the per-connection unbounded outbound FIFO. Enqueueing
// never blocks; the connection's forwarding goroutine drains messages in
// enqueue order. An unbounded queue is deliberate: the protocol promises
// no cross-connection backpressure, and overload is handled upstream by
// ring-buffer eviction, not by stalling producers.
type sendQueue struct {
	mu     sync.Mutex
	q      *queue.Queue
	wake   chan struct{}
	closed bool
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		q:    queue.New(),
		wake: make(chan struct{}, 1),
	}
}

// enqueue appends messages in order as one atomic batch, so paired
// messages (a frameAck and its binary payload) can never be interleaved
// with writes from other goroutines.
func (s *sendQueue) enqueue(msgs ...outMessage) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrQueueClosed
	}
	for _, m := range msgs {
		s.q.Add(m)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// dequeue removes the oldest message, reporting false when the queue is
// empty or closed.
func (s *sendQueue) dequeue() (outMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.q.Length() == 0 {
		return outMessage{}, false
	}
	return s.q.Remove().(outMessage), true
}

// wakeCh returns the channel signaled whenever messages arrive.
func (s *sendQueue) wakeCh() <-chan struct{} {
	return s.wake
}

// close marks the queue closed and drops any queued messages.
func (s *sendQueue) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for s.q.Length() > 0 {
		s.q.Remove()
	}
}

// len returns the number of queued messages.
func (s *sendQueue) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}
