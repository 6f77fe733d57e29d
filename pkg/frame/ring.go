package frame

// Ring is a fixed-capacity circular frame buffer with drop-oldest overflow.
// Pushing into a full ring evicts exactly the oldest unread frame.
//
// Slots between the read and write cursors are live; pop clears its slot,
// so a live slot under the write cursor means the ring is full. That is how
// the full case is told apart from the empty one when both cursors meet.
//
// Ring is a single-producer/single-consumer structure: the owning session
// serializes all access, so there is no internal locking.
type Ring struct {
	slots []*Frame
	write int
	read  int
}

// NewRing allocates a ring with the given capacity. Capacities below 1 are
// clamped to 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([]*Frame, capacity)}
}

// Push stores a frame, evicting the oldest unread frame if the ring is
// full. It returns false when an eviction occurred.
func (r *Ring) Push(f *Frame) bool {
	full := r.slots[r.write] != nil
	r.slots[r.write] = f
	r.write = (r.write + 1) % len(r.slots)

	if full {
		// The overwritten slot held the oldest unread frame.
		r.read = (r.read + 1) % len(r.slots)
		return false
	}
	return true
}

// Pop removes and returns the oldest frame, or nil if the ring is empty.
func (r *Ring) Pop() *Frame {
	f := r.slots[r.read]
	if f == nil {
		return nil
	}
	r.slots[r.read] = nil
	r.read = (r.read + 1) % len(r.slots)
	return f
}

// Len returns the number of buffered frames.
func (r *Ring) Len() int {
	if r.write == r.read {
		if r.slots[r.read] != nil {
			return len(r.slots)
		}
		return 0
	}
	return (r.write - r.read + len(r.slots)) % len(r.slots)
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.slots)
}

// Empty reports whether the ring holds no frames.
func (r *Ring) Empty() bool {
	return r.slots[r.read] == nil
}

// Clear drops all buffered frames and resets both cursors.
func (r *Ring) Clear() {
	for i := range r.slots {
		r.slots[i] = nil
	}
	r.read = 0
	r.write = 0
}
