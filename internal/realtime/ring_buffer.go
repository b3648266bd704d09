package realtime

import (
	"sync"

	"agent-logger/internal/protocol"
)

// RingBuffer is a fixed-capacity circular buffer of log entries.
// It allows late subscribers to catch up on recent output.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []protocol.LogEntryPayload
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]protocol.LogEntryPayload, capacity),
		capacity: capacity,
	}
}

// Write adds an entry to the ring buffer.
func (rb *RingBuffer) Write(entry protocol.LogEntryPayload) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = entry
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all entries in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() []protocol.LogEntryPayload {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]protocol.LogEntryPayload, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]protocol.LogEntryPayload, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Filter returns up to limit of the newest entries for sessionID, oldest
// first. An empty sessionID matches every entry.
func (rb *RingBuffer) Filter(sessionID string, limit int) []protocol.LogEntryPayload {
	if limit <= 0 {
		return nil
	}
	all := rb.ReadAll()

	var picked []protocol.LogEntryPayload
	for i := len(all) - 1; i >= 0 && len(picked) < limit; i-- {
		if sessionID == "" || all[i].SessionID == sessionID {
			picked = append(picked, all[i])
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Cap returns the buffer's capacity.
func (rb *RingBuffer) Cap() int {
	return rb.capacity
}
