package media

import (
	"sync"
)

// RingBuffer is a thread-safe byte ring buffer for PCM audio. Writes that
// exceed the remaining space are truncated, never blocked.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []byte
	size   int
	read   int
	write  int
	filled int
}

// NewRingBuffer creates a ring buffer holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		buf:  make([]byte, size),
		size: size,
	}
}

// Write copies data into the buffer, returning the number of bytes stored
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(data)
	if space := rb.size - rb.filled; n > space {
		n = space
	}
	if n == 0 {
		return 0
	}

	// At most two copies when the write wraps the end of the buffer
	first := copy(rb.buf[rb.write:], data[:n])
	if first < n {
		copy(rb.buf, data[first:n])
	}
	rb.write = (rb.write + n) % rb.size
	rb.filled += n
	return n
}

// Read drains up to len(p) bytes into p, returning the number of bytes read
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.filled {
		n = rb.filled
	}
	if n == 0 {
		return 0
	}

	first := copy(p[:n], rb.buf[rb.read:])
	if first < n {
		copy(p[first:n], rb.buf)
	}
	rb.read = (rb.read + n) % rb.size
	rb.filled -= n
	return n
}

// Available returns the number of buffered bytes
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.filled
}

// Space returns the number of bytes that can be written without truncation
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.filled
}

// Clear discards all buffered bytes
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.read = 0
	rb.write = 0
	rb.filled = 0
}

// IsEmpty reports whether the buffer holds no bytes
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.filled == 0
}

// IsFull reports whether the buffer is at capacity
func (rb *RingBuffer) IsFull() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.filled == rb.size
}
