// Package ring provides the circular sample buffer between the audio
// producer and the decode loop.
package ring

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Buffer is a fixed-capacity circular store of 16-bit audio samples.
// One producer appends; the decode loop takes snapshots of the most
// recent samples. There is no backpressure: if the consumer falls
// behind, the oldest samples are silently overwritten. Stale audio is
// useless once its cycle boundary has passed, so freshness wins.
type Buffer struct {
	mu       sync.Mutex
	data     []int16
	writePos int
	total    atomic.Int64
}

// New creates a buffer holding capacity samples.
func New(capacity int) *Buffer {
	return &Buffer{
		data: make([]int16, capacity),
	}
}

// Capacity returns the fixed buffer capacity in samples.
func (b *Buffer) Capacity() int {
	return len(b.data)
}

// Append writes samples at the cursor, wrapping at capacity.
func (b *Buffer) Append(samples []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for written < len(samples) {
		contiguous := len(b.data) - b.writePos
		if contiguous > len(samples)-written {
			contiguous = len(samples) - written
		}

		copy(b.data[b.writePos:b.writePos+contiguous], samples[written:written+contiguous])

		b.writePos = (b.writePos + contiguous) % len(b.data)
		written += contiguous
	}

	b.total.Add(int64(len(samples)))
}

// Snapshot copies the most recently written n samples, walking backward
// from the cursor, into a freshly allocated slice. The copy is taken at a
// single instant; later appends do not affect it. n must not exceed the
// buffer capacity.
func (b *Buffer) Snapshot(n int) ([]int16, error) {
	if n > len(b.data) {
		return nil, fmt.Errorf("snapshot of %d samples exceeds capacity %d", n, len(b.data))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]int16, n)
	start := (b.writePos - n + len(b.data)) % len(b.data)

	if start+n <= len(b.data) {
		copy(out, b.data[start:start+n])
	} else {
		// Wraps: tail segment first, then the head of the array.
		first := len(b.data) - start
		copy(out[:first], b.data[start:])
		copy(out[first:], b.data[:n-first])
	}

	return out, nil
}

// TotalWritten returns the monotonic count of samples ever appended.
// It is read lock-free; a stale value only delays readiness detection.
func (b *Buffer) TotalWritten() int64 {
	return b.total.Load()
}
