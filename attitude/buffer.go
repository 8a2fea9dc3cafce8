// Package attitude stores, aligns and differences timestamped orientation
// samples from an inertial sensor so they can be paired with lidar scan times.
package attitude

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
)

// DefaultBufferCapacity matches the sample deque size of the reference C++
// driver. At typical IMU rates it covers roughly half a second of history,
// plenty for closest-timestamp lookup against scan times.
const DefaultBufferCapacity = 100

// Sample is a single absolute orientation reading. Immutable once created.
type Sample struct {
	Attitude  quat.Number
	Timestamp time.Time
}

// Normalize returns q scaled to unit magnitude so it represents a pure
// rotation. A zero quaternion normalizes to the identity rotation.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Buffer is a bounded FIFO of orientation samples. Push and Snapshot are safe
// to call concurrently: the ingestion path appends while the fusion cycle
// takes consistent copies.
type Buffer struct {
	mu       sync.Mutex
	samples  []Sample
	capacity int
	primed   bool
	first    Sample
}

// NewBuffer returns an empty buffer holding at most capacity samples.
// Non-positive capacities fall back to DefaultBufferCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Buffer{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a sample, evicting the oldest one when the buffer is full.
// It always succeeds.
func (b *Buffer) Push(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.primed {
		b.first = s
		b.primed = true
	}
	if len(b.samples) == b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples = b.samples[:len(b.samples)-1]
	}
	b.samples = append(b.samples, s)
}

// Snapshot returns an independent copy of the current contents, oldest first.
// The fusion cycle must iterate a snapshot, never the live buffer, since the
// sensor feed keeps appending concurrently.
func (b *Buffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// First returns the first sample the buffer ever received, independent of
// any eviction since. It seeds delta tracking. The second return is false
// until at least one sample has been pushed.
func (b *Buffer) First() (Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.first, b.primed
}

// Len returns the current number of buffered samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
