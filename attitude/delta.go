package attitude

import "gonum.org/v1/gonum/num/quat"

// DeltaTracker converts consecutive absolute attitudes into rotation deltas
// and queues them, one per processed scan, for later consumption by the
// fusion policy. It is only ever touched from the fusion cycle and needs no
// locking of its own.
type DeltaTracker struct {
	prev   quat.Number
	seeded bool
	queue  []quat.Number
}

// NewDeltaTracker returns an unseeded tracker with an empty queue.
func NewDeltaTracker() *DeltaTracker {
	return &DeltaTracker{}
}

// Seed fixes the initial "previous" attitude. The first sample the buffer
// ever received is used, independent of which sample later aligns with a
// scan. Subsequent calls are no-ops.
func (dt *DeltaTracker) Seed(first quat.Number) {
	if dt.seeded {
		return
	}
	dt.prev = first
	dt.seeded = true
}

// Seeded reports whether the initial previous attitude has been fixed.
func (dt *DeltaTracker) Seeded() bool {
	return dt.seeded
}

// Record computes the rotation taking the previous attitude to current,
// queues it, and advances the previous attitude for the next cycle.
func (dt *DeltaTracker) Record(current quat.Number) quat.Number {
	delta := quat.Mul(current, quat.Conj(dt.prev))
	dt.queue = append(dt.queue, delta)
	dt.prev = current
	return delta
}

// ConsumeOldest pops the earliest unconsumed delta, preserving pairing order
// with the scan cycles that produced them. ok is false when the queue is
// empty, meaning fusion is unavailable for the cycle.
func (dt *DeltaTracker) ConsumeOldest() (quat.Number, bool) {
	if len(dt.queue) == 0 {
		return quat.Number{}, false
	}
	delta := dt.queue[0]
	dt.queue = dt.queue[1:]
	return delta, true
}

// Pending returns the number of recorded but unconsumed deltas.
func (dt *DeltaTracker) Pending() int {
	return len(dt.queue)
}
