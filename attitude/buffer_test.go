package attitude

import (
	"sync"
	"testing"
	"time"

	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleAt(offset time.Duration) Sample {
	return Sample{Attitude: quat.Number{Real: 1}, Timestamp: base.Add(offset)}
}

func TestBufferEviction(t *testing.T) {
	b := NewBuffer(DefaultBufferCapacity)
	for i := 0; i < 250; i++ {
		b.Push(sampleAt(time.Duration(i) * time.Millisecond))
	}

	snap := b.Snapshot()
	test.That(t, len(snap), test.ShouldEqual, DefaultBufferCapacity)

	// only the 100 most recent samples survive, oldest first
	test.That(t, snap[0].Timestamp, test.ShouldResemble, base.Add(150*time.Millisecond))
	test.That(t, snap[len(snap)-1].Timestamp, test.ShouldResemble, base.Add(249*time.Millisecond))
	for i := 1; i < len(snap); i++ {
		test.That(t, snap[i].Timestamp.After(snap[i-1].Timestamp), test.ShouldBeTrue)
	}
}

func TestBufferFirstSampleSurvivesEviction(t *testing.T) {
	b := NewBuffer(3)

	_, primed := b.First()
	test.That(t, primed, test.ShouldBeFalse)

	for i := 0; i < 10; i++ {
		b.Push(sampleAt(time.Duration(i) * time.Second))
	}

	first, primed := b.First()
	test.That(t, primed, test.ShouldBeTrue)
	test.That(t, first.Timestamp, test.ShouldResemble, base)
	test.That(t, b.Len(), test.ShouldEqual, 3)
}

func TestBufferSnapshotIsIndependent(t *testing.T) {
	b := NewBuffer(10)
	b.Push(sampleAt(0))
	snap := b.Snapshot()
	b.Push(sampleAt(time.Second))

	test.That(t, len(snap), test.ShouldEqual, 1)
	test.That(t, b.Len(), test.ShouldEqual, 2)

	snap[0].Timestamp = base.Add(time.Hour)
	test.That(t, b.Snapshot()[0].Timestamp, test.ShouldResemble, base)
}

func TestBufferConcurrentPushAndSnapshot(t *testing.T) {
	b := NewBuffer(DefaultBufferCapacity)

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
				b.Push(sampleAt(time.Duration(i) * time.Millisecond))
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		snap := b.Snapshot()
		test.That(t, len(snap) <= DefaultBufferCapacity, test.ShouldBeTrue)
		for j := 1; j < len(snap); j++ {
			test.That(t, snap[j].Timestamp.After(snap[j-1].Timestamp), test.ShouldBeTrue)
		}
	}
	close(done)
	wg.Wait()
}

func TestNormalize(t *testing.T) {
	q := Normalize(quat.Number{Real: 2, Imag: 2, Jmag: 2, Kmag: 2})
	test.That(t, quat.Abs(q), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, q.Real, test.ShouldAlmostEqual, 0.5, 1e-12)

	// degenerate input becomes the identity rotation
	q = Normalize(quat.Number{})
	test.That(t, q.Real, test.ShouldEqual, 1)
}
