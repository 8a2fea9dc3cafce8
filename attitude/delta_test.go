package attitude

import (
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func yawQuat(yawDeg float64) quat.Number {
	half := yawDeg * math.Pi / 180 / 2
	return quat.Number{Real: math.Cos(half), Kmag: math.Sin(half)}
}

func quatAlmostEqual(t *testing.T, a, b quat.Number) {
	t.Helper()
	// q and -q encode the same rotation
	if a.Real*b.Real+a.Imag*b.Imag+a.Jmag*b.Jmag+a.Kmag*b.Kmag < 0 {
		b = quat.Scale(-1, b)
	}
	test.That(t, a.Real, test.ShouldAlmostEqual, b.Real, 1e-9)
	test.That(t, a.Imag, test.ShouldAlmostEqual, b.Imag, 1e-9)
	test.That(t, a.Jmag, test.ShouldAlmostEqual, b.Jmag, 1e-9)
	test.That(t, a.Kmag, test.ShouldAlmostEqual, b.Kmag, 1e-9)
}

func TestDeltaTrackerRecordsRelativeRotations(t *testing.T) {
	dt := NewDeltaTracker()
	test.That(t, dt.Seeded(), test.ShouldBeFalse)

	dt.Seed(yawQuat(0))
	test.That(t, dt.Seeded(), test.ShouldBeTrue)

	// re-seeding must not move the retained previous attitude
	dt.Seed(yawQuat(90))

	dt.Record(yawQuat(10))
	dt.Record(yawQuat(25))
	test.That(t, dt.Pending(), test.ShouldEqual, 2)

	first, ok := dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeTrue)
	quatAlmostEqual(t, first, yawQuat(10))

	second, ok := dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeTrue)
	quatAlmostEqual(t, second, yawQuat(15))

	test.That(t, dt.Pending(), test.ShouldEqual, 0)
}

func TestDeltaTrackerConsumeEmpty(t *testing.T) {
	dt := NewDeltaTracker()
	_, ok := dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeFalse)

	dt.Seed(yawQuat(0))
	dt.Record(yawQuat(5))
	_, ok = dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeFalse)
}

func TestDeltaTrackerPreservesPairingOrder(t *testing.T) {
	dt := NewDeltaTracker()
	dt.Seed(yawQuat(0))

	for _, a := range []float64{3, 7, 12, 20} {
		dt.Record(yawQuat(a))
	}

	// consumption after a backlog yields the oldest delta first
	got, ok := dt.ConsumeOldest()
	test.That(t, ok, test.ShouldBeTrue)
	quatAlmostEqual(t, got, yawQuat(3))
}
