package registration

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"
)

// gridCloud builds a 5x5x3 lattice with 10mm spacing, offset by shift.
func gridCloud(t *testing.T, shift r3.Vector) pointcloud.PointCloud {
	t.Helper()
	pc := pointcloud.NewBasicEmpty()
	for x := 0; x < 5; x++ {
		for y := 0; y < 5; y++ {
			for z := 0; z < 3; z++ {
				p := r3.Vector{
					X: float64(x) * 10,
					Y: float64(y) * 10,
					Z: float64(z) * 10,
				}.Add(shift)
				test.That(t, pc.Set(p, nil), test.ShouldBeNil)
			}
		}
	}
	return pc
}

func TestICPRecoversSmallTranslation(t *testing.T) {
	logger := logging.NewTestLogger(t)

	reference := gridCloud(t, r3.Vector{})
	// query is the same scene seen after the platform moved by +offset, so
	// the recovered transform maps query back onto reference
	offset := r3.Vector{X: 2, Y: -1.5, Z: 1}
	query := gridCloud(t, offset)

	icp := NewICP(DefaultConfig(), logger)
	pose, err := icp.Register(context.Background(), query, reference)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pose.Point().X, test.ShouldAlmostEqual, -offset.X, 1e-3)
	test.That(t, pose.Point().Y, test.ShouldAlmostEqual, -offset.Y, 1e-3)
	test.That(t, pose.Point().Z, test.ShouldAlmostEqual, -offset.Z, 1e-3)
	test.That(t, spatialmath.OrientationAlmostEqual(
		pose.Orientation(), spatialmath.NewZeroOrientation()), test.ShouldBeTrue)
}

func TestICPIdenticalCloudsYieldIdentity(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := gridCloud(t, r3.Vector{})

	icp := NewICP(DefaultConfig(), logger)
	pose, err := icp.Register(context.Background(), cloud, cloud)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().Norm(), test.ShouldAlmostEqual, 0, 1e-6)
}

func TestICPRejectsDegenerateInput(t *testing.T) {
	logger := logging.NewTestLogger(t)

	tiny := pointcloud.NewBasicEmpty()
	test.That(t, tiny.Set(r3.Vector{X: 1}, nil), test.ShouldBeNil)

	icp := NewICP(DefaultConfig(), logger)
	_, err := icp.Register(context.Background(), tiny, gridCloud(t, r3.Vector{}))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = icp.Register(context.Background(), nil, gridCloud(t, r3.Vector{}))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestICPHonorsContextCancellation(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cloud := gridCloud(t, r3.Vector{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	icp := NewICP(DefaultConfig(), logger)
	_, err := icp.Register(ctx, cloud, cloud)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	test.That(t, cfg, test.ShouldResemble, DefaultConfig())

	custom := Config{Epsilon: 0.5, MaxCorrespondenceDistance: 10, MaxIterations: 2}
	test.That(t, custom.withDefaults(), test.ShouldResemble, custom)
}
