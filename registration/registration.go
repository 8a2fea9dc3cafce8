// Package registration computes rigid transforms aligning consecutive point
// clouds. The odometry core talks to it through the Registrar interface; the
// point-to-point ICP implementation here is the default collaborator.
package registration

import (
	"context"

	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
)

// Config carries the registration tuning knobs.
type Config struct {
	// Epsilon stops iteration once the mean correspondence error improves by
	// less than this amount between consecutive iterations.
	Epsilon float64
	// MaxCorrespondenceDistance rejects point pairs farther apart than this
	// (mm).
	MaxCorrespondenceDistance float64
	// MaxIterations caps the number of alignment iterations.
	MaxIterations int
}

// DefaultConfig returns tuning suitable for scan-to-scan lidar odometry in
// millimeter units.
func DefaultConfig() Config {
	return Config{
		Epsilon:                   1e-6,
		MaxCorrespondenceDistance: 250,
		MaxIterations:             30,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Epsilon <= 0 {
		c.Epsilon = def.Epsilon
	}
	if c.MaxCorrespondenceDistance <= 0 {
		c.MaxCorrespondenceDistance = def.MaxCorrespondenceDistance
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// A Registrar estimates the rigid transform taking query into reference. The
// returned pose is a best effort: registration has no notion of failure
// beyond gross degeneracy, and a successful return does not imply accuracy.
// Callers are expected to gate the result before trusting it.
type Registrar interface {
	Register(ctx context.Context, query, reference pointcloud.PointCloud) (spatialmath.Pose, error)
}
