package fusion

import (
	"github.com/golang/geo/r3"

	"go.viam.com/rdk/spatialmath"
)

// Integrator applies the transform gate and accumulates accepted increments
// into the running pose estimate. Registration never signals failure, so the
// gate is the only defense against a divergent solve corrupting the
// trajectory.
type Integrator struct {
	thresholding   bool
	maxTranslation float64 // mm, norm of the incremental translation
	maxRotation    float64 // radians, norm of the incremental (roll, pitch, yaw)
}

// NewIntegrator returns an integrator. With thresholding disabled every
// increment is accepted and the limits are ignored.
func NewIntegrator(thresholding bool, maxTranslation, maxRotation float64) *Integrator {
	return &Integrator{
		thresholding:   thresholding,
		maxTranslation: maxTranslation,
		maxRotation:    maxRotation,
	}
}

// Integrate composes increment onto current when it passes the gate,
// reporting acceptance. On rejection current is returned unchanged; the
// caller still owns the rejected increment and may report it. Both limits
// are inclusive.
func (in *Integrator) Integrate(current, increment spatialmath.Pose) (spatialmath.Pose, bool) {
	if in.thresholding {
		if increment.Point().Norm() > in.maxTranslation ||
			RotationNorm(increment.Orientation()) > in.maxRotation {
			return current, false
		}
	}
	return spatialmath.Compose(current, increment), true
}

// RotationNorm is the Euclidean norm of an orientation's Tait-Bryan angles,
// the magnitude the rotation gate operates on.
func RotationNorm(o spatialmath.Orientation) float64 {
	eu := o.EulerAngles()
	return r3.Vector{X: eu.Roll, Y: eu.Pitch, Z: eu.Yaw}.Norm()
}
