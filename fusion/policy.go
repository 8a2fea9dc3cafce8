// Package fusion decides how inertial attitude deltas are combined with
// registration transforms and guards the integrated pose against bad
// increments.
//
// Registration tends to be trustworthy for in-plane (yaw) motion but drifts
// on roll and pitch when the clouds carry little vertical structure, while an
// IMU holds attitude well over the short interval between two scans. The
// policy therefore splices IMU roll/pitch with registration yaw whenever the
// IMU stream is well aligned with the scan times.
package fusion

import (
	"time"

	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// DefaultAlignmentThreshold bounds the IMU/scan timestamp gap beyond which
// the self-check falls back to pure-registration mode for the cycle. This is
// a property of the self-check, separate from any externally configured
// alignment tunable.
const DefaultAlignmentThreshold = 50 * time.Millisecond

// Diagnostics carries per-cycle fusion values for external inspection and
// tuning. Nothing here is consumed internally.
type Diagnostics struct {
	// IMU holds the roll/pitch/yaw implied by the consumed attitude delta.
	// Zero when no delta was available or IMU mode was off.
	IMU spatialmath.EulerAngles
	// Registration holds the roll/pitch/yaw of the registration transform.
	Registration spatialmath.EulerAngles
	// AlignmentDelta is the matched sample time minus the scan time.
	AlignmentDelta time.Duration
	// IMUActive reports the mode the cycle ran under.
	IMUActive bool
	// DeltaAvailable reports whether an attitude delta could be consumed.
	DeltaAvailable bool
}

// Policy owns the runtime IMU-use mode and performs the roll/pitch/yaw
// splice. It is read and written only within a single cycle's execution.
type Policy struct {
	useIMU    bool
	checkIMU  bool
	threshold time.Duration
}

// NewPolicy returns a policy starting in the configured mode. A non-positive
// threshold falls back to DefaultAlignmentThreshold.
func NewPolicy(useIMU, checkIMU bool, threshold time.Duration) *Policy {
	if threshold <= 0 {
		threshold = DefaultAlignmentThreshold
	}
	return &Policy{useIMU: useIMU, checkIMU: checkIMU, threshold: threshold}
}

// IMUActive reports whether fusion currently uses IMU data.
func (p *Policy) IMUActive() bool {
	return p.useIMU
}

// DecideMode re-evaluates the IMU-use mode given the signed alignment delta
// of the cycle's matched sample. With checking enabled the mode degrades to
// pure registration whenever the magnitude reaches the threshold, and
// recovers as soon as alignment quality does. The bound is exclusive: a
// delta exactly at the threshold disables IMU mode, unlike the inclusive
// transform gate in Integrator. With checking disabled the configured mode
// stands.
func (p *Policy) DecideMode(alignmentDelta time.Duration) bool {
	if !p.checkIMU {
		return p.useIMU
	}
	if alignmentDelta < 0 {
		alignmentDelta = -alignmentDelta
	}
	p.useIMU = alignmentDelta < p.threshold
	return p.useIMU
}

// Fuse splices the IMU-implied roll and pitch with the registration-implied
// yaw into a single rotation, leaving the translation untouched. When IMU
// mode is off, or no delta is available for the cycle, the registration pose
// is returned unchanged. Diagnostics are emitted either way.
func (p *Policy) Fuse(
	reg spatialmath.Pose,
	delta quat.Number,
	haveDelta bool,
	alignmentDelta time.Duration,
) (spatialmath.Pose, Diagnostics) {
	regEu := reg.Orientation().EulerAngles()
	diag := Diagnostics{
		Registration:   *regEu,
		AlignmentDelta: alignmentDelta,
		IMUActive:      p.useIMU,
		DeltaAvailable: haveDelta,
	}

	if !p.useIMU || !haveDelta {
		return reg, diag
	}

	imuEu := spatialmath.QuatToEulerAngles(delta)
	diag.IMU = *imuEu

	spliced := &spatialmath.EulerAngles{
		Roll:  imuEu.Roll,
		Pitch: imuEu.Pitch,
		Yaw:   regEu.Yaw,
	}
	return spatialmath.NewPose(reg.Point(), spliced), diag
}
