// Package odometry fuses inter-scan registration transforms with inertial
// attitude deltas into incremental and integrated rigid-body pose estimates.
//
// Two activities touch an Estimator: a sensor feed pushing orientation
// samples through IngestAttitude, and a scan feed driving ProcessScan one
// cycle at a time. IngestAttitude is safe to call concurrently with the
// cycle; ProcessScan itself is not re-entrant.
package odometry

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Abhimanyu-0/LOCUS/attitude"
	"github.com/Abhimanyu-0/LOCUS/fusion"
	"github.com/Abhimanyu-0/LOCUS/registration"
)

// Config carries the fusion and gating tunables. It arrives already
// validated; zero values mean "feature off" except where noted.
type Config struct {
	// UseIMU enables attitude fusion. With CheckIMU set the mode may change
	// at runtime based on alignment quality.
	UseIMU bool
	// CheckIMU enables the per-cycle alignment-quality self-check.
	CheckIMU bool
	// IMUThreshold is the alignment gap the self-check compares against.
	// Zero keeps the default.
	IMUThreshold time.Duration
	// TransformThresholding enables gating of incremental transforms.
	TransformThresholding bool
	// MaxTranslation is the inclusive translation-norm gate (mm).
	MaxTranslation float64
	// MaxRotation is the inclusive rotation-norm gate (radians).
	MaxRotation float64
	// InitialPose seeds the integrated estimate, typically from a fiducial
	// calibration. Nil starts at the origin.
	InitialPose spatialmath.Pose
}

// Result is the outcome of one scan cycle.
type Result struct {
	// Updated is false while the estimator is still initializing; no other
	// field changes on such a cycle.
	Updated bool
	// Accepted reports whether the incremental transform passed the gate and
	// was folded into the integrated estimate.
	Accepted bool
	// Incremental is this cycle's delta pose. It is reported even when
	// rejected, so it can diverge from the integrated trajectory.
	Incremental spatialmath.Pose
	// Integrated is the accumulated pose since initialization.
	Integrated spatialmath.Pose
	// Diagnostics carries the fusion values of the cycle.
	Diagnostics fusion.Diagnostics
}

// Estimator matches orientation samples to scan times, registers consecutive
// scans, fuses the two rotation sources and integrates the result.
type Estimator struct {
	logger    logging.Logger
	registrar registration.Registrar

	buffer     *attitude.Buffer
	deltas     *attitude.DeltaTracker
	policy     *fusion.Policy
	integrator *fusion.Integrator

	imuConfigured bool

	initialized bool
	query       pointcloud.PointCloud
	reference   pointcloud.PointCloud

	incremental spatialmath.Pose
	integrated  spatialmath.Pose
}

// New returns an estimator in the uninitialized state.
func New(cfg Config, registrar registration.Registrar, logger logging.Logger) (*Estimator, error) {
	if registrar == nil {
		return nil, errors.New("a registrar is required")
	}
	initial := cfg.InitialPose
	if initial == nil {
		initial = spatialmath.NewZeroPose()
	}
	return &Estimator{
		logger:        logger,
		registrar:     registrar,
		buffer:        attitude.NewBuffer(attitude.DefaultBufferCapacity),
		deltas:        attitude.NewDeltaTracker(),
		policy:        fusion.NewPolicy(cfg.UseIMU, cfg.CheckIMU, cfg.IMUThreshold),
		integrator:    fusion.NewIntegrator(cfg.TransformThresholding, cfg.MaxTranslation, cfg.MaxRotation),
		imuConfigured: cfg.UseIMU,
		incremental:   spatialmath.NewZeroPose(),
		integrated:    initial,
	}, nil
}

// IngestAttitude normalizes the quaternion and buffers it with its
// timestamp. Safe to call concurrently with ProcessScan.
func (e *Estimator) IngestAttitude(q quat.Number, t time.Time) {
	e.buffer.Push(attitude.Sample{Attitude: attitude.Normalize(q), Timestamp: t})
}

// ProcessScan runs one odometry cycle for a scan acquired at t. Until the
// estimator has a prior scan (and, when IMU fusion is configured, at least
// one orientation sample) the result reports Updated false and nothing else
// changes. Errors from the registrar leave the estimates untouched; the
// cycle's scan still becomes the query for the next one.
func (e *Estimator) ProcessScan(
	ctx context.Context,
	cloud pointcloud.PointCloud,
	t time.Time,
) (Result, error) {
	if cloud == nil {
		return e.noUpdate(), errors.New("nil point cloud")
	}

	snapshot := e.buffer.Snapshot()

	if !e.initialized {
		e.query = cloud
		if e.imuConfigured {
			first, primed := e.buffer.First()
			if !primed {
				e.logger.Debug("waiting for first orientation sample before initializing")
				return e.noUpdate(), nil
			}
			e.deltas.Seed(first.Attitude)
		}
		e.initialized = true
		return e.noUpdate(), nil
	}

	// match the scan time against the snapshot and record one attitude
	// delta for the cycle
	matched, alignmentDelta, aligned := attitude.FindAligned(snapshot, t)
	if len(snapshot) > 0 {
		if !e.deltas.Seeded() {
			if first, primed := e.buffer.First(); primed {
				e.deltas.Seed(first.Attitude)
			}
		}
		e.deltas.Record(matched.Attitude)
	}
	if !aligned && len(snapshot) > 0 {
		e.logger.Debugf("no orientation sample at or before scan time %v; using oldest", t)
	}

	wasActive := e.policy.IMUActive()
	if active := e.policy.DecideMode(alignmentDelta); active != wasActive {
		e.logger.Warnf("attitude fusion %s (alignment delta %v)", onOff(active), alignmentDelta)
	}

	// advance the scan pair
	e.reference = e.query
	e.query = cloud

	regPose, err := e.registrar.Register(ctx, e.query, e.reference)
	if err != nil {
		return e.noUpdate(), errors.Wrap(err, "scan registration failed")
	}

	var delta quat.Number
	haveDelta := false
	if e.policy.IMUActive() {
		delta, haveDelta = e.deltas.ConsumeOldest()
		if !haveDelta {
			e.logger.Debug("no attitude delta recorded yet; fusion unavailable this cycle")
		}
	}
	fused, diag := e.policy.Fuse(regPose, delta, haveDelta, alignmentDelta)

	e.incremental = fused
	integrated, accepted := e.integrator.Integrate(e.integrated, fused)
	if accepted {
		e.integrated = integrated
	} else {
		e.logger.Warnf(
			"discarding incremental transform with norm (t: %f, r: %f)",
			fused.Point().Norm(),
			fusion.RotationNorm(fused.Orientation()),
		)
	}

	return Result{
		Updated:     true,
		Accepted:    accepted,
		Incremental: e.incremental,
		Integrated:  e.integrated,
		Diagnostics: diag,
	}, nil
}

// IncrementalEstimate returns the most recent cycle's delta pose. Call from
// the scan-cycle context only.
func (e *Estimator) IncrementalEstimate() spatialmath.Pose {
	return e.incremental
}

// IntegratedEstimate returns the accumulated pose since initialization. Call
// from the scan-cycle context only.
func (e *Estimator) IntegratedEstimate() spatialmath.Pose {
	return e.integrated
}

// LastPointCloud returns the most recently ingested scan, or false before
// the first scan arrives.
func (e *Estimator) LastPointCloud() (pointcloud.PointCloud, bool) {
	if !e.initialized || e.query == nil {
		return nil, false
	}
	return e.query, true
}

func (e *Estimator) noUpdate() Result {
	return Result{
		Updated:     false,
		Incremental: e.incremental,
		Integrated:  e.integrated,
	}
}

func onOff(active bool) string {
	if active {
		return "on"
	}
	return "off"
}
