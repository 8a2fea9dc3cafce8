// Package models exposes the point-cloud odometry core as a Viam
// movementsensor model. A lidar camera provides the scans, an optional IMU
// movementsensor provides the orientation stream, and the integrated pose is
// published through the movementsensor API.
package models

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	rutils "go.viam.com/rdk/utils"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Abhimanyu-0/LOCUS/attitude"
	"github.com/Abhimanyu-0/LOCUS/odometry"
	"github.com/Abhimanyu-0/LOCUS/registration"
)

// Model is the full model triplet of the point-cloud odometry movementsensor.
var Model = resource.NewModel("locus", "odometry", "pointcloud-imu")

const (
	defaultScanInterval = 100 * time.Millisecond
	defaultIMUInterval  = 10 * time.Millisecond
)

func init() {
	resource.RegisterComponent(
		movementsensor.API,
		Model,
		resource.Registration[movementsensor.MovementSensor, *Config]{Constructor: newOdometrySensor},
	)
}

// FiducialConfig is an optional known starting pose, position in mm and
// orientation as a quaternion.
type FiducialConfig struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	QW float64 `json:"qw"`
	QX float64 `json:"qx"`
	QY float64 `json:"qy"`
	QZ float64 `json:"qz"`
}

// Config configures the odometry movementsensor.
type Config struct {
	Camera           string `json:"camera"`
	IMU              string `json:"imu,omitempty"`
	ScanIntervalMsec int    `json:"scan_interval_msec,omitempty"`
	IMUIntervalMsec  int    `json:"imu_interval_msec,omitempty"`

	UseIMU           bool    `json:"use_imu,omitempty"`
	CheckIMU         bool    `json:"check_imu,omitempty"`
	IMUThresholdMsec float64 `json:"imu_threshold_msec,omitempty"`

	TransformThresholding bool    `json:"transform_thresholding,omitempty"`
	MaxTranslation        float64 `json:"max_translation_mm,omitempty"`
	MaxRotation           float64 `json:"max_rotation_rads,omitempty"`

	ICPEpsilon                float64 `json:"icp_epsilon,omitempty"`
	ICPCorrespondenceDistance float64 `json:"icp_corr_dist_mm,omitempty"`
	ICPIterations             int     `json:"icp_iterations,omitempty"`

	Fiducial *FiducialConfig `json:"fiducial_calibration,omitempty"`
}

// Validate ensures the config names a lidar camera, and an IMU whenever
// fusion is requested, returning both as dependencies.
func (c *Config) Validate(path string) ([]string, []string, error) {
	var deps []string
	if c.Camera == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "camera")
	}
	deps = append(deps, c.Camera)

	if c.UseIMU && c.IMU == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "imu")
	}
	if c.IMU != "" {
		deps = append(deps, c.IMU)
	}
	return deps, nil, nil
}

type odometrySensor struct {
	resource.Named
	logger logging.Logger

	mu        sync.Mutex
	cam       camera.Camera
	imu       movementsensor.MovementSensor
	estimator *odometry.Estimator
	last      odometry.Result

	scanInterval time.Duration
	imuInterval  time.Duration

	lastErr movementsensor.LastError

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

func newOdometrySensor(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (movementsensor.MovementSensor, error) {
	s := &odometrySensor{
		Named:   conf.ResourceName().AsNamed(),
		logger:  logger,
		lastErr: movementsensor.NewLastError(1, 1),
	}
	if err := s.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}
	return s, nil
}

// Reconfigure swaps dependencies, rebuilds the odometry core and restarts
// the ingestion loops. The integrated estimate restarts from the configured
// fiducial (or the origin).
func (s *odometrySensor) Reconfigure(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
) error {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return err
	}

	s.stopBackgroundWorkers()

	s.mu.Lock()
	defer s.mu.Unlock()

	cam, err := camera.FromDependencies(deps, newConf.Camera)
	if err != nil {
		return errors.Wrapf(err, "getting camera %q", newConf.Camera)
	}
	s.cam = cam

	s.imu = nil
	if newConf.IMU != "" {
		imu, err := movementsensor.FromDependencies(deps, newConf.IMU)
		if err != nil {
			return errors.Wrapf(err, "getting movement sensor %q", newConf.IMU)
		}
		s.imu = imu
	}

	initialPose, err := fiducialPose(newConf.Fiducial)
	if err != nil {
		return err
	}
	if newConf.Fiducial == nil {
		s.logger.Debug("no fiducial calibration configured, starting at the origin")
	}

	registrar := registration.NewICP(registration.Config{
		Epsilon:                   newConf.ICPEpsilon,
		MaxCorrespondenceDistance: newConf.ICPCorrespondenceDistance,
		MaxIterations:             newConf.ICPIterations,
	}, s.logger)

	estimator, err := odometry.New(odometry.Config{
		UseIMU:                newConf.UseIMU,
		CheckIMU:              newConf.CheckIMU,
		IMUThreshold:          time.Duration(newConf.IMUThresholdMsec * float64(time.Millisecond)),
		TransformThresholding: newConf.TransformThresholding,
		MaxTranslation:        newConf.MaxTranslation,
		MaxRotation:           newConf.MaxRotation,
		InitialPose:           initialPose,
	}, registrar, s.logger)
	if err != nil {
		return err
	}
	s.estimator = estimator
	s.last = odometry.Result{Incremental: spatialmath.NewZeroPose(), Integrated: initialPose}

	s.scanInterval = defaultScanInterval
	if newConf.ScanIntervalMsec > 0 {
		s.scanInterval = time.Duration(newConf.ScanIntervalMsec) * time.Millisecond
	}
	s.imuInterval = defaultIMUInterval
	if newConf.IMUIntervalMsec > 0 {
		s.imuInterval = time.Duration(newConf.IMUIntervalMsec) * time.Millisecond
	}

	s.startBackgroundWorkers()
	return nil
}

func fiducialPose(f *FiducialConfig) (spatialmath.Pose, error) {
	if f == nil {
		return spatialmath.NewZeroPose(), nil
	}
	q := quat.Number{Real: f.QW, Imag: f.QX, Jmag: f.QY, Kmag: f.QZ}
	if quat.Abs(q) == 0 {
		return nil, errors.New("fiducial orientation quaternion must be non-zero")
	}
	orientation := spatialmath.QuatToEulerAngles(attitude.Normalize(q))
	return spatialmath.NewPose(r3.Vector{X: f.X, Y: f.Y, Z: f.Z}, orientation), nil
}

func (s *odometrySensor) startBackgroundWorkers() {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s.cancelCtx = cancelCtx
	s.cancelFunc = cancelFunc

	estimator := s.estimator
	cam := s.cam
	imu := s.imu
	scanInterval := s.scanInterval
	imuInterval := s.imuInterval

	if imu != nil {
		s.activeBackgroundWorkers.Add(1)
		utils.PanicCapturingGo(func() {
			defer s.activeBackgroundWorkers.Done()
			for utils.SelectContextOrWait(cancelCtx, imuInterval) {
				s.pollIMU(cancelCtx, estimator, imu)
			}
		})
	}

	s.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		for utils.SelectContextOrWait(cancelCtx, scanInterval) {
			s.pollScan(cancelCtx, estimator, cam)
		}
	})
}

func (s *odometrySensor) stopBackgroundWorkers() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.activeBackgroundWorkers.Wait()
}

func (s *odometrySensor) pollIMU(
	ctx context.Context,
	estimator *odometry.Estimator,
	imu movementsensor.MovementSensor,
) {
	orientation, err := imu.Orientation(ctx, nil)
	if err != nil {
		s.lastErr.Set(errors.Wrap(err, "reading imu orientation"))
		return
	}
	estimator.IngestAttitude(orientation.Quaternion(), time.Now())
}

func (s *odometrySensor) pollScan(
	ctx context.Context,
	estimator *odometry.Estimator,
	cam camera.Camera,
) {
	cloud, err := cam.NextPointCloud(ctx)
	if err != nil {
		s.lastErr.Set(errors.Wrap(err, "reading point cloud"))
		return
	}
	res, err := estimator.ProcessScan(ctx, cloud, time.Now())
	if err != nil {
		s.lastErr.Set(err)
		return
	}
	if !res.Updated {
		return
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

func (s *odometrySensor) lastResult() odometry.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Orientation returns the orientation of the integrated estimate.
func (s *odometrySensor) Orientation(
	ctx context.Context,
	extra map[string]interface{},
) (spatialmath.Orientation, error) {
	if err := s.lastErr.Get(); err != nil {
		return spatialmath.NewZeroOrientation(), err
	}
	return s.lastResult().Integrated.Orientation(), nil
}

// CompassHeading derives a heading in degrees from the integrated yaw, 0
// north and increasing clockwise.
func (s *odometrySensor) CompassHeading(
	ctx context.Context,
	extra map[string]interface{},
) (float64, error) {
	if err := s.lastErr.Get(); err != nil {
		return math.NaN(), err
	}
	yaw := s.lastResult().Integrated.Orientation().EulerAngles().Yaw
	heading := math.Mod(360-rutils.RadToDeg(yaw), 360)
	if heading < 0 {
		heading += 360
	}
	return heading, nil
}

func (s *odometrySensor) Properties(
	ctx context.Context,
	extra map[string]interface{},
) (*movementsensor.Properties, error) {
	return &movementsensor.Properties{
		OrientationSupported:    true,
		CompassHeadingSupported: true,
	}, nil
}

// Readings reports the standard API readings plus the odometry diagnostics:
// the incremental and integrated estimates, both rotation sources in
// roll/pitch/yaw and the IMU/scan time alignment of the latest cycle.
func (s *odometrySensor) Readings(
	ctx context.Context,
	extra map[string]interface{},
) (map[string]interface{}, error) {
	readings, err := movementsensor.DefaultAPIReadings(ctx, s, extra)
	if err != nil {
		return nil, err
	}

	last := s.lastResult()
	readings["updated"] = last.Updated
	readings["accepted"] = last.Accepted
	readings["integrated_position_mm"] = last.Integrated.Point()
	readings["incremental_position_mm"] = last.Incremental.Point()
	readings["rpy_imu"] = eulerVector(&last.Diagnostics.IMU)
	readings["rpy_computed"] = eulerVector(&last.Diagnostics.Registration)
	readings["imu_lidar_ts_diff"] = last.Diagnostics.AlignmentDelta.Seconds()
	readings["imu_active"] = last.Diagnostics.IMUActive
	return readings, nil
}

// DoCommand supports {"get_pose": true}, returning the incremental and
// integrated estimates of the latest cycle.
func (s *odometrySensor) DoCommand(
	ctx context.Context,
	cmd map[string]interface{},
) (map[string]interface{}, error) {
	if _, ok := cmd["get_pose"]; !ok {
		return nil, resource.ErrDoUnimplemented
	}
	last := s.lastResult()
	return map[string]interface{}{
		"updated":     last.Updated,
		"accepted":    last.Accepted,
		"incremental": poseMap(last.Incremental),
		"integrated":  poseMap(last.Integrated),
	}, nil
}

func poseMap(p spatialmath.Pose) map[string]interface{} {
	pt := p.Point()
	eu := p.Orientation().EulerAngles()
	return map[string]interface{}{
		"x_mm":  pt.X,
		"y_mm":  pt.Y,
		"z_mm":  pt.Z,
		"roll":  eu.Roll,
		"pitch": eu.Pitch,
		"yaw":   eu.Yaw,
	}
}

func eulerVector(eu *spatialmath.EulerAngles) r3.Vector {
	return r3.Vector{X: eu.Roll, Y: eu.Pitch, Z: eu.Yaw}
}

// Unimplemented methods: odometry is a relative-frame estimate with no
// geodetic fix or velocity model.
func (s *odometrySensor) Position(
	ctx context.Context,
	extra map[string]interface{},
) (*geo.Point, float64, error) {
	return geo.NewPoint(math.NaN(), math.NaN()), math.NaN(), movementsensor.ErrMethodUnimplementedPosition
}

func (s *odometrySensor) LinearVelocity(
	ctx context.Context,
	extra map[string]interface{},
) (r3.Vector, error) {
	return r3.Vector{}, movementsensor.ErrMethodUnimplementedLinearVelocity
}

func (s *odometrySensor) AngularVelocity(
	ctx context.Context,
	extra map[string]interface{},
) (spatialmath.AngularVelocity, error) {
	return spatialmath.AngularVelocity{}, movementsensor.ErrMethodUnimplementedAngularVelocity
}

func (s *odometrySensor) LinearAcceleration(
	ctx context.Context,
	extra map[string]interface{},
) (r3.Vector, error) {
	return r3.Vector{}, movementsensor.ErrMethodUnimplementedLinearAcceleration
}

func (s *odometrySensor) Accuracy(
	ctx context.Context,
	extra map[string]interface{},
) (*movementsensor.Accuracy, error) {
	return nil, movementsensor.ErrMethodUnimplementedAccuracy
}

func (s *odometrySensor) Close(ctx context.Context) error {
	s.stopBackgroundWorkers()
	return nil
}
