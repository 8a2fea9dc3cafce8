package registration

import (
	"context"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// minCorrespondences is the smallest pair count a rigid solve is attempted
// on; below it the problem is degenerate.
const minCorrespondences = 3

// ICP is a point-to-point iterative-closest-point registrar. Each iteration
// pairs transformed query points with their nearest reference neighbors
// within the correspondence distance, solves the rigid alignment in closed
// form (SVD), and accumulates the result until the mean error stops
// improving by Epsilon or MaxIterations is reached.
type ICP struct {
	cfg    Config
	logger logging.Logger
}

// NewICP returns an ICP registrar with zero config fields replaced by
// defaults.
func NewICP(cfg Config, logger logging.Logger) *ICP {
	return &ICP{cfg: cfg.withDefaults(), logger: logger}
}

// Register aligns query to reference and returns the rigid transform mapping
// query points into the reference frame.
func (icp *ICP) Register(
	ctx context.Context,
	query, reference pointcloud.PointCloud,
) (spatialmath.Pose, error) {
	if query == nil || reference == nil {
		return nil, errors.New("registration requires both a query and a reference cloud")
	}
	if query.Size() < minCorrespondences || reference.Size() < minCorrespondences {
		return nil, errors.Errorf(
			"too few points to register (query %d, reference %d)",
			query.Size(), reference.Size(),
		)
	}

	src := cloudPoints(query)
	kd := pointcloud.ToKDTree(reference)

	// accumulated transform, applied as p' = R*p + t
	rot := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	trans := r3.Vector{}

	prevErr := math.Inf(1)
	for iter := 0; iter < icp.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "registration interrupted")
		}

		var srcPairs, refPairs []r3.Vector
		var errSum float64
		for _, p := range src {
			tp := applyRigid(rot, trans, p)
			nearest, _, dist, found := kd.NearestNeighbor(tp)
			if !found || dist > icp.cfg.MaxCorrespondenceDistance {
				continue
			}
			srcPairs = append(srcPairs, tp)
			refPairs = append(refPairs, nearest)
			errSum += dist
		}
		if len(srcPairs) < minCorrespondences {
			return nil, errors.Errorf(
				"degenerate registration: %d correspondences within %.1fmm",
				len(srcPairs), icp.cfg.MaxCorrespondenceDistance,
			)
		}

		meanErr := errSum / float64(len(srcPairs))
		if math.Abs(prevErr-meanErr) < icp.cfg.Epsilon {
			break
		}
		prevErr = meanErr

		stepRot, stepTrans, err := solveRigid(srcPairs, refPairs)
		if err != nil {
			return nil, err
		}

		// fold the step into the accumulated transform:
		// p' = Rs*(R*p + t) + ts
		var newRot mat.Dense
		newRot.Mul(stepRot, rot)
		rot = &newRot
		trans = matVec(stepRot, trans).Add(stepTrans)
	}

	orientation, err := spatialmath.NewRotationMatrix(rot.RawMatrix().Data)
	if err != nil {
		return nil, errors.Wrap(err, "registration produced an invalid rotation")
	}
	pose := spatialmath.NewPose(trans, orientation)
	if icp.logger != nil {
		icp.logger.Debugf(
			"registration converged: mean error %.4f, translation %.2fmm",
			prevErr, trans.Norm(),
		)
	}
	return pose, nil
}

// solveRigid computes the least-squares rigid transform taking src onto ref
// (Kabsch). Point lists must be the same length.
func solveRigid(src, ref []r3.Vector) (*mat.Dense, r3.Vector, error) {
	n := float64(len(src))
	var srcCent, refCent r3.Vector
	for i := range src {
		srcCent = srcCent.Add(src[i])
		refCent = refCent.Add(ref[i])
	}
	srcCent = srcCent.Mul(1 / n)
	refCent = refCent.Mul(1 / n)

	// cross-covariance of the centered pairs
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(srcCent)
		r := ref[i].Sub(refCent)
		sv := []float64{s.X, s.Y, s.Z}
		rv := []float64{r.X, r.Y, r.Z}
		for row := 0; row < 3; row++ {
			for col := 0; col < 3; col++ {
				h.Set(row, col, h.At(row, col)+sv[row]*rv[col])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(h, mat.SVDFull); !ok {
		return nil, r3.Vector{}, errors.New("rigid solve failed to factorize covariance")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&v, u.T())
	if mat.Det(&rot) < 0 {
		// reflection case: flip the axis of least variance
		for row := 0; row < 3; row++ {
			v.Set(row, 2, -v.At(row, 2))
		}
		rot.Mul(&v, u.T())
	}

	trans := refCent.Sub(matVec(&rot, srcCent))
	return &rot, trans, nil
}

func applyRigid(rot *mat.Dense, trans, p r3.Vector) r3.Vector {
	return matVec(rot, p).Add(trans)
}

func matVec(m *mat.Dense, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

func cloudPoints(pc pointcloud.PointCloud) []r3.Vector {
	pts := make([]r3.Vector, 0, pc.Size())
	pc.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
		pts = append(pts, p)
		return true
	})
	return pts
}
