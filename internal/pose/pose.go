// Package pose defines the contract with the external marker pose
// estimator. Estimation itself happens outside this module: an Estimator
// takes one camera image and returns the marker's rotation and translation
// vectors, or nil vectors when no marker is visible.
package pose

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/logger"
	"github.com/tphakala/tricam/internal/observation"
)

var log = logger.Global().Module("pose")

// Result is the estimated marker pose in camera coordinates. Both vectors
// are nil when the marker was not found, which is not an error.
type Result struct {
	RotationVector    *[3]float64 `json:"rotation_vector"`
	TranslationVector *[3]float64 `json:"translation_vector"`
}

// Found reports whether a marker pose was estimated.
func (r Result) Found() bool {
	return r.RotationVector != nil && r.TranslationVector != nil
}

// Estimator estimates the marker pose in one observation.
type Estimator interface {
	Estimate(ctx context.Context, obs observation.Observation) (Result, error)
}

// EstimatorFunc adapts a function to the Estimator interface.
type EstimatorFunc func(ctx context.Context, obs observation.Observation) (Result, error)

// Estimate calls f.
func (f EstimatorFunc) Estimate(ctx context.Context, obs observation.Observation) (Result, error) {
	return f(ctx, obs)
}

// EstimateAll runs est on the three cameras concurrently. The first failure
// cancels the others and is returned with the camera it came from.
func EstimateAll(ctx context.Context, est Estimator, tri observation.TriCameraObservation) ([observation.NumCameras]Result, error) {
	var results [observation.NumCameras]Result
	g, gctx := errgroup.WithContext(ctx)
	for i, role := range observation.Roles {
		g.Go(func() error {
			res, err := est.Estimate(gctx, tri.Camera(role))
			if err != nil {
				return errors.New(err).
					Component("pose").
					Category(errors.CategoryPose).
					Context("camera", role.String()).
					Build()
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [observation.NumCameras]Result{}, err
	}
	return results, nil
}
