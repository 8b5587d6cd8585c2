package raytrace

import (
	"context"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/field"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/compute"
)

// Params are the tunables of the per-ray loop
type Params struct {
	BaseDt float64
	// Threshold1/Factor1 and Threshold2/Factor2 grow the step with the
	// squared distance to the nearest body
	Threshold1 float64
	Factor1    float64
	Threshold2 float64
	Factor2    float64
	// HalfExtent bounds the escape cube centred on the world origin
	HalfExtent float64
	MaxSteps   int
	// Stride keeps every Stride-th position in the path
	Stride int
	// IncludeOrigin records the emitter position as the first path point
	IncludeOrigin bool
}

// DefaultParams returns the tuning of the reference scene
func DefaultParams() Params {
	return Params{
		BaseDt:     0.01,
		Threshold1: 500,
		Factor1:    2,
		Threshold2: 2000,
		Factor2:    4,
		HalfExtent: 200,
		MaxSteps:   2000,
		Stride:     10,
	}
}

// Validate checks the parameters once, outside the hot path
func (p Params) Validate() error {
	switch {
	case !(p.BaseDt > 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "base dt must be positive, got %v", p.BaseDt)
	case p.Factor1 < 1 || p.Factor2 < 1:
		return errorsmod.Wrapf(types.ErrInvalidParams, "adaptive factors must be >= 1, got %v and %v", p.Factor1, p.Factor2)
	case p.Threshold1 < 0 || p.Threshold2 < p.Threshold1:
		return errorsmod.Wrapf(types.ErrInvalidParams, "thresholds must satisfy 0 <= t1 <= t2, got %v and %v", p.Threshold1, p.Threshold2)
	case !(p.HalfExtent > 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "bounding half extent must be positive, got %v", p.HalfExtent)
	case p.MaxSteps <= 0:
		return errorsmod.Wrapf(types.ErrInvalidParams, "max steps must be positive, got %d", p.MaxSteps)
	case p.Stride < 1:
		return errorsmod.Wrapf(types.ErrInvalidParams, "path stride must be >= 1, got %d", p.Stride)
	}
	return nil
}

// StepSize returns the adaptive step for the squared distance to the nearest body
func (p Params) StepSize(nearestDistSq float64) float64 {
	dt := p.BaseDt
	if nearestDistSq > p.Threshold1 {
		dt *= p.Factor1
	}
	if nearestDistSq > p.Threshold2 {
		dt *= p.Factor2
	}
	return dt
}

// MaxPathLen is the longest path a ray can produce
func (p Params) MaxPathLen() int {
	n := (p.MaxSteps + p.Stride - 1) / p.Stride
	if p.IncludeOrigin {
		n++
	}
	return n
}

// Integrator advances rays through the field of a snapshot
type Integrator struct {
	params Params
	eval   field.Evaluator
	pool   *compute.Pool
}

// NewIntegrator validates params. A nil pool traces rays sequentially.
func NewIntegrator(params Params, eval field.Evaluator, pool *compute.Pool) (*Integrator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Integrator{params: params, eval: eval, pool: pool}, nil
}

// Params returns the integrator's parameters
func (in *Integrator) Params() Params {
	return in.params
}

// Trace runs the loop for one ray starting at origin. It reads only the
// snapshot and its own state, so any number of Trace calls may run at once.
func (in *Integrator) Trace(origin astromath.Vector3, ray Ray, snap *field.Snapshot) Path {
	p := &in.params

	capacity := p.MaxPathLen()
	if capacity > 512 {
		capacity = 512
	}
	path := Path{
		Ray:             ray.ID,
		Points:          make([]astromath.Vector3, 0, capacity),
		Termination:     StepBudgetExhausted,
		Steps:           p.MaxSteps,
		InitialVelocity: ray.Velocity,
	}
	if p.IncludeOrigin {
		path.Points = append(path.Points, origin)
	}

	pos := origin
	vel := ray.Velocity

	// a sampled position is held back until the next evaluation shows it
	// lies outside every body, so the path never enters an absorber
	pending := false

	for step := 0; step < p.MaxSteps; step++ {
		sample := in.eval.Evaluate(pos, snap)
		if sample.Absorbed {
			path.Termination = Absorbed
			path.Steps = step
			pending = false
			break
		}
		if pending {
			path.Points = append(path.Points, pos)
			pending = false
		}

		dt := p.StepSize(sample.NearestDistSq)
		vel = vel.AddScaled(sample.Accel, dt)
		pos = pos.AddScaled(vel, dt)

		if pos.MaxAbs() > p.HalfExtent {
			path.Termination = Escaped
			path.Steps = step + 1
			break
		}

		pending = step%p.Stride == 0
	}
	if pending {
		path.Points = append(path.Points, pos)
	}

	path.FinalVelocity = vel
	return path
}

// Integrate traces every ray against the same snapshot and returns the
// paths in ray order. The result does not depend on the pool size.
func (in *Integrator) Integrate(ctx context.Context, origin astromath.Vector3, rays []Ray, snap *field.Snapshot) ([]Path, error) {
	paths := make([]Path, len(rays))

	if in.pool == nil {
		for i, r := range rays {
			paths[i] = in.Trace(origin, r, snap)
		}
		return paths, nil
	}

	err := in.pool.ParallelFor(ctx, len(rays), func(i int) error {
		paths[i] = in.Trace(origin, rays[i], snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
