package simulation

import (
	"math"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/field"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
)

// MassEditMode decides when a mass edit becomes visible in published frames
type MassEditMode string

const (
	// MassEditNextTick only records the edit; the next tick picks it up
	MassEditNextTick MassEditMode = "next_tick"
	// MassEditImmediate re-runs a pass at the current time after the edit
	MassEditImmediate MassEditMode = "immediate"
)

// ParseMassEditMode validates a configured mode. Empty means next tick.
func ParseMassEditMode(s string) (MassEditMode, error) {
	switch MassEditMode(s) {
	case "", MassEditNextTick:
		return MassEditNextTick, nil
	case MassEditImmediate:
		return MassEditImmediate, nil
	}
	return "", errorsmod.Wrapf(types.ErrInvalidConfig, "mass edit mode %q", s)
}

// Context carries the time and tunables of one simulation. A driver owns
// its context; nothing here is shared between drivers.
type Context struct {
	Time         float64
	Params       raytrace.Params
	GravityScale float64
	Epsilon      float64
	RayCount     int
	RaySpeed     float64
	Seed         uint64
	// Emitter is where every ray starts
	Emitter astromath.Vector3
	// Anchor translates the roots of the body forest
	Anchor       astromath.Vector3
	MassEditMode MassEditMode
}

// DefaultContext returns the reference scene tuning
func DefaultContext() Context {
	return Context{
		Params:       raytrace.DefaultParams(),
		GravityScale: 5,
		Epsilon:      field.DefaultEpsilon,
		RayCount:     300,
		RaySpeed:     30,
		Seed:         1,
		MassEditMode: MassEditNextTick,
	}
}

// Evaluator returns the field evaluator for this context
func (c Context) Evaluator() field.Evaluator {
	return field.Evaluator{Scale: c.GravityScale, Epsilon: c.Epsilon}
}

// Validate checks every tunable
func (c Context) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	switch {
	case math.IsNaN(c.Time) || math.IsInf(c.Time, 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "start time %v", c.Time)
	case math.IsNaN(c.GravityScale) || math.IsInf(c.GravityScale, 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "gravity scale %v", c.GravityScale)
	case !(c.Epsilon > 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "distance epsilon must be positive, got %v", c.Epsilon)
	case c.RayCount < 0:
		return errorsmod.Wrapf(types.ErrInvalidParams, "ray population size %d", c.RayCount)
	case !(c.RaySpeed >= 0) || math.IsInf(c.RaySpeed, 0):
		return errorsmod.Wrapf(types.ErrInvalidParams, "ray speed %v", c.RaySpeed)
	case !c.Emitter.IsFinite() || !c.Anchor.IsFinite():
		return errorsmod.Wrap(types.ErrInvalidParams, "emitter and anchor must be finite")
	}
	if _, err := ParseMassEditMode(string(c.MassEditMode)); err != nil {
		return err
	}
	return nil
}
