package raytrace

import (
	"fmt"

	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// Termination tells why a ray stopped
type Termination uint8

const (
	Active Termination = iota
	Absorbed
	Escaped
	StepBudgetExhausted
)

var terminationNames = map[Termination]string{
	Active:              "active",
	Absorbed:            "absorbed",
	Escaped:             "escaped",
	StepBudgetExhausted: "step_budget_exhausted",
}

func (t Termination) String() string {
	if s, ok := terminationNames[t]; ok {
		return s
	}
	return fmt.Sprintf("termination(%d)", uint8(t))
}

// MarshalText implements encoding.TextMarshaler
func (t Termination) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *Termination) UnmarshalText(b []byte) error {
	for k, v := range terminationNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown termination %q", b)
}

// Ray is a member of the ray population: an identity and the initial
// velocity it was sampled with
type Ray struct {
	ID       int
	Velocity astromath.Vector3
}

// NewRays assigns identities to sampled velocities
func NewRays(velocities []astromath.Vector3) []Ray {
	rays := make([]Ray, len(velocities))
	for i, v := range velocities {
		rays[i] = Ray{ID: i, Velocity: v}
	}
	return rays
}

// Path is the result of tracing one ray for one pass
type Path struct {
	Ray         int
	Points      []astromath.Vector3
	Termination Termination
	// Steps counts integration steps taken, including the terminating one
	Steps           int
	InitialVelocity astromath.Vector3
	FinalVelocity   astromath.Vector3
}

// Deflection returns the angle in radians between the initial and final velocity
func (p Path) Deflection() float64 {
	return p.InitialVelocity.AngleTo(p.FinalVelocity)
}
