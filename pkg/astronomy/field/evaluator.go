package field

import (
	"math"

	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// DefaultEpsilon floors the squared distance in the inverse-square term
const DefaultEpsilon = 1e-6

// Source is one gravitating body frozen at snapshot time
type Source struct {
	Position astromath.Vector3
	Mass     float64
	Radius   float64
	RadiusSq float64
}

// Snapshot is an immutable copy of body positions, masses and radii used
// by one integration pass. It is safe for concurrent readers.
type Snapshot struct {
	sources []Source
}

// NewSnapshot copies the given slices, which must have equal length
func NewSnapshot(positions []astromath.Vector3, masses, radii []float64) *Snapshot {
	n := len(positions)
	if len(masses) != n || len(radii) != n {
		panic("field: snapshot slices differ in length")
	}
	sources := make([]Source, n)
	for i := range sources {
		sources[i] = Source{
			Position: positions[i],
			Mass:     masses[i],
			Radius:   radii[i],
			RadiusSq: radii[i] * radii[i],
		}
	}
	return &Snapshot{sources: sources}
}

// Len returns the number of sources
func (s *Snapshot) Len() int {
	return len(s.sources)
}

// Source returns the i-th source in stable body order
func (s *Snapshot) Source(i int) Source {
	return s.sources[i]
}

// Sample is the result of one field evaluation
type Sample struct {
	Accel    astromath.Vector3
	Absorbed bool
	// NearestDistSq is +Inf when the snapshot has no sources
	NearestDistSq float64
}

// Evaluator sums Newtonian accelerations with G normalised to 1
type Evaluator struct {
	// Scale exaggerates the field for the visual effect
	Scale float64
	// Epsilon floors the squared distance, guarding near-singular points
	Epsilon float64
}

// NewEvaluator returns an evaluator with the given scale and the default epsilon
func NewEvaluator(scale float64) Evaluator {
	return Evaluator{Scale: scale, Epsilon: DefaultEpsilon}
}

// Evaluate returns the acceleration at point. Sources are visited in
// snapshot order and the first one whose radius contains the point absorbs
// it; the returned acceleration is then zero.
func (e Evaluator) Evaluate(point astromath.Vector3, s *Snapshot) Sample {
	out := Sample{NearestDistSq: math.Inf(1)}

	for i := range s.sources {
		src := &s.sources[i]
		dir := src.Position.Sub(point)
		distSq := dir.MagnitudeSq()

		if distSq < src.RadiusSq {
			return Sample{Absorbed: true, NearestDistSq: distSq}
		}
		if distSq < out.NearestDistSq {
			out.NearestDistSq = distSq
		}

		d := math.Max(distSq, e.Epsilon)
		out.Accel = out.Accel.AddScaled(dir, e.Scale*src.Mass/(d*math.Sqrt(d)))
	}
	return out
}
