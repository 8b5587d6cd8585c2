package field

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

func TestEvaluate_EmptySnapshot(t *testing.T) {
	s := NewSnapshot(nil, nil, nil)
	got := NewEvaluator(5).Evaluate(astromath.Vector3{X: 3}, s)

	assert.False(t, got.Absorbed)
	assert.True(t, got.Accel.IsZero())
	assert.True(t, math.IsInf(got.NearestDistSq, 1))
}

func TestEvaluate_InverseSquare(t *testing.T) {
	s := NewSnapshot(
		[]astromath.Vector3{{X: 10}},
		[]float64{100},
		[]float64{1},
	)
	got := NewEvaluator(5).Evaluate(astromath.Vector3{}, s)

	// |a| = scale * m / r^2, pointing at the body
	assert.False(t, got.Absorbed)
	assert.InDelta(t, 5*100/100.0, got.Accel.X, 1e-12)
	assert.InDelta(t, 0, got.Accel.Y, 1e-12)
	assert.InDelta(t, 100, got.NearestDistSq, 1e-12)
}

func TestEvaluate_SumsAndTracksNearest(t *testing.T) {
	s := NewSnapshot(
		[]astromath.Vector3{{X: 10}, {X: -10}, {Y: 4}},
		[]float64{50, 50, 0},
		[]float64{1, 1, 1},
	)
	got := Evaluator{Scale: 1, Epsilon: DefaultEpsilon}.Evaluate(astromath.Vector3{}, s)

	// symmetric pair cancels, massless body only affects the nearest distance
	assert.InDelta(t, 0, got.Accel.X, 1e-12)
	assert.InDelta(t, 0, got.Accel.Y, 1e-12)
	assert.InDelta(t, 16, got.NearestDistSq, 1e-12)
}

func TestEvaluate_AbsorptionShortCircuits(t *testing.T) {
	s := NewSnapshot(
		[]astromath.Vector3{{X: 100}, {X: 0.5}, {X: 0.2}},
		[]float64{1000, 10, 10},
		[]float64{1, 1, 1},
	)
	got := NewEvaluator(5).Evaluate(astromath.Vector3{}, s)

	assert.True(t, got.Absorbed)
	assert.True(t, got.Accel.IsZero())
	// the first containing body in order wins
	assert.InDelta(t, 0.25, got.NearestDistSq, 1e-12)
}

func TestEvaluate_OnRadiusIsNotAbsorbed(t *testing.T) {
	s := NewSnapshot([]astromath.Vector3{{X: 2}}, []float64{1}, []float64{2})
	got := NewEvaluator(1).Evaluate(astromath.Vector3{}, s)
	assert.False(t, got.Absorbed)
}

func TestEvaluate_EpsilonFloor(t *testing.T) {
	// a body whose radius is smaller than sqrt(epsilon) can be approached
	// closer than the floor without blowing up
	s := NewSnapshot([]astromath.Vector3{{}}, []float64{1}, []float64{1e-9})
	e := Evaluator{Scale: 1, Epsilon: 1e-4}
	got := e.Evaluate(astromath.Vector3{X: 1e-6}, s)

	assert.False(t, got.Absorbed)
	assert.True(t, got.Accel.IsFinite())
	assert.InDelta(t, -1e-6/math.Pow(1e-4, 1.5), got.Accel.X, 1e-9)
}

func TestNewSnapshot_CopiesInputs(t *testing.T) {
	pos := []astromath.Vector3{{X: 1}}
	mass := []float64{3}
	radius := []float64{2}
	s := NewSnapshot(pos, mass, radius)

	pos[0].X = 99
	mass[0] = 99
	radius[0] = 99

	src := s.Source(0)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1.0, src.Position.X)
	assert.Equal(t, 3.0, src.Mass)
	assert.Equal(t, 4.0, src.RadiusSq)
}

func TestNewSnapshot_PanicsOnMismatch(t *testing.T) {
	assert.Panics(t, func() {
		NewSnapshot([]astromath.Vector3{{}}, []float64{1, 2}, []float64{1})
	})
}
