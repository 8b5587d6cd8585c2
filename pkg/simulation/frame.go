package simulation

import (
	"time"

	"github.com/oxygene76/gravlens/internal/types"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
)

// BodyState is a body as it was when a frame was computed
type BodyState struct {
	ID       int
	Name     string
	Mass     float64
	Radius   float64
	Position astromath.Vector3
}

// Frame is the complete result of one pass. Frames are never modified
// after they are published.
type Frame struct {
	Seq     uint64
	Time    float64
	Bodies  []BodyState
	Paths   []raytrace.Path
	Elapsed time.Duration
}

// Counts returns how many rays ended in each terminal state
func (f *Frame) Counts() (absorbed, escaped, exhausted int) {
	for _, p := range f.Paths {
		switch p.Termination {
		case raytrace.Absorbed:
			absorbed++
		case raytrace.Escaped:
			escaped++
		case raytrace.StepBudgetExhausted:
			exhausted++
		}
	}
	return absorbed, escaped, exhausted
}

// Record converts the frame into its wire form. Ray paths are only
// included when requested.
func (f *Frame) Record(includeRays bool) types.FrameRecord {
	rec := types.FrameRecord{
		Seq:       f.Seq,
		Time:      f.Time,
		ComputeMS: float64(f.Elapsed.Microseconds()) / 1000,
		Bodies:    make([]types.BodyRecord, len(f.Bodies)),
	}
	rec.Absorbed, rec.Escaped, rec.Exhausted = f.Counts()

	for i, b := range f.Bodies {
		rec.Bodies[i] = types.BodyRecord{
			ID:       b.ID,
			Name:     b.Name,
			Mass:     b.Mass,
			Radius:   b.Radius,
			Position: triple(b.Position),
		}
	}

	if includeRays {
		rec.Rays = make([]types.RayRecord, len(f.Paths))
		for i, p := range f.Paths {
			points := make([][3]float64, len(p.Points))
			for j, pt := range p.Points {
				points[j] = triple(pt)
			}
			rec.Rays[i] = types.RayRecord{
				ID:          p.Ray,
				Termination: p.Termination.String(),
				Steps:       p.Steps,
				Points:      points,
			}
		}
	}
	return rec
}

func triple(v astromath.Vector3) [3]float64 {
	return [3]float64{v.X, v.Y, v.Z}
}
