package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
	"github.com/oxygene76/gravlens/pkg/simulation"
)

// RayStats summarizes the rays of one frame
type RayStats struct {
	Seq       uint64  `json:"seq"`
	Time      float64 `json:"time"`
	Rays      int     `json:"rays"`
	Absorbed  int     `json:"absorbed"`
	Escaped   int     `json:"escaped"`
	Exhausted int     `json:"exhausted"`

	MeanSteps  float64 `json:"mean_steps"`
	StdSteps   float64 `json:"std_steps"`
	MeanPoints float64 `json:"mean_points"`

	// Deflection angles in radians, over rays that were not absorbed
	MeanDeflection   float64 `json:"mean_deflection"`
	StdDeflection    float64 `json:"std_deflection"`
	MedianDeflection float64 `json:"median_deflection"`
	MaxDeflection    float64 `json:"max_deflection"`

	ComputeMS float64 `json:"compute_ms"`
}

// AbsorbedFraction returns the share of rays that hit a body
func (s RayStats) AbsorbedFraction() float64 {
	if s.Rays == 0 {
		return 0
	}
	return float64(s.Absorbed) / float64(s.Rays)
}

// Summarize computes the statistics of a frame. A nil frame gives zero stats.
func Summarize(f *simulation.Frame) RayStats {
	if f == nil {
		return RayStats{}
	}

	s := RayStats{
		Seq:       f.Seq,
		Time:      f.Time,
		Rays:      len(f.Paths),
		ComputeMS: float64(f.Elapsed.Microseconds()) / 1000,
	}
	s.Absorbed, s.Escaped, s.Exhausted = f.Counts()
	if s.Rays == 0 {
		return s
	}

	steps := make([]float64, len(f.Paths))
	points := make([]float64, len(f.Paths))
	deflections := make([]float64, 0, len(f.Paths))
	for i, p := range f.Paths {
		steps[i] = float64(p.Steps)
		points[i] = float64(len(p.Points))
		if p.Termination != raytrace.Absorbed {
			deflections = append(deflections, p.Deflection())
		}
	}

	s.MeanSteps, s.StdSteps = meanStd(steps)
	s.MeanPoints = stat.Mean(points, nil)

	if len(deflections) > 0 {
		s.MeanDeflection, s.StdDeflection = meanStd(deflections)
		sort.Float64s(deflections)
		s.MedianDeflection = stat.Quantile(0.5, stat.Empirical, deflections, nil)
		s.MaxDeflection = deflections[len(deflections)-1]
	}
	return s
}

// Trend aggregates statistics over a sequence of frames
type Trend struct {
	Frames               int     `json:"frames"`
	MeanAbsorbedFraction float64 `json:"mean_absorbed_fraction"`
	StdAbsorbedFraction  float64 `json:"std_absorbed_fraction"`
	MeanDeflection       float64 `json:"mean_deflection"`
	MeanComputeMS        float64 `json:"mean_compute_ms"`
	MaxComputeMS         float64 `json:"max_compute_ms"`
}

// Aggregate computes a trend over per-frame statistics
func Aggregate(series []RayStats) Trend {
	t := Trend{Frames: len(series)}
	if len(series) == 0 {
		return t
	}

	fractions := make([]float64, len(series))
	deflections := make([]float64, len(series))
	compute := make([]float64, len(series))
	for i, s := range series {
		fractions[i] = s.AbsorbedFraction()
		deflections[i] = s.MeanDeflection
		compute[i] = s.ComputeMS
		t.MaxComputeMS = math.Max(t.MaxComputeMS, s.ComputeMS)
	}

	t.MeanAbsorbedFraction, t.StdAbsorbedFraction = meanStd(fractions)
	t.MeanDeflection = stat.Mean(deflections, nil)
	t.MeanComputeMS = stat.Mean(compute, nil)
	return t
}

// meanStd returns a zero deviation for a single sample instead of NaN
func meanStd(x []float64) (float64, float64) {
	if len(x) == 1 {
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}
