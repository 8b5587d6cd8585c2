package sampler

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// Sample draws count vectors uniformly over the sphere of radius speed.
// The same seed always yields the same sequence.
//
// Directions use Archimedes' theorem: z uniform on [-1, 1] and azimuth
// uniform on [0, 2π).
func Sample(count int, speed float64, seed uint64) []astromath.Vector3 {
	if count <= 0 {
		return nil
	}
	src := rand.NewSource(seed)
	height := distuv.Uniform{Min: -1, Max: 1, Src: src}
	azimuth := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}

	out := make([]astromath.Vector3, count)
	for i := range out {
		z := height.Rand()
		phi := azimuth.Rand()
		ring := math.Sqrt(math.Max(0, 1-z*z))
		sin, cos := math.Sincos(phi)
		out[i] = astromath.Vector3{
			X: ring * cos * speed,
			Y: ring * sin * speed,
			Z: z * speed,
		}
	}
	return out
}
