package orbital

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// Resolver computes world positions of the body forest at a simulation time.
// The zero value resolves roots against the identity frame.
type Resolver struct {
	// Anchor translates the frame every root is resolved against
	Anchor astromath.Vector3
}

// Resolve returns the world position of every body, indexed by body ID,
// using the identity frame for roots
func Resolve(layout *bodies.Layout, simTime float64) []astromath.Vector3 {
	return Resolver{}.Resolve(layout, simTime)
}

// Resolve returns the world position of every body, indexed by body ID
func (r Resolver) Resolve(layout *bodies.Layout, simTime float64) []astromath.Vector3 {
	return r.ResolveInto(nil, layout, simTime)
}

// ResolveInto is Resolve writing into dst, which is grown when too short
func (r Resolver) ResolveInto(dst []astromath.Vector3, layout *bodies.Layout, simTime float64) []astromath.Vector3 {
	n := layout.Len()
	if cap(dst) < n {
		dst = make([]astromath.Vector3, n)
	}
	dst = dst[:n]

	r.walk(layout, simTime, func(id int, placement mgl64.Mat4) {
		// image of the local origin is the translation column
		dst[id] = astromath.FromVec3(placement.Col(3).Vec3())
	})
	return dst
}

// Placements returns each body's placement transform (inherited frame,
// self rotation, offset), indexed by body ID. Hosts use it to orient meshes.
func (r Resolver) Placements(layout *bodies.Layout, simTime float64) []mgl64.Mat4 {
	out := make([]mgl64.Mat4, layout.Len())
	r.walk(layout, simTime, func(id int, placement mgl64.Mat4) {
		out[id] = placement
	})
	return out
}

// SatelliteFrame returns the frame a body hands down to its satellites
func (r Resolver) SatelliteFrame(layout *bodies.Layout, simTime float64, id int) mgl64.Mat4 {
	var frame mgl64.Mat4
	r.walk(layout, simTime, func(visited int, placement mgl64.Mat4) {
		if visited == id {
			frame = placement.Mul4(mgl64.HomogRotate3DY(layout.Node(id).OrbitRate * simTime))
		}
	})
	return frame
}

func (r Resolver) walk(layout *bodies.Layout, simTime float64, visit func(id int, placement mgl64.Mat4)) {
	root := mgl64.Translate3D(r.Anchor.X, r.Anchor.Y, r.Anchor.Z)
	for _, id := range layout.Roots() {
		resolve(layout, id, root, simTime, visit)
	}
}

func resolve(layout *bodies.Layout, id int, inherited mgl64.Mat4, simTime float64, visit func(int, mgl64.Mat4)) {
	n := layout.Node(id)

	placement := inherited.
		Mul4(mgl64.HomogRotate3DY(n.SelfRate * simTime)).
		Mul4(mgl64.Translate3D(n.Offset.X, n.Offset.Y, n.Offset.Z))
	visit(id, placement)

	if len(n.Children) == 0 {
		return
	}
	satellites := placement.Mul4(mgl64.HomogRotate3DY(n.OrbitRate * simTime))
	for _, c := range n.Children {
		resolve(layout, c, satellites, simTime, visit)
	}
}
