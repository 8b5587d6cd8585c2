package bodies

import (
	"math"
	"sync"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/gravlens/internal/types"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// NoParent marks a root body
const NoParent = -1

// Spec describes a body at construction time
type Spec struct {
	Name   string
	Mass   float64
	Radius float64
	// Offset is the translation applied in the parent's local frame
	Offset astromath.Vector3
	// SelfRate is the rotation rate applied before the offset
	SelfRate float64
	// OrbitRate is the rotation rate applied after the offset, inherited by satellites
	OrbitRate float64
	Parent    int
}

// Node is the immutable structural part of a body
type Node struct {
	ID        int
	Name      string
	Radius    float64
	Offset    astromath.Vector3
	SelfRate  float64
	OrbitRate float64
	Parent    int
	Children  []int
}

// IsRoot reports whether the node has no parent
func (n Node) IsRoot() bool {
	return n.Parent == NoParent
}

// Body is a node together with its current mass
type Body struct {
	Node
	Mass float64
}

// Layout is the body forest. It never changes after construction so
// readers need no locking.
type Layout struct {
	nodes []Node
	roots []int
	index map[string]int
}

// Len returns the number of bodies
func (l *Layout) Len() int {
	return len(l.nodes)
}

// Node returns the node with the given ID. Callers pass IDs obtained from
// the layout itself; out-of-range IDs panic like a slice index.
func (l *Layout) Node(id int) Node {
	return l.nodes[id]
}

// Roots returns the root IDs in ascending order
func (l *Layout) Roots() []int {
	return l.roots
}

// Lookup finds a body ID by name
func (l *Layout) Lookup(name string) (int, bool) {
	id, ok := l.index[name]
	return id, ok
}

// Depth returns the number of ancestors of a body
func (l *Layout) Depth(id int) int {
	depth := 0
	for p := l.nodes[id].Parent; p != NoParent; p = l.nodes[p].Parent {
		depth++
	}
	return depth
}

// Walk visits every body depth-first from each root, parents before children
func (l *Layout) Walk(fn func(n Node)) {
	var visit func(id int)
	visit = func(id int) {
		n := l.nodes[id]
		fn(n)
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range l.roots {
		visit(r)
	}
}

// Registry owns the body arena and the mutable masses
type Registry struct {
	layout *Layout

	mu     sync.RWMutex
	masses []float64
}

// New validates the specs and builds a registry. Parents are referenced by
// index into specs; the relation must form a forest.
func New(specs []Spec) (*Registry, error) {
	if err := validateSpecs(specs); err != nil {
		return nil, err
	}
	if err := detectCycles(specs); err != nil {
		return nil, err
	}

	layout := &Layout{
		nodes: make([]Node, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	masses := make([]float64, len(specs))

	for i, s := range specs {
		layout.nodes[i] = Node{
			ID:        i,
			Name:      s.Name,
			Radius:    s.Radius,
			Offset:    s.Offset,
			SelfRate:  s.SelfRate,
			OrbitRate: s.OrbitRate,
			Parent:    s.Parent,
		}
		layout.index[s.Name] = i
		masses[i] = s.Mass
	}
	// children are appended in ascending ID order so iteration is stable
	for i, s := range specs {
		if s.Parent == NoParent {
			layout.roots = append(layout.roots, i)
			continue
		}
		p := &layout.nodes[s.Parent]
		p.Children = append(p.Children, i)
	}

	return &Registry{layout: layout, masses: masses}, nil
}

func validateSpecs(specs []Spec) error {
	seen := make(map[string]int, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return errorsmod.Wrapf(types.ErrInvalidBody, "body %d has no name", i)
		}
		if prev, ok := seen[s.Name]; ok {
			return errorsmod.Wrapf(types.ErrInvalidBody, "duplicate name %q (bodies %d and %d)", s.Name, prev, i)
		}
		seen[s.Name] = i

		if !(s.Radius > 0) || math.IsInf(s.Radius, 0) {
			return errorsmod.Wrapf(types.ErrInvalidBody, "%s: radius must be positive and finite, got %v", s.Name, s.Radius)
		}
		if !(s.Mass >= 0) || math.IsInf(s.Mass, 0) {
			return errorsmod.Wrapf(types.ErrInvalidBody, "%s: mass must be non-negative and finite, got %v", s.Name, s.Mass)
		}
		if !s.Offset.IsFinite() || !isFinite(s.SelfRate) || !isFinite(s.OrbitRate) {
			return errorsmod.Wrapf(types.ErrInvalidBody, "%s: offset and rates must be finite", s.Name)
		}
		if s.Parent == i {
			return errorsmod.Wrapf(types.ErrCyclicTree, "%s is its own parent", s.Name)
		}
		if s.Parent != NoParent && (s.Parent < 0 || s.Parent >= len(specs)) {
			return errorsmod.Wrapf(types.ErrUnknownBody, "%s: parent index %d out of range", s.Name, s.Parent)
		}
	}
	return nil
}

// detectCycles walks every parent chain once. A chain that reaches a body
// still on the current walk is a cycle.
func detectCycles(specs []Spec) error {
	const (
		unvisited = iota
		walking
		done
	)
	state := make([]uint8, len(specs))

	for start := range specs {
		if state[start] == done {
			continue
		}
		var chain []int
		id := start
		for id != NoParent && state[id] != done {
			if state[id] == walking {
				return errorsmod.Wrapf(types.ErrCyclicTree, "cycle through %q", specs[id].Name)
			}
			state[id] = walking
			chain = append(chain, id)
			id = specs[id].Parent
		}
		for _, c := range chain {
			state[c] = done
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Layout returns the immutable structure
func (r *Registry) Layout() *Layout {
	return r.layout
}

// Len returns the number of bodies
func (r *Registry) Len() int {
	return r.layout.Len()
}

// Lookup finds a body ID by name
func (r *Registry) Lookup(name string) (int, error) {
	id, ok := r.layout.Lookup(name)
	if !ok {
		return 0, errorsmod.Wrapf(types.ErrUnknownBody, "no body named %q", name)
	}
	return id, nil
}

// Body returns a copy of a body's structure and current mass
func (r *Registry) Body(id int) (Body, error) {
	if err := r.checkID(id); err != nil {
		return Body{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Body{Node: r.layout.nodes[id], Mass: r.masses[id]}, nil
}

// Bodies returns a copy of every body in ID order
func (r *Registry) Bodies() []Body {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Body, len(r.masses))
	for i := range out {
		out[i] = Body{Node: r.layout.nodes[i], Mass: r.masses[i]}
	}
	return out
}

// Masses returns a point-in-time copy of all masses
func (r *Registry) Masses() []float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]float64, len(r.masses))
	copy(out, r.masses)
	return out
}

// Mass returns the current mass of a body
func (r *Registry) Mass(id int) (float64, error) {
	if err := r.checkID(id); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.masses[id], nil
}

// SetMass replaces a body's mass. Negative values are clamped to zero.
// It returns the mass actually stored.
func (r *Registry) SetMass(id int, mass float64) (float64, error) {
	if err := r.checkID(id); err != nil {
		return 0, err
	}
	if math.IsNaN(mass) || math.IsInf(mass, 0) {
		return 0, errorsmod.Wrapf(types.ErrInvalidBody, "mass must be finite, got %v", mass)
	}
	mass = math.Max(mass, 0)

	r.mu.Lock()
	r.masses[id] = mass
	r.mu.Unlock()
	return mass, nil
}

// AdjustMass adds delta to a body's mass, clamping at zero
func (r *Registry) AdjustMass(id int, delta float64) (float64, error) {
	if err := r.checkID(id); err != nil {
		return 0, err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return 0, errorsmod.Wrapf(types.ErrInvalidBody, "mass delta must be finite, got %v", delta)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.masses[id] = math.Max(r.masses[id]+delta, 0)
	return r.masses[id], nil
}

func (r *Registry) checkID(id int) error {
	if id < 0 || id >= r.layout.Len() {
		return errorsmod.Wrapf(types.ErrUnknownBody, "body id %d out of range [0,%d)", id, r.layout.Len())
	}
	return nil
}
