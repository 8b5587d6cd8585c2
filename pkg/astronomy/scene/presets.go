package scene

import (
	"sort"

	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
)

// Preset names a predefined body tree
type Preset string

const (
	PresetBlackHoleSystem Preset = "blackhole_system"
	PresetBinary          Preset = "binary"
	PresetSingle          Preset = "single"
	PresetEmpty           Preset = "empty"
)

// DefaultPreset is used when no scene is configured
const DefaultPreset = PresetBlackHoleSystem

// BodyDef describes a body with its parent given by name. An empty Parent
// makes the body a root. Parents must be listed before their satellites.
type BodyDef struct {
	Name      string     `mapstructure:"name" yaml:"name" json:"name"`
	Parent    string     `mapstructure:"parent" yaml:"parent,omitempty" json:"parent,omitempty"`
	Mass      float64    `mapstructure:"mass" yaml:"mass" json:"mass"`
	Radius    float64    `mapstructure:"radius" yaml:"radius" json:"radius"`
	Offset    [3]float64 `mapstructure:"offset" yaml:"offset" json:"offset"`
	SelfRate  float64    `mapstructure:"self_rate" yaml:"self_rate" json:"self_rate"`
	OrbitRate float64    `mapstructure:"orbit_rate" yaml:"orbit_rate" json:"orbit_rate"`
}

// Spec converts the definition into a registry spec without a parent
func (d BodyDef) Spec() bodies.Spec {
	return bodies.Spec{
		Name:      d.Name,
		Mass:      d.Mass,
		Radius:    d.Radius,
		Offset:    astromath.Vector3{X: d.Offset[0], Y: d.Offset[1], Z: d.Offset[2]},
		SelfRate:  d.SelfRate,
		OrbitRate: d.OrbitRate,
		Parent:    bodies.NoParent,
	}
}

var presets = map[Preset]func() []BodyDef{
	// A black hole circling the emitter, a neutron star around the hole
	// and a planet around the star
	PresetBlackHoleSystem: func() []BodyDef {
		return []BodyDef{
			{Name: "blackhole", Mass: 800, Radius: 4, Offset: [3]float64{50, 0, 0}, SelfRate: 0.15, OrbitRate: 0.05},
			{Name: "neutron_star", Parent: "blackhole", Mass: 500, Radius: 2, Offset: [3]float64{15, 0, 0}, SelfRate: 0.5, OrbitRate: 2},
			{Name: "planet", Parent: "neutron_star", Mass: 100, Radius: 1, Offset: [3]float64{4, 0, 0}, SelfRate: 1.5, OrbitRate: 1},
		}
	},
	// Two stars on opposite sides of a massless barycentre
	PresetBinary: func() []BodyDef {
		return []BodyDef{
			{Name: "barycentre", Mass: 0, Radius: 0.01, Offset: [3]float64{40, 0, 0}, OrbitRate: 0.4},
			{Name: "primary", Parent: "barycentre", Mass: 600, Radius: 3, Offset: [3]float64{10, 0, 0}},
			{Name: "secondary", Parent: "barycentre", Mass: 400, Radius: 2, Offset: [3]float64{-15, 0, 0}},
		}
	},
	PresetSingle: func() []BodyDef {
		return []BodyDef{
			{Name: "lens", Mass: 800, Radius: 4, Offset: [3]float64{50, 0, 0}},
		}
	},
	PresetEmpty: func() []BodyDef {
		return nil
	},
}

// Presets returns the known preset names in sorted order
func Presets() []Preset {
	names := make([]Preset, 0, len(presets))
	for p := range presets {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Definitions returns a fresh copy of the preset's bodies
func Definitions(preset Preset) ([]BodyDef, error) {
	fn, ok := presets[preset]
	if !ok {
		return nil, errorsmod.Wrapf(types.ErrUnknownPreset, "%q", preset)
	}
	return fn(), nil
}

// Build creates a registry from definitions whose parents are given by name
func Build(defs []BodyDef) (*bodies.Registry, error) {
	b := bodies.NewBuilder()
	for _, d := range defs {
		var err error
		if d.Parent == "" {
			_, err = b.Add(d.Spec())
		} else {
			_, err = b.AddChild(d.Parent, d.Spec())
		}
		if err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// Load builds the registry for a configured scene. Custom definitions take
// precedence over the preset when present.
func Load(preset Preset, custom []BodyDef) (*bodies.Registry, error) {
	defs := custom
	if len(defs) == 0 {
		if preset == "" {
			preset = DefaultPreset
		}
		var err error
		defs, err = Definitions(preset)
		if err != nil {
			return nil, err
		}
	}
	return Build(defs)
}

// Describe lists the definitions of a registry, with parents by name
func Describe(reg *bodies.Registry) []BodyDef {
	layout := reg.Layout()
	masses := reg.Masses()
	defs := make([]BodyDef, 0, layout.Len())
	for id := 0; id < layout.Len(); id++ {
		n := layout.Node(id)
		d := BodyDef{
			Name:      n.Name,
			Mass:      masses[id],
			Radius:    n.Radius,
			Offset:    [3]float64{n.Offset.X, n.Offset.Y, n.Offset.Z},
			SelfRate:  n.SelfRate,
			OrbitRate: n.OrbitRate,
		}
		if !n.IsRoot() {
			d.Parent = layout.Node(n.Parent).Name
		}
		defs = append(defs, d)
	}
	return defs
}
