package bodies

import (
	errorsmod "cosmossdk.io/errors"

	"github.com/oxygene76/gravlens/internal/types"
)

// Builder assembles a registry one body at a time. A parent must be added
// before its satellites, so the result can never contain a cycle.
type Builder struct {
	specs []Spec
	names map[string]int
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]int)}
}

// Add appends a body and returns its ID
func (b *Builder) Add(spec Spec) (int, error) {
	if spec.Parent != NoParent && (spec.Parent < 0 || spec.Parent >= len(b.specs)) {
		return 0, errorsmod.Wrapf(types.ErrUnknownBody, "%s: parent %d has not been added", spec.Name, spec.Parent)
	}
	if _, ok := b.names[spec.Name]; ok {
		return 0, errorsmod.Wrapf(types.ErrInvalidBody, "duplicate name %q", spec.Name)
	}
	id := len(b.specs)
	b.specs = append(b.specs, spec)
	b.names[spec.Name] = id
	return id, nil
}

// AddChild appends a body under the named parent
func (b *Builder) AddChild(parent string, spec Spec) (int, error) {
	pid, ok := b.names[parent]
	if !ok {
		return 0, errorsmod.Wrapf(types.ErrUnknownBody, "%s: parent %q has not been added", spec.Name, parent)
	}
	spec.Parent = pid
	return b.Add(spec)
}

// Build validates the collected bodies and returns the registry
func (b *Builder) Build() (*Registry, error) {
	specs := make([]Spec, len(b.specs))
	copy(specs, b.specs)
	return New(specs)
}
