package simulation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	"github.com/oxygene76/gravlens/pkg/astronomy/field"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/orbital"
	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
	"github.com/oxygene76/gravlens/pkg/astronomy/sampler"
	"github.com/oxygene76/gravlens/pkg/compute"
)

// Driver runs simulation passes over a body registry and publishes each
// finished pass as a Frame. Passes are serialized; readers of Latest and
// subscribers only ever see complete frames.
type Driver struct {
	reg        *bodies.Registry
	resolver   orbital.Resolver
	integrator *raytrace.Integrator
	emitter    astromath.Vector3
	mode       MassEditMode
	radii      []float64
	logger     zerolog.Logger

	passMu    sync.Mutex
	time      float64
	seq       uint64
	rays      []raytrace.Ray
	positions []astromath.Vector3

	latest atomic.Pointer[Frame]

	subMu   sync.Mutex
	subs    map[int]chan *Frame
	nextSub int
}

// NewDriver validates the context, samples the initial ray population and
// returns a driver that has not run a pass yet.
func NewDriver(reg *bodies.Registry, sctx Context, pool *compute.Pool, logger zerolog.Logger) (*Driver, error) {
	if err := sctx.Validate(); err != nil {
		return nil, err
	}
	integrator, err := raytrace.NewIntegrator(sctx.Params, sctx.Evaluator(), pool)
	if err != nil {
		return nil, err
	}
	mode, _ := ParseMassEditMode(string(sctx.MassEditMode))

	layout := reg.Layout()
	radii := make([]float64, layout.Len())
	for id := range radii {
		radii[id] = layout.Node(id).Radius
	}

	d := &Driver{
		reg:        reg,
		resolver:   orbital.Resolver{Anchor: sctx.Anchor},
		integrator: integrator,
		emitter:    sctx.Emitter,
		mode:       mode,
		radii:      radii,
		logger:     logger.With().Str("component", "driver").Logger(),
		time:       sctx.Time,
		rays:       raytrace.NewRays(sampler.Sample(sctx.RayCount, sctx.RaySpeed, sctx.Seed)),
		subs:       make(map[int]chan *Frame),
	}
	return d, nil
}

// Registry returns the driven body registry
func (d *Driver) Registry() *bodies.Registry {
	return d.reg
}

// MassEditMode returns how mass edits are applied
func (d *Driver) MassEditMode() MassEditMode {
	return d.mode
}

// Time returns the time of the last pass, or the start time before the first one
func (d *Driver) Time() float64 {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	return d.time
}

// Rays returns a copy of the current ray population
func (d *Driver) Rays() []raytrace.Ray {
	d.passMu.Lock()
	defer d.passMu.Unlock()
	out := make([]raytrace.Ray, len(d.rays))
	copy(out, d.rays)
	return out
}

// Latest returns the most recently published frame, or nil before the first pass
func (d *Driver) Latest() *Frame {
	return d.latest.Load()
}

// Step runs one pass at simTime and publishes it. simTime may equal the
// current time but never precede it. The context is only consulted before
// the pass starts; a started pass always runs to completion.
func (d *Driver) Step(ctx context.Context, simTime float64) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()

	if simTime < d.time {
		return nil, errorsmod.Wrapf(types.ErrTimeReversal, "requested %v, current %v", simTime, d.time)
	}
	return d.pass(ctx, simTime)
}

// Tick advances the time by delta and runs a pass
func (d *Driver) Tick(ctx context.Context, delta float64) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if delta < 0 {
		return nil, errorsmod.Wrapf(types.ErrTimeReversal, "negative tick %v", delta)
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()
	return d.pass(ctx, d.time+delta)
}

// Refresh re-runs a pass at the current time
func (d *Driver) Refresh(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.passMu.Lock()
	defer d.passMu.Unlock()
	return d.pass(ctx, d.time)
}

// pass must be called with passMu held
func (d *Driver) pass(ctx context.Context, simTime float64) (*Frame, error) {
	start := time.Now()

	// every body is placed before any ray is traced
	masses := d.reg.Masses()
	d.positions = d.resolver.ResolveInto(d.positions, d.reg.Layout(), simTime)
	snap := field.NewSnapshot(d.positions, masses, d.radii)

	paths, err := d.integrator.Integrate(context.WithoutCancel(ctx), d.emitter, d.rays, snap)
	if err != nil {
		return nil, err
	}

	layout := d.reg.Layout()
	states := make([]BodyState, layout.Len())
	for id := range states {
		n := layout.Node(id)
		states[id] = BodyState{
			ID:       id,
			Name:     n.Name,
			Mass:     masses[id],
			Radius:   n.Radius,
			Position: d.positions[id],
		}
	}

	d.seq++
	d.time = simTime
	frame := &Frame{
		Seq:     d.seq,
		Time:    simTime,
		Bodies:  states,
		Paths:   paths,
		Elapsed: time.Since(start),
	}
	d.latest.Store(frame)
	d.broadcast(frame)

	if e := d.logger.Debug(); e.Enabled() {
		absorbed, escaped, exhausted := frame.Counts()
		e.Uint64("seq", frame.Seq).
			Float64("time", simTime).
			Dur("elapsed", frame.Elapsed).
			Int("absorbed", absorbed).
			Int("escaped", escaped).
			Int("exhausted", exhausted).
			Msg("pass complete")
	}
	return frame, nil
}

// Resample replaces the ray population. The next pass uses the new rays.
func (d *Driver) Resample(count int, speed float64, seed uint64) error {
	if count < 0 || !(speed >= 0) {
		return errorsmod.Wrapf(types.ErrInvalidParams, "ray population %d at speed %v", count, speed)
	}
	rays := raytrace.NewRays(sampler.Sample(count, speed, seed))

	d.passMu.Lock()
	d.rays = rays
	d.passMu.Unlock()

	d.logger.Info().Int("rays", count).Float64("speed", speed).Uint64("seed", seed).Msg("ray population resampled")
	return nil
}

// SetMass sets a body's mass, clamped at zero, and returns the stored value.
// In immediate mode a fresh frame is published before returning.
func (d *Driver) SetMass(ctx context.Context, id int, mass float64) (float64, error) {
	stored, err := d.reg.SetMass(id, mass)
	if err != nil {
		return 0, err
	}
	return stored, d.afterEdit(ctx, id, stored)
}

// AdjustMass adds delta to a body's mass, clamped at zero
func (d *Driver) AdjustMass(ctx context.Context, id int, delta float64) (float64, error) {
	stored, err := d.reg.AdjustMass(id, delta)
	if err != nil {
		return 0, err
	}
	return stored, d.afterEdit(ctx, id, stored)
}

// SetMassByName is SetMass addressed by body name
func (d *Driver) SetMassByName(ctx context.Context, name string, mass float64) (float64, error) {
	id, err := d.reg.Lookup(name)
	if err != nil {
		return 0, err
	}
	return d.SetMass(ctx, id, mass)
}

// AdjustMassByName is AdjustMass addressed by body name
func (d *Driver) AdjustMassByName(ctx context.Context, name string, delta float64) (float64, error) {
	id, err := d.reg.Lookup(name)
	if err != nil {
		return 0, err
	}
	return d.AdjustMass(ctx, id, delta)
}

func (d *Driver) afterEdit(ctx context.Context, id int, mass float64) error {
	d.logger.Info().
		Int("body", id).
		Str("name", d.reg.Layout().Node(id).Name).
		Float64("mass", mass).
		Str("mode", string(d.mode)).
		Msg("mass updated")

	if d.mode != MassEditImmediate {
		return nil
	}
	_, err := d.Refresh(ctx)
	return err
}

// Subscribe returns a channel that receives published frames and a
// function that ends the subscription. A slow reader only misses
// intermediate frames; the newest one is always delivered.
func (d *Driver) Subscribe() (<-chan *Frame, func()) {
	ch := make(chan *Frame, 1)

	d.subMu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = ch
	d.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subMu.Lock()
			delete(d.subs, id)
			d.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (d *Driver) broadcast(f *Frame) {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	for _, ch := range d.subs {
		select {
		case ch <- f:
			continue
		default:
		}
		// drop the stale frame the reader has not taken yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- f:
		default:
		}
	}
}
