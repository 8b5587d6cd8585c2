package simulation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	"github.com/oxygene76/gravlens/pkg/astronomy/field"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/orbital"
	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
	"github.com/oxygene76/gravlens/pkg/astronomy/scene"
	"github.com/oxygene76/gravlens/pkg/compute"
)

func testContext() Context {
	sctx := DefaultContext()
	sctx.RayCount = 64
	sctx.Params.MaxSteps = 400
	return sctx
}

func newDriver(t *testing.T, sctx Context) *Driver {
	t.Helper()
	reg, err := scene.Load(scene.PresetBlackHoleSystem, nil)
	require.NoError(t, err)
	d, err := NewDriver(reg, sctx, compute.NewPool(4, 2), zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestDriver_StepPublishesFrame(t *testing.T) {
	d := newDriver(t, testContext())
	assert.Nil(t, d.Latest())

	frame, err := d.Step(context.Background(), 1.5)
	require.NoError(t, err)
	assert.Same(t, frame, d.Latest())
	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, 1.5, frame.Time)
	assert.Equal(t, 1.5, d.Time())
	assert.Len(t, frame.Paths, 64)
	assert.Len(t, frame.Bodies, 3)

	next, err := d.Step(context.Background(), 1.5)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.Seq)
	assert.Equal(t, frame.Paths, next.Paths)
}

func TestDriver_FrameMatchesResolveThenTrace(t *testing.T) {
	sctx := testContext()
	d := newDriver(t, sctx)

	const simTime = 3.25
	frame, err := d.Step(context.Background(), simTime)
	require.NoError(t, err)

	layout := d.Registry().Layout()
	positions := orbital.Resolve(layout, simTime)
	radii := make([]float64, layout.Len())
	for i, b := range frame.Bodies {
		assert.Equal(t, positions[i], b.Position)
		radii[i] = b.Radius
	}

	snap := field.NewSnapshot(positions, d.Registry().Masses(), radii)
	in, err := raytrace.NewIntegrator(sctx.Params, sctx.Evaluator(), nil)
	require.NoError(t, err)
	want, err := in.Integrate(context.Background(), sctx.Emitter, d.Rays(), snap)
	require.NoError(t, err)
	assert.Equal(t, want, frame.Paths)
}

func TestDriver_RejectsTimeReversal(t *testing.T) {
	d := newDriver(t, testContext())

	_, err := d.Step(context.Background(), 2)
	require.NoError(t, err)

	_, err = d.Step(context.Background(), 1.99)
	assert.True(t, errorsmod.IsOf(err, types.ErrTimeReversal))

	_, err = d.Tick(context.Background(), -0.1)
	assert.True(t, errorsmod.IsOf(err, types.ErrTimeReversal))
	assert.Equal(t, uint64(1), d.Latest().Seq)
}

func TestDriver_TickAdvancesTime(t *testing.T) {
	sctx := testContext()
	sctx.Time = 10
	d := newDriver(t, sctx)

	for i := 0; i < 3; i++ {
		_, err := d.Tick(context.Background(), 0.5)
		require.NoError(t, err)
	}
	assert.InDelta(t, 11.5, d.Time(), 1e-12)
}

func TestDriver_CancelledContextSkipsPass(t *testing.T) {
	d := newDriver(t, testContext())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Step(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, d.Latest())
}

func TestDriver_MassEditNextTick(t *testing.T) {
	d := newDriver(t, testContext())
	ctx := context.Background()

	before, err := d.Step(ctx, 1)
	require.NoError(t, err)

	stored, err := d.SetMassByName(ctx, "planet", -30)
	require.NoError(t, err)
	assert.Equal(t, 0.0, stored)

	// nothing is republished until the next tick
	assert.Same(t, before, d.Latest())
	assert.Equal(t, 100.0, before.Bodies[2].Mass)

	after, err := d.Tick(ctx, 0.02)
	require.NoError(t, err)
	assert.Equal(t, 0.0, after.Bodies[2].Mass)
}

func TestDriver_MassEditImmediate(t *testing.T) {
	sctx := testContext()
	sctx.MassEditMode = MassEditImmediate
	d := newDriver(t, sctx)
	ctx := context.Background()

	_, err := d.Step(ctx, 4)
	require.NoError(t, err)

	stored, err := d.AdjustMassByName(ctx, "blackhole", 50)
	require.NoError(t, err)
	assert.Equal(t, 850.0, stored)

	latest := d.Latest()
	assert.Equal(t, uint64(2), latest.Seq)
	assert.Equal(t, 4.0, latest.Time)
	assert.Equal(t, 850.0, latest.Bodies[0].Mass)

	_, err = d.SetMassByName(ctx, "comet", 1)
	assert.True(t, errorsmod.IsOf(err, types.ErrUnknownBody))
}

func TestDriver_Resample(t *testing.T) {
	d := newDriver(t, testContext())
	ctx := context.Background()

	first := d.Rays()
	require.NoError(t, d.Resample(10, 12, 99))
	second := d.Rays()
	require.Len(t, second, 10)
	assert.NotEqual(t, first[0].Velocity, second[0].Velocity)
	assert.InDelta(t, 12, second[0].Velocity.Magnitude(), 1e-9)

	frame, err := d.Step(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, frame.Paths, 10)

	assert.True(t, errorsmod.IsOf(d.Resample(-1, 1, 1), types.ErrInvalidParams))
}

func TestDriver_EmptySceneRaysRunToBudgetOrEscape(t *testing.T) {
	sctx := testContext()
	sctx.RaySpeed = 0.01
	d, err := NewDriver(mustRegistry(t, nil), sctx, nil, zerolog.Nop())
	require.NoError(t, err)

	frame, err := d.Step(context.Background(), 0)
	require.NoError(t, err)
	absorbed, escaped, exhausted := frame.Counts()
	assert.Equal(t, 0, absorbed)
	assert.Equal(t, 0, escaped)
	assert.Equal(t, sctx.RayCount, exhausted)
}

func mustRegistry(t *testing.T, specs []bodies.Spec) *bodies.Registry {
	t.Helper()
	reg, err := bodies.New(specs)
	require.NoError(t, err)
	return reg
}

func TestNewDriver_ValidatesContext(t *testing.T) {
	reg := mustRegistry(t, nil)

	sctx := testContext()
	sctx.Params.Stride = 0
	_, err := NewDriver(reg, sctx, nil, zerolog.Nop())
	assert.True(t, errorsmod.IsOf(err, types.ErrInvalidParams))

	sctx = testContext()
	sctx.MassEditMode = "sometimes"
	_, err = NewDriver(reg, sctx, nil, zerolog.Nop())
	assert.True(t, errorsmod.IsOf(err, types.ErrInvalidConfig))

	sctx = testContext()
	sctx.Emitter = astromath.Vector3{X: 1}.Scale(1e308).Scale(10)
	_, err = NewDriver(reg, sctx, nil, zerolog.Nop())
	assert.True(t, errorsmod.IsOf(err, types.ErrInvalidParams))
}

func TestDriver_SubscribeKeepsNewest(t *testing.T) {
	d := newDriver(t, testContext())
	ctx := context.Background()

	frames, cancel := d.Subscribe()
	for i := 0; i < 3; i++ {
		_, err := d.Tick(ctx, 0.1)
		require.NoError(t, err)
	}

	got := <-frames
	assert.Equal(t, uint64(3), got.Seq)

	cancel()
	cancel()
	_, open := <-frames
	assert.False(t, open)

	_, err := d.Tick(ctx, 0.1)
	require.NoError(t, err)
}

func TestDriver_ReadersNeverSeePartialFrames(t *testing.T) {
	d := newDriver(t, testContext())
	ctx := context.Background()
	rays := len(d.Rays())

	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				f := d.Latest()
				if f == nil {
					continue
				}
				assert.Len(t, f.Paths, rays)
				assert.Len(t, f.Bodies, 3)
				for _, p := range f.Paths {
					assert.NotEqual(t, raytrace.Active, p.Termination)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := d.Tick(ctx, 0.02)
		require.NoError(t, err)
		if i%5 == 0 {
			_, err = d.AdjustMass(ctx, 1, 10)
			require.NoError(t, err)
		}
	}
	close(done)
	wg.Wait()
}

func TestDriver_RunWritesFrames(t *testing.T) {
	d := newDriver(t, testContext())

	var all, sparse bytes.Buffer
	allSink := NewJSONLWriter(&all, true)
	sparseSink := EveryNth(NewJSONLWriter(&sparse, false), 2)

	err := d.Run(context.Background(), Clock{Delta: 0.02, Ticks: 5}, allSink, sparseSink)
	require.NoError(t, err)
	require.NoError(t, allSink.Close())
	require.NoError(t, sparseSink.Close())

	records := decodeLines(t, &all)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.Seq)
		assert.InDelta(t, 0.02*float64(i+1), rec.Time, 1e-12)
		assert.Len(t, rec.Rays, 64)
		assert.Equal(t, 64, rec.Absorbed+rec.Escaped+rec.Exhausted)
		assert.Len(t, rec.Bodies, 3)
	}

	thin := decodeLines(t, &sparse)
	require.Len(t, thin, 3)
	assert.Equal(t, []uint64{1, 3, 5}, []uint64{thin[0].Seq, thin[1].Seq, thin[2].Seq})
	assert.Empty(t, thin[0].Rays)
}

func TestDriver_RunStopsOnCancel(t *testing.T) {
	d := newDriver(t, testContext())
	ctx, cancel := context.WithCancel(context.Background())

	frames, unsubscribe := d.Subscribe()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Run(ctx, Clock{Delta: 0.02, Interval: 1e6})
	}()

	<-frames
	cancel()
	assert.NoError(t, <-errCh)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []types.FrameRecord {
	t.Helper()
	var out []types.FrameRecord
	sc := bufio.NewScanner(buf)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<26)
	for sc.Scan() {
		var rec types.FrameRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFrame_Record(t *testing.T) {
	f := &Frame{
		Seq:  4,
		Time: 0.5,
		Bodies: []BodyState{
			{ID: 0, Name: "a", Mass: 2, Radius: 1, Position: astromath.Vector3{X: 1, Y: 2, Z: 3}},
		},
		Paths: []raytrace.Path{
			{Ray: 0, Termination: raytrace.Absorbed, Steps: 7, Points: []astromath.Vector3{{X: 1}}},
			{Ray: 1, Termination: raytrace.Escaped, Steps: 9},
			{Ray: 2, Termination: raytrace.Escaped, Steps: 9},
		},
	}

	rec := f.Record(true)
	assert.Equal(t, [3]float64{1, 2, 3}, rec.Bodies[0].Position)
	assert.Equal(t, 1, rec.Absorbed)
	assert.Equal(t, 2, rec.Escaped)
	assert.Equal(t, 0, rec.Exhausted)
	require.Len(t, rec.Rays, 3)
	assert.Equal(t, "absorbed", rec.Rays[0].Termination)
	assert.Equal(t, [][3]float64{{1, 0, 0}}, rec.Rays[0].Points)

	assert.Nil(t, f.Record(false).Rays)
}
