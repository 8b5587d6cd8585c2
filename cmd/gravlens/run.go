package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oxygene76/gravlens/pkg/analysis"
	"github.com/oxygene76/gravlens/pkg/simulation"
	"github.com/oxygene76/gravlens/pkg/stream"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a fixed number of ticks and export the frames",
	Long: `Run the simulation for --ticks ticks as fast as possible. Frames are
written as JSON lines to --output (or output.snapshot_file) and a summary
of the run is printed at the end.

Examples:
  gravlens run --ticks 500 --output frames.jsonl
  gravlens run --ticks 50 --every 10 --rays=false`,
	RunE: runSimulation,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation in real time and stream frames",
	Long: `Advance the simulation every server.frame_interval and serve the frames:

   GET  /api/v1/frame              - latest frame (?rays=false for bodies only)
   GET  /api/v1/bodies             - bodies with current mass and position
   POST /api/v1/bodies/{name}/mass - {"mass": m} or {"delta": d}
   GET  /api/v1/stats              - ray statistics of recent frames
   GET  /api/v1/health             - liveness
   GET  /ws                        - websocket push of every frame`,
	RunE: serveSimulation,
}

func newDriver() (*simulation.Driver, error) {
	reg, err := config.LoadScene()
	if err != nil {
		return nil, fmt.Errorf("failed to load scene: %w", err)
	}
	sctx, err := config.SimulationContext()
	if err != nil {
		return nil, err
	}

	pool := config.ComputePool()
	d, err := simulation.NewDriver(reg, sctx, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create driver: %w", err)
	}

	logger.Info().
		Int("bodies", reg.Len()).
		Int("rays", sctx.RayCount).
		Int("workers", pool.Workers()).
		Str("mass_edit_mode", string(sctx.MassEditMode)).
		Msg("simulation ready")
	return d, nil
}

func openSink() (simulation.FrameSink, error) {
	path := config.Output.SnapshotFile
	if path == "" {
		return nil, nil
	}
	w, err := simulation.NewJSONLFrameWriter(path, config.Output.IncludeRays)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	logger.Info().Str("file", path).Int("every", config.Output.SnapshotEvery).Msg("writing frames")
	return simulation.EveryNth(w, config.Output.SnapshotEvery), nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ticks, _ := cmd.Flags().GetInt("ticks")
	if cmd.Flags().Changed("output") {
		config.Output.SnapshotFile, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("every") {
		config.Output.SnapshotEvery, _ = cmd.Flags().GetInt("every")
	}
	if cmd.Flags().Changed("rays") {
		config.Output.IncludeRays, _ = cmd.Flags().GetBool("rays")
	}
	if ticks <= 0 {
		return fmt.Errorf("--ticks must be positive")
	}

	d, err := newDriver()
	if err != nil {
		return err
	}

	history := analysis.NewHistory(ticks)
	sinks := []simulation.FrameSink{history}
	sink, err := openSink()
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	clock := simulation.Clock{Delta: config.Simulation.TickDelta, Ticks: ticks}
	if err := d.Run(ctx, clock, sinks...); err != nil {
		return err
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			return fmt.Errorf("failed to close output: %w", err)
		}
	}

	last := analysis.Summarize(d.Latest())
	trend := history.Trend()

	fmt.Printf("\nRun complete\n")
	fmt.Printf("  Frames:            %d in %v\n", trend.Frames, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  Final time:        %.3f\n", d.Time())
	fmt.Printf("  Rays:              %d\n", last.Rays)
	fmt.Printf("  Last frame:        %d absorbed, %d escaped, %d exhausted\n", last.Absorbed, last.Escaped, last.Exhausted)
	fmt.Printf("  Absorbed fraction: %.3f ± %.3f\n", trend.MeanAbsorbedFraction, trend.StdAbsorbedFraction)
	fmt.Printf("  Mean deflection:   %.4f rad\n", trend.MeanDeflection)
	fmt.Printf("  Compute per frame: %.2f ms (max %.2f ms)\n", trend.MeanComputeMS, trend.MaxComputeMS)
	return nil
}

func serveSimulation(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("listen") {
		config.Server.Listen, _ = cmd.Flags().GetString("listen")
	}

	d, err := newDriver()
	if err != nil {
		return err
	}

	history := analysis.NewHistory(config.Server.HistorySize)
	sinks := []simulation.FrameSink{history}
	sink, err := openSink()
	if err != nil {
		return err
	}
	if sink != nil {
		defer sink.Close()
		sinks = append(sinks, sink)
	}

	// publish a frame before the first client can connect
	if _, err := d.Refresh(context.Background()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := stream.NewServer(d, history, logger, stream.Options{IncludeRays: config.Server.IncludeRays})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.Run(gctx, config.Clock(), sinks...)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx, config.Server.Listen)
	})

	fmt.Printf("Streaming frames at http://localhost%s/api/v1/ (websocket: /ws)\n", config.Server.Listen)
	return g.Wait()
}

func init() {
	runCmd.Flags().Int("ticks", 100, "number of ticks to simulate")
	runCmd.Flags().StringP("output", "o", "", "JSONL file for frames (overrides output.snapshot_file)")
	runCmd.Flags().Int("every", 1, "write every n-th frame")
	runCmd.Flags().Bool("rays", true, "include ray paths in exported frames")

	serveCmd.Flags().String("listen", ":8088", "listen address (overrides server.listen)")
}
