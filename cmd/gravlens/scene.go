package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/stat"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/orbital"
	"github.com/oxygene76/gravlens/pkg/astronomy/sampler"
	"github.com/oxygene76/gravlens/pkg/astronomy/scene"
)

var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "Inspect scene presets and the configured body tree",
}

var sceneListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the scene presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Available presets:")
		for _, p := range scene.Presets() {
			defs, err := scene.Definitions(p)
			if err != nil {
				return err
			}
			marker := " "
			if string(p) == config.Scene.Preset && len(config.Scene.Bodies) == 0 {
				marker = "*"
			}
			fmt.Printf(" %s %-18s %d bodies\n", marker, p, len(defs))
		}
		return nil
	},
}

var sceneShowCmd = &cobra.Command{
	Use:   "show [preset]",
	Short: "Print the body tree with world positions at --time",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		simTime, _ := cmd.Flags().GetFloat64("time")

		var (
			reg *bodies.Registry
			err error
		)
		if len(args) == 1 {
			reg, err = scene.Load(scene.Preset(args[0]), nil)
		} else {
			reg, err = config.LoadScene()
		}
		if err != nil {
			return err
		}

		sctx, err := config.SimulationContext()
		if err != nil {
			return err
		}
		layout := reg.Layout()
		positions := orbital.Resolver{Anchor: sctx.Anchor}.Resolve(layout, simTime)
		masses := reg.Masses()

		fmt.Printf("Body tree at t=%.3f\n", simTime)
		layout.Walk(func(n bodies.Node) {
			indent := strings.Repeat("  ", layout.Depth(n.ID))
			p := positions[n.ID]
			fmt.Printf("  %s%-14s mass=%-7.1f r=%-4.1f pos=(%8.3f, %8.3f, %8.3f) dist=%.3f\n",
				indent, n.Name, masses[n.ID], n.Radius, p.X, p.Y, p.Z, p.Distance(sctx.Emitter))
		})
		return nil
	},
}

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Draw initial ray velocities and report their distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		speed, _ := cmd.Flags().GetFloat64("speed")
		seed, _ := cmd.Flags().GetUint64("seed")
		show, _ := cmd.Flags().GetInt("show")

		if !cmd.Flags().Changed("count") {
			count = config.Simulation.RayPopulationSize
		}
		if !cmd.Flags().Changed("speed") {
			speed = config.Simulation.BaseRaySpeed
		}
		if !cmd.Flags().Changed("seed") {
			seed = config.Simulation.RNGSeed
		}

		vs := sampler.Sample(count, speed, seed)
		if len(vs) == 0 {
			fmt.Println("No rays")
			return nil
		}

		var sum astromath.Vector3
		cosTheta := make([]float64, len(vs))
		for i, v := range vs {
			sum = sum.Add(v)
			cosTheta[i] = v.Z / v.Magnitude()
		}
		mean := sum.Scale(1 / float64(len(vs)))

		fmt.Printf("Sampled %d velocities at speed %.3f (seed %d)\n", len(vs), speed, seed)
		fmt.Printf("  Mean vector:       (%.4f, %.4f, %.4f)\n", mean.X, mean.Y, mean.Z)
		fmt.Printf("  cos(theta) mean:   %.4f (uniform sphere: 0)\n", stat.Mean(cosTheta, nil))
		fmt.Printf("  cos(theta) var:    %.4f (uniform sphere: 0.3333)\n", stat.Variance(cosTheta, nil))
		for i := 0; i < show && i < len(vs); i++ {
			fmt.Printf("  [%3d] (%9.4f, %9.4f, %9.4f)\n", i, vs[i].X, vs[i].Y, vs[i].Z)
		}
		return nil
	},
}

var massCmd = &cobra.Command{
	Use:   "mass <body>",
	Short: "Change a body's mass on a running server",
	Long: `Send a mass edit to a running "gravlens serve". With --up or --down the
mass changes by simulation.mass_step; --set replaces it. Masses never drop
below zero.

Examples:
  gravlens mass planet --up
  gravlens mass blackhole --set 1200
  gravlens mass neutron_star --delta -125`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		up, _ := cmd.Flags().GetBool("up")
		down, _ := cmd.Flags().GetBool("down")
		delta, _ := cmd.Flags().GetFloat64("delta")

		var req types.MassUpdate
		switch {
		case cmd.Flags().Changed("set"):
			m, _ := cmd.Flags().GetFloat64("set")
			req.Mass = &m
		case up:
			req.Delta = config.Simulation.MassStep
		case down:
			req.Delta = -config.Simulation.MassStep
		case cmd.Flags().Changed("delta"):
			req.Delta = delta
		default:
			return fmt.Errorf("one of --set, --delta, --up or --down is required")
		}

		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		url := fmt.Sprintf("%s/api/v1/bodies/%s/mass", strings.TrimRight(server, "/"), args[0])

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("mass edit failed: %w", err)
		}
		defer resp.Body.Close()

		var out map[string]interface{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %d: %v", resp.StatusCode, out["error"])
		}

		fmt.Printf("%s mass is now %v (%v)\n", args[0], out["mass"], out["mode"])
		return nil
	},
}

func init() {
	sceneShowCmd.Flags().Float64("time", 0, "simulation time")

	sampleCmd.Flags().Int("count", 300, "number of velocities (default simulation.ray_population_size)")
	sampleCmd.Flags().Float64("speed", 30, "speed of every velocity (default simulation.base_ray_speed)")
	sampleCmd.Flags().Uint64("seed", 1, "random seed (default simulation.rng_seed)")
	sampleCmd.Flags().Int("show", 5, "print the first n vectors")

	massCmd.Flags().String("server", "http://localhost:8088", "address of the running server")
	massCmd.Flags().Float64("set", 0, "new mass")
	massCmd.Flags().Float64("delta", 0, "mass change")
	massCmd.Flags().Bool("up", false, "increase by simulation.mass_step")
	massCmd.Flags().Bool("down", false, "decrease by simulation.mass_step")
}
