package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oxygene76/gravlens/internal/types"
	"github.com/oxygene76/gravlens/pkg/astronomy/bodies"
	"github.com/oxygene76/gravlens/pkg/astronomy/field"
	astromath "github.com/oxygene76/gravlens/pkg/astronomy/math"
	"github.com/oxygene76/gravlens/pkg/astronomy/raytrace"
	"github.com/oxygene76/gravlens/pkg/astronomy/scene"
	"github.com/oxygene76/gravlens/pkg/compute"
	"github.com/oxygene76/gravlens/pkg/simulation"
)

// EnvPrefix prefixes environment overrides, e.g. GRAVLENS_SIMULATION_MAX_STEPS
const EnvPrefix = "GRAVLENS"

// Config represents the gravlens configuration
type Config struct {
	Simulation SimulationConfig `yaml:"simulation" mapstructure:"simulation"`
	Compute    ComputeConfig    `yaml:"compute" mapstructure:"compute"`
	Scene      SceneConfig      `yaml:"scene" mapstructure:"scene"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// SimulationConfig contains the integrator and driver tunables
type SimulationConfig struct {
	GravityScale       float64    `yaml:"gravity_scale" mapstructure:"gravity_scale"`
	BaseDt             float64    `yaml:"base_dt" mapstructure:"base_dt"`
	AdaptiveThreshold1 float64    `yaml:"adaptive_threshold1" mapstructure:"adaptive_threshold1"`
	AdaptiveFactor1    float64    `yaml:"adaptive_factor1" mapstructure:"adaptive_factor1"`
	AdaptiveThreshold2 float64    `yaml:"adaptive_threshold2" mapstructure:"adaptive_threshold2"`
	AdaptiveFactor2    float64    `yaml:"adaptive_factor2" mapstructure:"adaptive_factor2"`
	BoundingHalfExtent float64    `yaml:"bounding_half_extent" mapstructure:"bounding_half_extent"`
	MaxSteps           int        `yaml:"max_steps" mapstructure:"max_steps"`
	PathStride         int        `yaml:"path_stride" mapstructure:"path_stride"`
	RayPopulationSize  int        `yaml:"ray_population_size" mapstructure:"ray_population_size"`
	BaseRaySpeed       float64    `yaml:"base_ray_speed" mapstructure:"base_ray_speed"`
	RNGSeed            uint64     `yaml:"rng_seed" mapstructure:"rng_seed"`
	DistanceEpsilon    float64    `yaml:"distance_epsilon" mapstructure:"distance_epsilon"`
	IncludeOrigin      bool       `yaml:"include_origin" mapstructure:"include_origin"`
	Emitter            [3]float64 `yaml:"emitter" mapstructure:"emitter"`
	Anchor             [3]float64 `yaml:"anchor" mapstructure:"anchor"`
	StartTime          float64    `yaml:"start_time" mapstructure:"start_time"`
	TickDelta          float64    `yaml:"tick_delta" mapstructure:"tick_delta"`
	MassEditMode       string     `yaml:"mass_edit_mode" mapstructure:"mass_edit_mode"`
	MassStep           float64    `yaml:"mass_step" mapstructure:"mass_step"`
}

// ComputeConfig sizes the worker pool
type ComputeConfig struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// SceneConfig selects the body tree
type SceneConfig struct {
	Preset string          `yaml:"preset" mapstructure:"preset"`
	Bodies []scene.BodyDef `yaml:"bodies" mapstructure:"bodies"`
}

// ServerConfig contains the stream server settings
type ServerConfig struct {
	Listen        string        `yaml:"listen" mapstructure:"listen"`
	FrameInterval time.Duration `yaml:"frame_interval" mapstructure:"frame_interval"`
	IncludeRays   bool          `yaml:"include_rays" mapstructure:"include_rays"`
	HistorySize   int           `yaml:"history_size" mapstructure:"history_size"`
}

// OutputConfig controls the JSONL frame export
type OutputConfig struct {
	SnapshotFile  string `yaml:"snapshot_file" mapstructure:"snapshot_file"`
	SnapshotEvery int    `yaml:"snapshot_every" mapstructure:"snapshot_every"`
	IncludeRays   bool   `yaml:"include_rays" mapstructure:"include_rays"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	params := raytrace.DefaultParams()
	sctx := simulation.DefaultContext()

	return &Config{
		Simulation: SimulationConfig{
			GravityScale:       sctx.GravityScale,
			BaseDt:             params.BaseDt,
			AdaptiveThreshold1: params.Threshold1,
			AdaptiveFactor1:    params.Factor1,
			AdaptiveThreshold2: params.Threshold2,
			AdaptiveFactor2:    params.Factor2,
			BoundingHalfExtent: params.HalfExtent,
			MaxSteps:           params.MaxSteps,
			PathStride:         params.Stride,
			RayPopulationSize:  sctx.RayCount,
			BaseRaySpeed:       sctx.RaySpeed,
			RNGSeed:            sctx.Seed,
			DistanceEpsilon:    field.DefaultEpsilon,
			IncludeOrigin:      true,
			TickDelta:          simulation.DefaultClock().Delta,
			MassEditMode:       string(simulation.MassEditNextTick),
			MassStep:           50,
		},
		Compute: ComputeConfig{
			Workers:   0,
			ChunkSize: compute.DefaultChunkSize,
		},
		Scene: SceneConfig{
			Preset: string(scene.DefaultPreset),
			Bodies: []scene.BodyDef{},
		},
		Server: ServerConfig{
			Listen:        ":8088",
			FrameInterval: simulation.DefaultClock().Interval,
			IncludeRays:   true,
			HistorySize:   120,
		},
		Output: OutputConfig{
			SnapshotEvery: 1,
			IncludeRays:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from path, or from the search paths when
// path is empty. Values missing from the file keep their defaults and any
// key can be overridden from the environment. Without a config file the
// defaults are returned.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	defaults, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("error reading defaults: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".gravlens"))
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// SaveConfig writes the configuration as YAML. An empty path writes to the
// default location.
func SaveConfig(config *Config, path string) (string, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return "", err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// GetConfigPath returns the path to the default config file
func GetConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".gravlens", "config.yaml"), nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	sctx, err := config.SimulationContext()
	if err != nil {
		return err
	}
	if err := sctx.Validate(); err != nil {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "simulation: %v", err)
	}

	s := config.Simulation
	if !(s.TickDelta >= 0) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "simulation.tick_delta must not be negative, got %v", s.TickDelta)
	}
	if !(s.MassStep >= 0) {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "simulation.mass_step must not be negative, got %v", s.MassStep)
	}

	if config.Compute.Workers < 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "compute.workers must not be negative, got %d", config.Compute.Workers)
	}
	if config.Compute.ChunkSize < 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "compute.chunk_size must not be negative, got %d", config.Compute.ChunkSize)
	}

	if len(config.Scene.Bodies) == 0 {
		if _, err := scene.Definitions(scene.Preset(config.Scene.Preset)); err != nil {
			return errorsmod.Wrapf(types.ErrInvalidConfig, "scene.preset: %v", err)
		}
	}

	if config.Server.Listen == "" {
		return errorsmod.Wrap(types.ErrInvalidConfig, "server.listen cannot be empty")
	}
	if config.Server.FrameInterval < 0 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "server.frame_interval must not be negative, got %v", config.Server.FrameInterval)
	}
	if config.Output.SnapshotEvery < 1 {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "output.snapshot_every must be >= 1, got %d", config.Output.SnapshotEvery)
	}

	if _, err := zerolog.ParseLevel(config.Log.Level); err != nil {
		return errorsmod.Wrapf(types.ErrInvalidConfig, "log.level %q", config.Log.Level)
	}
	switch config.Log.Format {
	case "console", "json":
	default:
		return errorsmod.Wrapf(types.ErrInvalidConfig, "log.format must be console or json, got %q", config.Log.Format)
	}

	return nil
}

// SimulationContext converts the simulation section into a driver context
func (c *Config) SimulationContext() (simulation.Context, error) {
	s := c.Simulation
	mode, err := simulation.ParseMassEditMode(s.MassEditMode)
	if err != nil {
		return simulation.Context{}, err
	}

	return simulation.Context{
		Time: s.StartTime,
		Params: raytrace.Params{
			BaseDt:        s.BaseDt,
			Threshold1:    s.AdaptiveThreshold1,
			Factor1:       s.AdaptiveFactor1,
			Threshold2:    s.AdaptiveThreshold2,
			Factor2:       s.AdaptiveFactor2,
			HalfExtent:    s.BoundingHalfExtent,
			MaxSteps:      s.MaxSteps,
			Stride:        s.PathStride,
			IncludeOrigin: s.IncludeOrigin,
		},
		GravityScale: s.GravityScale,
		Epsilon:      s.DistanceEpsilon,
		RayCount:     s.RayPopulationSize,
		RaySpeed:     s.BaseRaySpeed,
		Seed:         s.RNGSeed,
		Emitter:      vector(s.Emitter),
		Anchor:       vector(s.Anchor),
		MassEditMode: mode,
	}, nil
}

// ComputePool creates the worker pool described by the compute section
func (c *Config) ComputePool() *compute.Pool {
	return compute.NewPool(c.Compute.Workers, c.Compute.ChunkSize)
}

// LoadScene builds the configured body registry
func (c *Config) LoadScene() (*bodies.Registry, error) {
	return scene.Load(scene.Preset(c.Scene.Preset), c.Scene.Bodies)
}

// Clock returns the clock for interactive serving
func (c *Config) Clock() simulation.Clock {
	return simulation.Clock{Delta: c.Simulation.TickDelta, Interval: c.Server.FrameInterval}
}

func vector(a [3]float64) astromath.Vector3 {
	return astromath.Vector3{X: a[0], Y: a[1], Z: a[2]}
}
