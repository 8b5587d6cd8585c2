package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/oxygene76/gravlens/pkg/utils"
)

const (
	appName = "gravlens"
	version = "v0.3.0"
)

var (
	cfgFile string
	verbose bool

	config *utils.Config
	logger zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Gravitational lensing ray tracer",
	Long: `gravlens traces a population of light rays through the Newtonian field of
a hierarchy of orbiting bodies. Every tick the body positions are resolved,
the rays are integrated with an adaptive step and the resulting frame is
published to the JSONL export, the websocket stream and the statistics.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "help" {
			return nil
		}
		return initConfig()
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to --config, or to
$HOME/.gravlens/config.yaml when no path is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		path := cfgFile
		if path == "" {
			p, err := utils.GetConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}

		written, err := utils.SaveConfig(utils.DefaultConfig(), path)
		if err != nil {
			return err
		}
		fmt.Printf("Configuration saved to: %s\n", written)
		return nil
	},
}

func initConfig() error {
	cfg, err := utils.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config = cfg

	l, err := utils.NewLogger(cfg.Log, os.Stderr, verbose)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	logger = l
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.gravlens/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sceneCmd)
	rootCmd.AddCommand(sampleCmd)
	rootCmd.AddCommand(massCmd)

	sceneCmd.AddCommand(sceneListCmd)
	sceneCmd.AddCommand(sceneShowCmd)

	initCmd.Flags().Bool("force", false, "overwrite an existing config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
