package main

import (
	"os"

	"github.com/spf13/cobra"

	"keyward/internal/config"
	"keyward/internal/logging"
	"keyward/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "keyadmin",
	Short:        "Operator tools for the keyward license server",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to server config file")
}

// loadConfig reads the server config and routes logs to stderr so command
// output stays pipeable.
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return cfg, err
	}
	logging.Setup(cfg.Logging, os.Stderr)
	return cfg, nil
}
