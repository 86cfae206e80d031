package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"keyward/internal/agent"
	"keyward/internal/config"
	"keyward/internal/logging"
	"keyward/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "licensectl",
	Short:        "Activate and inspect the keyward license on this machine",
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAgent() (*agent.Agent, error) {
	cfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.Logging, os.Stderr)
	return agent.New(cfg)
}

var activateCmd = &cobra.Command{
	Use:   "activate KEY",
	Short: "Activate a license key with the server, falling back to the local cache when offline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		res, err := a.Activate(ctx, args[0])
		if err != nil {
			var rejected *agent.RejectedError
			if errors.As(err, &rejected) {
				return errors.New(rejected.Message)
			}
			return err
		}

		mode := "online"
		if res.Offline {
			mode = "offline"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s license activated (%s): %s\n", res.LicenseType, mode, res.Message)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the restored license and unlocked features",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		if _, err := a.AutoLoad(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
		out, err := yaml.Marshal(a.Info())
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the current license session (previously verified keys are kept)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		if err := a.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "License session cleared")
		return nil
	},
}

var deviceIDCmd = &cobra.Command{
	Use:   "device-id",
	Short: "Print the device identifier sent with activations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newAgent()
		if err != nil {
			return err
		}
		info := a.Info()
		fmt.Fprintln(cmd.OutOrStdout(), info.DeviceID)
		if info.Degraded {
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: no stable host identifier found, device binding is best-effort")
		}
		return nil
	},
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "agent.yaml", "Path to agent config file")
	rootCmd.AddCommand(activateCmd, statusCmd, resetCmd, deviceIDCmd)
}
