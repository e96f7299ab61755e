// Package main is the entry point for the reservation CLI.
//
// Usage:
//
//	reservation serve -c config.yaml        # Run the monitor and control API
//	reservation validate -c config.yaml     # Validate configuration
//	reservation check -c config.yaml        # Run one cycle and print free slots
//	reservation participants list -c ...    # Show stored participants
//	reservation version                     # Show version info
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ABeGood/reservation-pl/config"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultEnvFile = ".env"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "reservation",
		Short: "Watch a booking calendar and reserve free slots",
		Long: `reservation watches the appointment calendar of a voivodeship office
booking site and reserves free slots for waiting participants.

Quick start:
  1. Create a config file (reservation.yaml)
  2. Add participants: reservation participants add -c reservation.yaml ...
  3. Run: reservation serve -c reservation.yaml

Example config:
  source:
    base_url: https://olsztyn.uw.gov.pl/wizytakartapolaka/
    room: A1
  captcha:
    provider: truecaptcha
    user_id: ${TRUECAPTCHA_USER}
    api_key: ${TRUECAPTCHA_KEY}
  storage:
    driver: sqlite
    path: participants.db`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(cmd)
		},
	}
	root.PersistentFlags().String("env-file", defaultEnvFile, "file of environment variables loaded before the config")

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newCheckCmd(),
		newParticipantsCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reservation %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

// loadEnvFile loads the --env-file. Variables already set in the
// environment win. A missing default file is not an error.
func loadEnvFile(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("env-file") {
		return nil
	}
	return fmt.Errorf("load env file: %w", err)
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = cmd.MarkFlagRequired("config")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newLogger creates a JSON logger for CLI use.
func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
