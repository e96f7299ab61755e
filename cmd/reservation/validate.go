package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		Long: `Validate a configuration file without starting the service.

This command parses the YAML, expands environment variables, and validates
all fields. Nothing is connected to: databases, Redis and the booking site
are left alone.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  reservation validate -c reservation.yaml`,
		RunE: runValidate,
	}
	addConfigFlag(cmd)
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := cfg.PollerConfig()
	if err != nil {
		return err
	}

	var sinks []string
	if cfg.Notify.Telegram != nil {
		sinks = append(sinks, fmt.Sprintf("telegram (%d chats)", len(cfg.Notify.Telegram.Chats())))
	}
	if cfg.Notify.Redis != nil {
		sinks = append(sinks, "redis")
	}
	if len(sinks) == 0 {
		sinks = append(sinks, "log only")
	}

	api := fmt.Sprintf("port %d", cfg.Port)
	if cfg.DisableAPI {
		api = "disabled"
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Site:       %s\n", cfg.Source.BaseURL)
	fmt.Fprintf(out, "  Room:       %s\n", params.Room)
	fmt.Fprintf(out, "  Interval:   %s-%s\n", params.IntervalMin, params.IntervalMax)
	fmt.Fprintf(out, "  Workers:    %d\n", params.MaxWorkers)
	fmt.Fprintf(out, "  Auto claim: %t\n", params.AutoClaim)
	fmt.Fprintf(out, "  Captcha:    %s\n", cfg.Captcha.Provider)
	fmt.Fprintf(out, "  Storage:    %s\n", cfg.Storage.Driver)
	fmt.Fprintf(out, "  Notify:     %v\n", sinks)
	fmt.Fprintf(out, "  API:        %s\n", api)
	return nil
}
