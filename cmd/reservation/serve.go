package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	reservation "github.com/ABeGood/reservation-pl"
	"github.com/ABeGood/reservation-pl/config"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor and the control API",
		Long: `Run the monitor and the control API.

The service will:
  - Load configuration from the specified YAML file
  - Poll every bookable date of the configured room
  - Reserve found slots for pending participants (auto_claim)
  - Serve the control API, metrics and event stream on the configured port

The service runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  reservation serve -c reservation.yaml
  reservation serve -c /etc/reservation/config.yaml --env-file /etc/reservation/env`,
		RunE: runServe,
	}
	addConfigFlag(cmd)
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, cleanup, err := config.BuildOptions(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer cleanup()

	svc, err := reservation.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	logger.Info("starting service",
		"room", cfg.Source.Room,
		"port", cfg.Port,
		"api", !cfg.DisableAPI,
		"storage", cfg.Storage.Driver,
		"captcha", cfg.Captcha.Provider,
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("service error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("service error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
