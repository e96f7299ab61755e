package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ABeGood/reservation-pl/internal/poller"
	"github.com/ABeGood/reservation-pl/internal/source"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one polling cycle and print the free slots",
		Long: `Run a single polling cycle against the configured room and print every
free slot. Nothing is reserved, whatever auto_claim says.

Example:
  reservation check -c reservation.yaml`,
		RunE: runCheck,
	}
	addConfigFlag(cmd)
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	params, err := cfg.PollerConfig()
	if err != nil {
		return err
	}
	params.AutoClaim = false

	client := source.NewClient()
	if cfg.Source.UserAgent != "" {
		client = client.WithUserAgent(cfg.Source.UserAgent)
	}
	siteOpts := []source.SiteOption{source.WithClient(client), source.WithLogger(logger)}
	if cfg.Source.RequestTimeout > 0 {
		siteOpts = append(siteOpts, source.WithRequestTimeout(cfg.Source.RequestTimeout.Duration()))
	}
	site, err := source.NewSite(cfg.Source.BaseURL, params.Room, siteOpts...)
	if err != nil {
		return err
	}
	defer site.Close()

	p, err := poller.New(params, poller.Deps{
		Window: site.Windows(),
		Slots:  site.Slots(),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	report := p.RunCycle(cmd.Context())
	if report.Skipped {
		if report.Err == nil {
			report.Err = errors.New("no booking window available")
		}
		return fmt.Errorf("cycle skipped: %w", report.Err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Room %s: checked %d of %d dates, %d failed, %d free slots\n",
		params.Room, report.Dispatched, report.Candidates, report.Failed, len(report.Slots))
	if len(report.Slots) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tROOM")
	for _, s := range report.Slots {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.DateString(), s.Time, s.Room)
	}
	return w.Flush()
}
