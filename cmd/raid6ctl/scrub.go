package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/raid6/internal/admin"
	"github.com/tunnelmesh/raid6/internal/raid6"
)

func (c *cli) newScrubCmd() *cobra.Command {
	var (
		interval time.Duration
		once     bool
		noServe  bool
	)

	cmd := &cobra.Command{
		Use:   "scrub",
		Short: "Detect and repair missing blocks on an interval",
		Long: `Scrub runs a detect and repair pass, then repeats it every interval until
interrupted. Metrics and a health check are served on metrics_addr while it
runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, cfg, err := c.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if !cmd.Flags().Changed("interval") {
				if interval, err = cfg.ScrubInterval(); err != nil {
					return err
				}
			}

			var srv *admin.Server
			if !noServe {
				srv = admin.NewServer(c.registry)
				addr, err := srv.Start(cfg.MetricsAddr)
				if err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer func() { _ = srv.Stop() }()
				log.Info().Str("addr", addr).Msg("serving metrics")
			}

			s := &scrubber{store: store.Store, server: srv}
			if once {
				return s.pass(ctx)
			}
			return s.run(ctx, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between passes (overrides config)")
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	cmd.Flags().BoolVar(&noServe, "no-metrics", false, "do not serve metrics")
	return cmd
}

// scrubber runs detect and repair passes from a single goroutine.
type scrubber struct {
	store  *raid6.Store
	server *admin.Server
}

func (s *scrubber) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Unrecoverable stripes stay unrecoverable; keep scrubbing the rest.
			if !errors.Is(err, raid6.ErrUnrecoverable) {
				return err
			}
		}

		select {
		case <-ctx.Done():
			log.Info().Msg("scrub stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// pass detects missing blocks and repairs them when there are any.
func (s *scrubber) pass(ctx context.Context) error {
	missing, err := s.store.DetectFailure(ctx)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		s.setHealthy(true)
		log.Debug().Int64("stripes", s.store.Cursor()).Msg("scrub pass clean")
		return nil
	}

	report, err := s.store.Scrub(ctx)
	s.setHealthy(len(report.Unrecoverable) == 0 && err == nil)
	log.Info().
		Int("missing", len(missing)).
		Int("rebuilt", report.BlocksRebuilt).
		Int("unrecoverable", len(report.Unrecoverable)).
		Msg("scrub pass finished")
	return err
}

func (s *scrubber) setHealthy(ok bool) {
	if s.server != nil {
		s.server.SetHealthy(ok)
	}
}
