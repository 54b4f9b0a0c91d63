// raid6ctl manages an erasure-coded RAID-6 style object store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tunnelmesh/raid6/internal/config"
	"github.com/tunnelmesh/raid6/internal/logging/audit"
	"github.com/tunnelmesh/raid6/internal/metrics"
	"github.com/tunnelmesh/raid6/internal/raid6"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cli holds the persistent flags shared by every command.
type cli struct {
	registry *prometheus.Registry

	cfgFile   string
	logLevel  string
	storePath string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(metrics.Registry).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(registry *prometheus.Registry) *cobra.Command {
	c := &cli{registry: registry}

	rootCmd := &cobra.Command{
		Use:   "raid6ctl",
		Short: "raid6ctl - erasure-coded object store",
		Long: `raid6ctl stores objects as stripes of k data blocks and m parity blocks
spread over k+m simulated nodes, and rebuilds blocks lost to node or disk
failures.

QUICK START:

  raid6ctl init --path ./store -k 4 -m 2 --block-size 4096
  raid6ctl put --path ./store report.pdf ./report.pdf
  raid6ctl fail-node --path ./store 1
  raid6ctl repair --path ./store
  raid6ctl get --path ./store report.pdf -o ./copy.pdf

For more help on any command, use: raid6ctl <command> --help`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&c.logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&c.storePath, "path", "p", "", "store directory (overrides config)")

	rootCmd.AddCommand(
		c.newInitCmd(),
		c.newPutCmd(),
		c.newGetCmd(),
		c.newLsCmd(),
		c.newStatCmd(),
		c.newFailNodeCmd(),
		c.newFailDiskCmd(),
		c.newDetectCmd(),
		c.newRepairCmd(),
		c.newScrubCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "raid6ctl %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
		},
	}
}

func (c *cli) setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl := c.logLevel
	if lvl == "" {
		if cfg, err := c.loadConfig(); err == nil {
			lvl = cfg.LogLevel
		}
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil || lvl == "" {
		level = zerolog.InfoLevel
	}
	// The level goes on the console logger only; a global level would
	// also silence the audit trail.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level)
}

// loadConfig reads --config, or the defaults when none is given, and
// applies command-line overrides.
func (c *cli) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if c.cfgFile != "" {
		cfg, err = config.Load(c.cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if c.storePath != "" {
		cfg.Store.Path = c.storePath
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore reopens the configured store with its persisted geometry.
// The returned store closes the audit log along with itself.
func (c *cli) openStore(ctx context.Context) (*cliStore, *config.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := cfg.OpenOptions()
	opts.MustExist = true
	store, err := c.open(ctx, cfg, opts)
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

// cliStore is a store plus the audit log file opened for it.
type cliStore struct {
	*raid6.Store
	auditFile io.Closer
}

func (s *cliStore) Close() error {
	err := s.Store.Close()
	if s.auditFile != nil {
		if cerr := s.auditFile.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (c *cli) open(ctx context.Context, cfg *config.Config, opts raid6.Options) (*cliStore, error) {
	opts.Registerer = c.registry

	var auditFile io.Closer
	if cfg.AuditLog != "" {
		logger, f, err := audit.OpenFile(cfg.AuditLog)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		opts.Audit = logger
		auditFile = f
	}

	store, err := raid6.Open(ctx, opts)
	if err != nil {
		if auditFile != nil {
			_ = auditFile.Close()
		}
		return nil, fmt.Errorf("open store %s: %w", cfg.Store.Path, err)
	}
	return &cliStore{Store: store, auditFile: auditFile}, nil
}
