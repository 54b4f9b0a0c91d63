package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tunnelmesh/raid6/internal/index"
	"github.com/tunnelmesh/raid6/internal/raid6"
	"github.com/tunnelmesh/raid6/pkg/bytesize"
)

func (c *cli) newInitCmd() *cobra.Command {
	var (
		k, m              int
		blockSize         bytesize.Size
		rotation, backend string
		compression       bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a store",
		Long: `Create a store with the given geometry. Running init against an existing
store succeeds only when the geometry matches the one it was created with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("data") {
				cfg.Store.K = k
			}
			if flags.Changed("parity") {
				cfg.Store.M = m
			}
			if flags.Changed("block-size") {
				cfg.Store.BlockSize = blockSize
			}
			if flags.Changed("rotation") {
				cfg.Store.Rotation = rotation
			}
			if flags.Changed("backend") {
				cfg.Store.Backend = backend
			}
			if flags.Changed("compression") {
				cfg.Store.Compression = compression
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			store, err := c.open(cmd.Context(), cfg, cfg.CreateOptions())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			man := store.Manifest()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Store %s\n", man.ID)
			_, _ = fmt.Fprintf(out, "  Path:        %s\n", cfg.Store.Path)
			_, _ = fmt.Fprintf(out, "  Geometry:    k=%d m=%d block_size=%d\n", man.K, man.M, man.BlockSize)
			_, _ = fmt.Fprintf(out, "  Stripe data: %s\n", bytesize.Format(man.StripeBytes()))
			_, _ = fmt.Fprintf(out, "  Rotation:    %s\n", man.Rotation)
			_, _ = fmt.Fprintf(out, "  Backend:     %s\n", man.Backend)
			_, _ = fmt.Fprintf(out, "  Compression: %t\n", man.Compression)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "data", "k", 0, "data blocks per stripe")
	cmd.Flags().IntVarP(&m, "parity", "m", 0, "parity blocks per stripe")
	cmd.Flags().Var(&blockSize, "block-size", "bytes per block, e.g. 4096 or 4KB")
	cmd.Flags().StringVar(&rotation, "rotation", "", "placement rotation: shift or stride")
	cmd.Flags().StringVar(&backend, "backend", "", "block backend: fs or badger")
	cmd.Flags().BoolVar(&compression, "compression", false, "zstd-compress blocks")
	return cmd
}

func (c *cli) newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <name> [file]",
		Short: "Store an object read from a file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 || args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}

			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				rec, err := s.Write(cmd.Context(), args[0], data)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes in stripes [%d,%d)\n",
					rec.Name, rec.Size, rec.StartStripe, rec.EndStripe())
				return nil
			})
		},
	}
}

func (c *cli) newGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Retrieve an object to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				data, err := s.Retrieve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(output, data, 0644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func (c *cli) newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List objects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				recs := s.Objects()
				if len(recs) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No objects found.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "NAME\tSIZE\tSTRIPES\tCREATED")
				for _, r := range recs {
					_, _ = fmt.Fprintf(w, "%s\t%s\t%d-%d\t%s\n", r.Name, bytesize.Format(r.Size),
						r.StartStripe, r.EndStripe(), r.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat [name]",
		Short: "Show store or object details",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				out := cmd.OutOrStdout()
				if len(args) == 1 {
					rec, err := s.Stat(args[0])
					if err != nil {
						return err
					}
					printRecord(out, s, rec)
					return nil
				}

				man := s.Manifest()
				_, _ = fmt.Fprintf(out, "Store %s\n", man.ID)
				_, _ = fmt.Fprintf(out, "  Geometry: k=%d m=%d block_size=%d\n", man.K, man.M, man.BlockSize)
				_, _ = fmt.Fprintf(out, "  Rotation: %s\n", man.Rotation)
				_, _ = fmt.Fprintf(out, "  Backend:  %s\n", man.Backend)
				_, _ = fmt.Fprintf(out, "  Created:  %s\n", man.CreatedAt.Format(time.RFC3339))
				_, _ = fmt.Fprintf(out, "  Objects:  %d\n", len(s.Objects()))
				_, _ = fmt.Fprintf(out, "  Stripes:  %d\n", s.Cursor())
				return nil
			})
		},
	}
}

func printRecord(out io.Writer, s *raid6.Store, rec index.Record) {
	_, _ = fmt.Fprintf(out, "Object %s\n", rec.Name)
	_, _ = fmt.Fprintf(out, "  Size:    %d\n", rec.Size)
	_, _ = fmt.Fprintf(out, "  Stripes: [%d,%d)\n", rec.StartStripe, rec.EndStripe())
	_, _ = fmt.Fprintf(out, "  Created: %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.StripeCount > 0 {
		_, _ = fmt.Fprintf(out, "  Parity nodes of first stripe: %v\n", s.Router().ParityNodes(rec.StartStripe))
	}
}

func (c *cli) newFailNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fail-node <node>",
		Short: "Simulate a node failure by deleting all of its blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid node %q: %w", args[0], err)
			}
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				res, err := s.FailNode(cmd.Context(), node)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "node %d failed: %d blocks removed\n", res.Node, res.Blocks)
				return nil
			})
		},
	}
}

func (c *cli) newFailDiskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fail-disk <node> <stripe>",
		Short: "Simulate a disk failure by deleting one block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid node %q: %w", args[0], err)
			}
			stripe, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid stripe %q: %w", args[1], err)
			}
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				n, st, err := s.FailDisk(cmd.Context(), node, stripe)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "block removed: node %d stripe %d\n", n, st)
				return nil
			})
		},
	}
}

func (c *cli) newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "List missing blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				missing, err := s.DetectFailure(cmd.Context())
				if err != nil {
					return err
				}
				if len(missing) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No missing blocks.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				_, _ = fmt.Fprintln(w, "STRIPE\tNODE\tCOLUMN")
				for _, mb := range missing {
					_, _ = fmt.Fprintf(w, "%d\t%d\t%d\n", mb.Stripe, mb.Node, mb.Column)
				}
				return w.Flush()
			})
		},
	}
}

func (c *cli) newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild all missing blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStore(cmd.Context(), func(s *raid6.Store) error {
				report, err := s.HandleDiskFailure(cmd.Context())
				printReport(cmd.OutOrStdout(), report)
				return err
			})
		},
	}
}

func printReport(out io.Writer, r raid6.RepairReport) {
	_, _ = fmt.Fprintf(out, "scanned %d stripes, repaired %d, rebuilt %d blocks\n",
		r.StripesScanned, r.StripesRepaired, r.BlocksRebuilt)
	if len(r.Unrecoverable) > 0 {
		_, _ = fmt.Fprintf(out, "unrecoverable stripes: %v\n", r.Unrecoverable)
	}
}

// withStore opens the configured store, runs fn and closes the store.
func (c *cli) withStore(ctx context.Context, fn func(*raid6.Store) error) error {
	store, _, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store.Store)
}
