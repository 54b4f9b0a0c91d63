package raid6

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tunnelmesh/raid6/internal/blockstore"
)

// NodeFailure reports a simulated node loss.
type NodeFailure struct {
	Node   int
	Blocks int // blocks deleted
}

// MissingBlock is one absent block below the stripe cursor.
type MissingBlock struct {
	Stripe int64
	Node   int
	Column int // logical column the node holds for this stripe
}

// RepairReport summarizes a HandleDiskFailure pass.
type RepairReport struct {
	StripesScanned  int64
	StripesRepaired int64
	BlocksRebuilt   int
	Unrecoverable   []int64 // stripes that lost more than m blocks
}

func (s *Store) checkNode(node int) error {
	if node < 0 || node >= s.router.N() {
		return fmt.Errorf("%w: node %d out of range [0,%d)", ErrInvalidNode, node, s.router.N())
	}
	return nil
}

// FailNode simulates the loss of a node by deleting every block it holds.
func (s *Store) FailNode(ctx context.Context, node int) (res NodeFailure, err error) {
	defer s.observe("fail_node", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return NodeFailure{}, err
	}
	if err := s.checkNode(node); err != nil {
		return NodeFailure{}, err
	}

	n, err := s.blocks.DeleteNode(ctx, node)
	s.audit.LogNodeFailure(s.manifest.ID, node, n, err)
	if errors.Is(err, blockstore.ErrNotFound) {
		return NodeFailure{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return NodeFailure{}, fmt.Errorf("fail node %d: %w", node, err)
	}

	s.log.Warn().Int("node", node).Int("blocks", n).Msg("node failed")
	return NodeFailure{Node: node, Blocks: n}, nil
}

// FailDisk simulates the loss of the single block stored for stripe on
// node. It returns the pair that was removed.
func (s *Store) FailDisk(ctx context.Context, node int, stripe int64) (_ int, _ int64, err error) {
	defer s.observe("fail_disk", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return 0, 0, err
	}
	if err := s.checkNode(node); err != nil {
		return 0, 0, err
	}

	err = s.blocks.DeleteBlock(ctx, node, stripe)
	s.audit.LogDiskFailure(s.manifest.ID, node, stripe, err)
	if errors.Is(err, blockstore.ErrNotFound) {
		return 0, 0, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("fail disk node %d stripe %d: %w", node, stripe, err)
	}

	s.log.Warn().Int("node", node).Int64("stripe", stripe).Msg("block failed")
	return node, stripe, nil
}

// DetectFailure lists every block below the cursor that is absent, ordered
// by stripe and then node.
func (s *Store) DetectFailure(ctx context.Context) (missing []MissingBlock, err error) {
	defer s.observe("detect", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	n := s.router.N()
	for st := int64(0); st < s.index.Cursor(); st++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for node := 0; node < n; node++ {
			ok, err := s.blocks.BlockExists(ctx, node, st)
			if err != nil {
				return nil, fmt.Errorf("check stripe %d node %d: %w", st, node, err)
			}
			if !ok {
				missing = append(missing, MissingBlock{
					Stripe: st,
					Node:   node,
					Column: s.router.Column(node, st),
				})
			}
		}
	}

	s.metrics.MissingBlocks.Set(float64(len(missing)))
	if len(missing) > 0 {
		s.log.Warn().Int("missing", len(missing)).Msg("missing blocks detected")
	}
	return missing, nil
}

// HandleDiskFailure rebuilds every missing block below the cursor and
// writes it back to the node the router assigns. Running it again after a
// successful pass does nothing.
//
// A stripe that lost more than m blocks stops the pass with an error
// wrapping ErrUnrecoverable, unless ContinueOnUnrecoverable is set; then
// the remaining stripes are repaired and the errors of all unrecoverable
// stripes are joined. The report is valid in both cases.
func (s *Store) HandleDiskFailure(ctx context.Context) (RepairReport, error) {
	return s.repair(ctx, s.opts.ContinueOnUnrecoverable)
}

// Scrub is HandleDiskFailure that never stops at an unrecoverable stripe,
// whatever ContinueOnUnrecoverable says. Periodic scrubbing uses it so one
// lost stripe cannot keep later stripes degraded.
func (s *Store) Scrub(ctx context.Context) (RepairReport, error) {
	return s.repair(ctx, true)
}

func (s *Store) repair(ctx context.Context, keepGoing bool) (report RepairReport, err error) {
	defer s.observe("repair", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return report, err
	}

	defer func() {
		s.audit.LogRepair(s.manifest.ID, report.StripesScanned, report.StripesRepaired,
			report.BlocksRebuilt, report.Unrecoverable, err)
	}()

	var failures []error
	for st := int64(0); st < s.index.Cursor(); st++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.StripesScanned++

		rebuilt, err := s.repairStripe(ctx, st)
		if errors.Is(err, ErrUnrecoverable) {
			s.metrics.UnrecoverableStripes.Inc()
			report.Unrecoverable = append(report.Unrecoverable, st)
			s.log.Error().Err(err).Int64("stripe", st).Msg("stripe unrecoverable")
			if !keepGoing {
				return report, err
			}
			failures = append(failures, err)
			continue
		}
		if err != nil {
			return report, err
		}
		if rebuilt > 0 {
			report.StripesRepaired++
			report.BlocksRebuilt += rebuilt
		}
	}

	if report.BlocksRebuilt > 0 || len(report.Unrecoverable) > 0 {
		s.log.Info().
			Int64("stripes_scanned", report.StripesScanned).
			Int64("stripes_repaired", report.StripesRepaired).
			Int("blocks_rebuilt", report.BlocksRebuilt).
			Int("unrecoverable", len(report.Unrecoverable)).
			Msg("repair pass finished")
	}
	return report, errors.Join(failures...)
}

// repairStripe rebuilds the missing columns of one stripe and returns how
// many blocks it wrote.
func (s *Store) repairStripe(ctx context.Context, st int64) (int, error) {
	available := make(map[int][]byte, s.codec.N())
	var failed []int

	for col := 0; col < s.codec.N(); col++ {
		node := s.router.Node(col, st)
		ok, err := s.blocks.BlockExists(ctx, node, st)
		if err != nil {
			return 0, fmt.Errorf("check stripe %d node %d: %w", st, node, err)
		}
		if !ok {
			failed = append(failed, col)
		}
	}
	if len(failed) == 0 {
		return 0, nil
	}
	if len(failed) > s.codec.M() {
		return 0, fmt.Errorf("%w: stripe %d lost columns %v, tolerates %d", ErrUnrecoverable, st, failed, s.codec.M())
	}

	lost := make(map[int]bool, len(failed))
	for _, col := range failed {
		lost[col] = true
	}
	for col := 0; col < s.codec.N(); col++ {
		if lost[col] {
			continue
		}
		b, err := s.readColumn(ctx, col, st)
		if err != nil {
			return 0, err
		}
		available[col] = b
	}

	recovered, err := s.codec.Decode(st, available, failed)
	if err != nil {
		return 0, err
	}

	for _, col := range failed {
		node := s.router.Node(col, st)
		if err := s.blocks.StoreBlock(ctx, node, st, recovered[col]); err != nil {
			return 0, fmt.Errorf("write back stripe %d column %d to node %d: %w", st, col, node, err)
		}
		s.metrics.BlocksRebuilt.Inc()
		s.log.Debug().Int64("stripe", st).Int("column", col).Int("node", node).Msg("block rebuilt")
	}
	return len(failed), nil
}
