// Package raid6 is the storage controller: it splits objects into stripes,
// encodes parity, places blocks on nodes and rebuilds lost blocks.
package raid6

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tunnelmesh/raid6/internal/blockstore"
	"github.com/tunnelmesh/raid6/internal/index"
	"github.com/tunnelmesh/raid6/internal/logging/audit"
	"github.com/tunnelmesh/raid6/internal/placement"
	"github.com/tunnelmesh/raid6/internal/stripe"
)

// Store is an erasure-coded object store. It is not safe for concurrent
// use.
type Store struct {
	opts     Options
	manifest Manifest

	codec   *stripe.Codec
	router  *placement.Router
	index   *index.Index
	blocks  blockstore.Store
	metrics *Metrics
	log     zerolog.Logger
	audit   *audit.Logger

	closed bool
}

// Open creates a store at opts.Path, or reopens the one already there.
// Reopening never rewrites existing data; parameters that contradict the
// persisted manifest fail with ErrManifestMismatch.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Empty backend and rotation stay empty until the manifest is read, so
	// a reopen adopts the persisted values.
	if opts.Backend != "" {
		if _, err := blockstore.ParseBackend(string(opts.Backend)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	if opts.Rotation != "" {
		if _, err := placement.ParseRotation(string(opts.Rotation)); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	if opts.MaxMDSChecks == 0 {
		opts.MaxMDSChecks = DefaultMaxMDSChecks
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "raid6").Logger()

	s := &Store{log: logger, audit: opts.Audit}
	if s.audit == nil {
		s.audit = audit.Nop()
	}

	var (
		existing *Manifest
		err      error
	)
	if opts.persistent() {
		if opts.Path == "" {
			return nil, fmt.Errorf("%w: path is required unless the backend is %s", ErrInvalidOptions, blockstore.BackendMemory)
		}
		if existing, err = loadManifest(opts.Path); err != nil {
			return nil, err
		}
		if existing == nil && opts.MustExist {
			return nil, fmt.Errorf("%w: %s", ErrNoStore, opts.Path)
		}
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
		if opts.MinFreeBytes > 0 {
			if _, err := blockstore.CheckFree(opts.Path, opts.MinFreeBytes); err != nil {
				return nil, err
			}
		}
	}

	if existing != nil {
		if opts, err = existing.reconcile(opts); err != nil {
			return nil, err
		}
		s.manifest = *existing
	} else {
		if opts.Rotation == "" {
			opts.Rotation = placement.DefaultRotation
		}
		if opts.Backend == "" {
			opts.Backend = blockstore.BackendFS
		}
		if err := opts.validateNew(); err != nil {
			return nil, err
		}
		s.manifest = newManifest(opts)
	}
	s.opts = opts

	if s.codec, err = stripe.New(opts.K, opts.M); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if s.router, err = placement.NewRouter(opts.K, opts.M, opts.Rotation); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	if existing == nil {
		if err := s.verifyCodec(); err != nil {
			return nil, err
		}
		if opts.persistent() {
			if err := saveManifest(opts.Path, s.manifest); err != nil {
				return nil, fmt.Errorf("write manifest: %w", err)
			}
		}
	}

	stripeBytes := s.manifest.StripeBytes()
	if opts.persistent() {
		s.index, err = index.Load(filepath.Join(opts.Path, indexFile), stripeBytes)
		if err != nil {
			return nil, err
		}
	} else {
		s.index = index.New(stripeBytes)
	}

	s.blocks, err = blockstore.Open(blockstore.Options{
		Backend:     opts.Backend,
		Dir:         s.blockDir(),
		Compression: opts.Compression,
	})
	if err != nil {
		return nil, err
	}

	s.metrics = NewMetrics(opts.Registerer)
	s.updateGauges()
	s.log.Info().
		Str("id", s.manifest.ID).
		Str("path", opts.Path).
		Int("k", opts.K).
		Int("m", opts.M).
		Int("block_size", opts.BlockSize).
		Str("rotation", string(opts.Rotation)).
		Str("backend", string(opts.Backend)).
		Bool("created", existing == nil).
		Int("objects", s.index.Len()).
		Msg("store opened")
	return s, nil
}

func (s *Store) blockDir() string {
	switch s.opts.Backend {
	case blockstore.BackendBadger:
		return filepath.Join(s.opts.Path, badgerDir)
	case blockstore.BackendMemory:
		return ""
	default:
		return filepath.Join(s.opts.Path, nodesDir)
	}
}

// verifyCodec rejects a geometry whose generator has a singular k-row
// subset. Geometries with too many erasure patterns are only logged.
func (s *Store) verifyCodec() error {
	patterns := s.codec.ErasurePatterns(s.opts.MaxMDSChecks + 1)
	if patterns > s.opts.MaxMDSChecks {
		s.log.Warn().
			Int("k", s.opts.K).
			Int("m", s.opts.M).
			Uint64("limit", s.opts.MaxMDSChecks).
			Msg("too many erasure patterns, skipping MDS verification")
		return nil
	}
	if err := s.codec.VerifyMDS(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}

// Manifest returns the parameters the store was created with.
func (s *Store) Manifest() Manifest { return s.manifest }

// Codec returns the stripe codec.
func (s *Store) Codec() *stripe.Codec { return s.codec }

// Router returns the placement router.
func (s *Store) Router() *placement.Router { return s.router }

// Metrics returns the store's collectors.
func (s *Store) Metrics() *Metrics { return s.metrics }

// Cursor returns the number of stripes allocated so far.
func (s *Store) Cursor() int64 { return s.index.Cursor() }

// Close releases the block store.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.blocks.Close()
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) updateGauges() {
	s.metrics.Objects.Set(float64(s.index.Len()))
	s.metrics.Stripes.Set(float64(s.index.Cursor()))
}

// observe records one operation outcome. It is deferred with a pointer to
// the caller's named error.
func (s *Store) observe(op string, start time.Time, err *error) {
	status := "ok"
	if *err != nil {
		status = "error"
	}
	s.metrics.OperationsTotal.WithLabelValues(op, status).Inc()
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Write stores data under name. The object becomes visible only after every
// block of its range is durable; on failure the index is unchanged and any
// blocks already written stay unreachable.
func (s *Store) Write(ctx context.Context, name string, data []byte) (rec index.Record, err error) {
	defer s.observe("write", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return index.Record{}, err
	}

	rec, err = s.index.Reserve(name, int64(len(data)))
	if err != nil {
		return index.Record{}, err
	}
	reserved := rec
	defer func() {
		s.audit.LogObjectWrite(s.manifest.ID, name, reserved.Size, reserved.StartStripe, reserved.StripeCount, err)
	}()
	if s.opts.persistent() && s.opts.MinFreeBytes > 0 {
		if _, err := blockstore.CheckFree(s.opts.Path, s.opts.MinFreeBytes); err != nil {
			return index.Record{}, err
		}
	}

	k, bs := s.opts.K, s.opts.BlockSize
	stripeBytes := s.manifest.StripeBytes()

	for i := int64(0); i < rec.StripeCount; i++ {
		if err := ctx.Err(); err != nil {
			return index.Record{}, err
		}

		// The final stripe is zero-padded.
		buf := make([]byte, stripeBytes)
		off := i * stripeBytes
		end := min(off+stripeBytes, int64(len(data)))
		copy(buf, data[off:end])

		dataBlocks := make([][]byte, k)
		for col := 0; col < k; col++ {
			dataBlocks[col] = buf[col*bs : (col+1)*bs]
		}
		blocks, err := s.codec.Encode(dataBlocks)
		if err != nil {
			return index.Record{}, fmt.Errorf("encode stripe %d: %w", rec.StartStripe+i, err)
		}

		stripeNum := rec.StartStripe + i
		for col, blk := range blocks {
			node := s.router.Node(col, stripeNum)
			if err := s.blocks.StoreBlock(ctx, node, stripeNum, blk); err != nil {
				return index.Record{}, fmt.Errorf("store stripe %d column %d on node %d: %w", stripeNum, col, node, err)
			}
		}
	}

	if err := s.index.Commit(rec); err != nil {
		return index.Record{}, fmt.Errorf("commit %s: %w", name, err)
	}

	s.metrics.BytesWritten.Add(float64(len(data)))
	s.updateGauges()
	s.log.Debug().
		Str("object", name).
		Int64("size", rec.Size).
		Int64("start_stripe", rec.StartStripe).
		Int64("stripes", rec.StripeCount).
		Msg("object written")
	return rec, nil
}

// Retrieve returns the bytes stored under name. A stripe with missing data
// blocks is decoded in memory from the surviving blocks; nothing is written
// back.
func (s *Store) Retrieve(ctx context.Context, name string) (data []byte, err error) {
	defer s.observe("retrieve", time.Now(), &err)
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rec, err := s.Stat(name)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, rec.StripeCount*s.manifest.StripeBytes())
	for st := rec.StartStripe; st < rec.EndStripe(); st++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blocks, err := s.readData(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		for _, b := range blocks {
			out = append(out, b...)
		}
	}

	out = out[:rec.Size]
	s.metrics.BytesRead.Add(float64(len(out)))
	return out, nil
}

// readData returns the k data blocks of a stripe, decoding around missing
// ones.
func (s *Store) readData(ctx context.Context, st int64) ([][]byte, error) {
	k := s.opts.K
	blocks := make([][]byte, k)
	available := make(map[int][]byte, s.codec.N())
	var missing []int

	for col := 0; col < k; col++ {
		b, err := s.readColumn(ctx, col, st)
		if errors.Is(err, blockstore.ErrNotFound) {
			missing = append(missing, col)
			continue
		}
		if err != nil {
			return nil, err
		}
		blocks[col] = b
		available[col] = b
	}
	if len(missing) == 0 {
		return blocks, nil
	}

	for col := k; col < s.codec.N(); col++ {
		b, err := s.readColumn(ctx, col, st)
		if errors.Is(err, blockstore.ErrNotFound) {
			missing = append(missing, col)
			continue
		}
		if err != nil {
			return nil, err
		}
		available[col] = b
	}

	recovered, err := s.codec.Decode(st, available, missing)
	if err != nil {
		return nil, err
	}
	for col := 0; col < k; col++ {
		if blocks[col] == nil {
			blocks[col] = recovered[col]
		}
	}

	s.metrics.DegradedStripeReads.Inc()
	s.log.Warn().Int64("stripe", st).Ints("missing_columns", missing).Msg("degraded stripe read")
	return blocks, nil
}

func (s *Store) readColumn(ctx context.Context, col int, st int64) ([]byte, error) {
	node := s.router.Node(col, st)
	b, err := s.blocks.ReadBlock(ctx, node, st)
	if err != nil {
		return nil, err
	}
	if len(b) != s.opts.BlockSize {
		return nil, fmt.Errorf("stripe %d column %d on node %d: block is %d bytes, want %d",
			st, col, node, len(b), s.opts.BlockSize)
	}
	return b, nil
}

// Stat returns the index record of name.
func (s *Store) Stat(name string) (index.Record, error) {
	rec, err := s.index.Lookup(name)
	if err != nil {
		return index.Record{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return rec, nil
}

// Objects returns every committed record ordered by name.
func (s *Store) Objects() []index.Record {
	return s.index.Records()
}
