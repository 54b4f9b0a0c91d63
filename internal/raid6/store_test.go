package raid6

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tunnelmesh/raid6/internal/blockstore"
	"github.com/tunnelmesh/raid6/internal/index"
	"github.com/tunnelmesh/raid6/internal/logging/audit"
	"github.com/tunnelmesh/raid6/internal/matrix"
	"github.com/tunnelmesh/raid6/internal/placement"
	"github.com/tunnelmesh/raid6/testutil"
)

func quiet() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func memOptions(k, m, bs int) Options {
	return Options{
		K:         k,
		M:         m,
		BlockSize: bs,
		Backend:   blockstore.BackendMemory,
		Logger:    quiet(),
	}
}

func openStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = quiet()
	}
	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func tempStore(t *testing.T, opts Options) (*Store, string) {
	t.Helper()
	dir, cleanup := testutil.TempDir(t)
	t.Cleanup(cleanup)
	opts.Path = filepath.Join(dir, "store")
	return openStore(t, opts), opts.Path
}

func TestOpen_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"zero k", memOptions(0, 2, 8)},
		{"zero m", memOptions(4, 0, 8)},
		{"zero block size", memOptions(4, 2, 0)},
		{"too many columns", memOptions(200, 57, 8)},
		{"unknown rotation", func() Options {
			o := memOptions(4, 2, 8)
			o.Rotation = "spiral"
			return o
		}()},
		{"unknown backend", func() Options {
			o := memOptions(4, 2, 8)
			o.Backend = "tape"
			return o
		}()},
		{"fs without path", Options{K: 4, M: 2, BlockSize: 8, Logger: quiet()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), tt.opts)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestOpen_Defaults(t *testing.T) {
	s := openStore(t, memOptions(4, 2, 8))

	m := s.Manifest()
	assert.Equal(t, placement.Shift, m.Rotation)
	assert.Equal(t, blockstore.BackendMemory, m.Backend)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(32), m.StripeBytes())
	assert.Equal(t, 6, s.Router().N())
	assert.Equal(t, 4, s.Codec().K())
	assert.Equal(t, int64(0), s.Cursor())
}

// The reference walkthrough: k=4, m=2, 8-byte blocks, a 64-byte object,
// logical columns 0 and 4 of stripe 0 lost and rebuilt.
func TestStore_DocScenario(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []blockstore.Backend{blockstore.BackendFS, blockstore.BackendMemory, blockstore.BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			opts := memOptions(4, 2, 8)
			opts.Backend = backend
			s, _ := tempStore(t, opts)

			doc := make([]byte, 64)
			for i := range doc {
				doc[i] = byte(i + 1)
			}
			rec, err := s.Write(ctx, "doc", doc)
			require.NoError(t, err)
			assert.Equal(t, int64(0), rec.StartStripe)
			assert.Equal(t, int64(2), rec.StripeCount)
			assert.Equal(t, int64(2), s.Cursor())

			for _, col := range []int{0, 4} {
				node := s.Router().Node(col, 0)
				gotNode, gotStripe, err := s.FailDisk(ctx, node, 0)
				require.NoError(t, err)
				assert.Equal(t, node, gotNode)
				assert.Equal(t, int64(0), gotStripe)
			}

			missing, err := s.DetectFailure(ctx)
			require.NoError(t, err)
			require.Len(t, missing, 2)
			assert.Equal(t, MissingBlock{Stripe: 0, Node: s.Router().Node(0, 0), Column: 0}, missing[0])
			assert.Equal(t, MissingBlock{Stripe: 0, Node: s.Router().Node(4, 0), Column: 4}, missing[1])

			report, err := s.HandleDiskFailure(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), report.StripesScanned)
			assert.Equal(t, int64(1), report.StripesRepaired)
			assert.Equal(t, 2, report.BlocksRebuilt)
			assert.Empty(t, report.Unrecoverable)

			missing, err = s.DetectFailure(ctx)
			require.NoError(t, err)
			assert.Empty(t, missing)

			got, err := s.Retrieve(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, doc, got)
		})
	}
}

func TestStore_FailEveryNodePairAndRepair(t *testing.T) {
	ctx := context.Background()
	for _, rot := range []placement.Rotation{placement.Shift, placement.Stride} {
		t.Run(string(rot), func(t *testing.T) {
			opts := memOptions(4, 2, 16)
			opts.Rotation = rot
			data := testutil.RandomBytes(t, 1000)

			n := 6
			for a := 0; a < n; a++ {
				for b := a + 1; b < n; b++ {
					s := openStore(t, opts)
					_, err := s.Write(ctx, "obj", data)
					require.NoError(t, err)

					_, err = s.FailNode(ctx, a)
					require.NoError(t, err)
					_, err = s.FailNode(ctx, b)
					require.NoError(t, err)

					report, err := s.HandleDiskFailure(ctx)
					require.NoError(t, err, "nodes %d,%d", a, b)
					assert.Equal(t, 2*int(s.Cursor()), report.BlocksRebuilt)

					got, err := s.Retrieve(ctx, "obj")
					require.NoError(t, err)
					require.Equal(t, data, got, "nodes %d,%d", a, b)
				}
			}
		})
	}
}

func TestStore_Unrecoverable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))
	data := testutil.RandomBytes(t, 100)
	_, err := s.Write(ctx, "obj", data)
	require.NoError(t, err)

	for node := 0; node < 3; node++ {
		_, err := s.FailNode(ctx, node)
		require.NoError(t, err)
	}

	report, err := s.HandleDiskFailure(ctx)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.Equal(t, []int64{0}, report.Unrecoverable)
	assert.Equal(t, 0, report.BlocksRebuilt)

	_, err = s.Retrieve(ctx, "obj")
	assert.ErrorIs(t, err, ErrUnrecoverable)
}

func TestStore_UnrecoverablePolicy(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, cont bool) *Store {
		opts := memOptions(2, 1, 4)
		opts.ContinueOnUnrecoverable = cont
		s := openStore(t, opts)
		// 24 bytes over 8-byte stripes: stripes 0, 1 and 2.
		_, err := s.Write(ctx, "obj", testutil.RandomBytes(t, 24))
		require.NoError(t, err)

		// Stripe 0 loses two blocks; stripe 2 loses one.
		for _, col := range []int{0, 1} {
			_, _, err := s.FailDisk(ctx, s.Router().Node(col, 0), 0)
			require.NoError(t, err)
		}
		_, _, err = s.FailDisk(ctx, s.Router().Node(2, 2), 2)
		require.NoError(t, err)
		return s
	}

	t.Run("abort", func(t *testing.T) {
		s := setup(t, false)
		report, err := s.HandleDiskFailure(ctx)
		require.ErrorIs(t, err, ErrUnrecoverable)
		assert.Equal(t, int64(1), report.StripesScanned)
		assert.Equal(t, 0, report.BlocksRebuilt)

		missing, err := s.DetectFailure(ctx)
		require.NoError(t, err)
		assert.Len(t, missing, 3, "stripe 2 must not be repaired after the abort")
	})

	t.Run("continue", func(t *testing.T) {
		s := setup(t, true)
		report, err := s.HandleDiskFailure(ctx)
		require.ErrorIs(t, err, ErrUnrecoverable)
		assert.Equal(t, int64(3), report.StripesScanned)
		assert.Equal(t, []int64{0}, report.Unrecoverable)
		assert.Equal(t, 1, report.BlocksRebuilt)

		missing, err := s.DetectFailure(ctx)
		require.NoError(t, err)
		assert.Len(t, missing, 2)
		for _, mb := range missing {
			assert.Equal(t, int64(0), mb.Stripe)
		}
	})
}

func TestStore_DegradedRead(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))
	data := testutil.RandomBytes(t, 200)
	_, err := s.Write(ctx, "obj", data)
	require.NoError(t, err)

	res, err := s.FailNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Node)
	assert.Equal(t, int(s.Cursor()), res.Blocks)

	got, err := s.Retrieve(ctx, "obj")
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Greater(t, promtest.ToFloat64(s.Metrics().DegradedStripeReads), 0.0)

	// A degraded read does not write anything back.
	missing, err := s.DetectFailure(ctx)
	require.NoError(t, err)
	assert.Len(t, missing, int(s.Cursor()))
}

func TestStore_RepairIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(3, 2, 8))
	_, err := s.Write(ctx, "obj", testutil.RandomBytes(t, 500))
	require.NoError(t, err)
	_, err = s.FailNode(ctx, 4)
	require.NoError(t, err)

	first, err := s.HandleDiskFailure(ctx)
	require.NoError(t, err)
	assert.Positive(t, first.BlocksRebuilt)

	second, err := s.HandleDiskFailure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.BlocksRebuilt)
	assert.Equal(t, int64(0), second.StripesRepaired)
	assert.Equal(t, first.StripesScanned, second.StripesScanned)
}

func TestStore_HealthyRepairIsNoop(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))

	report, err := s.HandleDiskFailure(ctx)
	require.NoError(t, err)
	assert.Equal(t, RepairReport{}, report)

	_, err = s.Write(ctx, "obj", []byte("hello"))
	require.NoError(t, err)
	report, err = s.HandleDiskFailure(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.StripesScanned)
	assert.Equal(t, 0, report.BlocksRebuilt)
}

func TestStore_MultipleObjects(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))

	objects := map[string][]byte{
		"a": testutil.RandomBytes(t, 10),
		"b": testutil.RandomBytes(t, 32),
		"c": testutil.RandomBytes(t, 33),
		"d": testutil.RandomBytes(t, 1000),
	}
	var cursor int64
	for _, name := range []string{"a", "b", "c", "d"} {
		rec, err := s.Write(ctx, name, objects[name])
		require.NoError(t, err)
		assert.Equal(t, cursor, rec.StartStripe, "ranges are appended")
		cursor = rec.EndStripe()
	}
	assert.Equal(t, cursor, s.Cursor())

	_, err := s.FailNode(ctx, 0)
	require.NoError(t, err)
	_, err = s.FailNode(ctx, 5)
	require.NoError(t, err)
	_, err = s.HandleDiskFailure(ctx)
	require.NoError(t, err)

	for name, want := range objects {
		got, err := s.Retrieve(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	recs := s.Objects()
	require.Len(t, recs, 4)
	assert.Equal(t, "a", recs[0].Name)
	assert.Equal(t, "d", recs[3].Name)
}

func TestStore_TrailingZeros(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))

	data := append([]byte("payload"), make([]byte, 20)...)
	_, err := s.Write(ctx, "zeros", data)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "zeros")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	allZero := make([]byte, 40)
	_, err = s.Write(ctx, "all-zero", allZero)
	require.NoError(t, err)
	got, err = s.Retrieve(ctx, "all-zero")
	require.NoError(t, err)
	assert.Equal(t, allZero, got)
}

func TestStore_EmptyObject(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))

	rec, err := s.Write(ctx, "empty", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.StripeCount)
	assert.Equal(t, int64(0), s.Cursor())

	got, err := s.Retrieve(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))
	_, err := s.Write(ctx, "obj", []byte("x"))
	require.NoError(t, err)

	_, err = s.Write(ctx, "obj", []byte("y"))
	assert.ErrorIs(t, err, index.ErrExists)

	_, err = s.Retrieve(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, index.ErrNotFound)

	_, err = s.FailNode(ctx, 6)
	assert.ErrorIs(t, err, ErrInvalidNode)
	_, err = s.FailNode(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidNode)
	_, _, err = s.FailDisk(ctx, 99, 0)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, _, err = s.FailDisk(ctx, 0, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.FailNode(ctx, 2)
	require.NoError(t, err)
	_, err = s.FailNode(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, blockstore.ErrNotFound)

	require.NoError(t, s.Close())
	_, err = s.Retrieve(ctx, "obj")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStore_CancelledWrite(t *testing.T) {
	s := openStore(t, memOptions(4, 2, 8))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Write(ctx, "obj", []byte("data"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int64(0), s.Cursor())

	_, err = s.Stat("obj")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	for _, backend := range []blockstore.Backend{blockstore.BackendFS, blockstore.BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			dir, cleanup := testutil.TempDir(t)
			defer cleanup()
			path := filepath.Join(dir, "store")

			opts := memOptions(4, 2, 8)
			opts.Backend = backend
			opts.Path = path
			opts.Rotation = placement.Stride

			s, err := Open(ctx, opts)
			require.NoError(t, err)
			first := testutil.RandomBytes(t, 90)
			_, err = s.Write(ctx, "first", first)
			require.NoError(t, err)
			id := s.Manifest().ID
			cursor := s.Cursor()
			require.NoError(t, s.Close())

			// Geometry comes from the manifest.
			s, err = Open(ctx, Options{Path: path, Logger: quiet()})
			require.NoError(t, err)
			defer func() { _ = s.Close() }()

			assert.Equal(t, id, s.Manifest().ID)
			assert.Equal(t, placement.Stride, s.Router().Rotation())
			assert.Equal(t, backend, s.Manifest().Backend)
			assert.Equal(t, cursor, s.Cursor())

			got, err := s.Retrieve(ctx, "first")
			require.NoError(t, err)
			assert.Equal(t, first, got)

			rec, err := s.Write(ctx, "second", []byte("more"))
			require.NoError(t, err)
			assert.Equal(t, cursor, rec.StartStripe)
		})
	}
}

func TestStore_ManifestMismatch(t *testing.T) {
	ctx := context.Background()
	_, path := tempStore(t, Options{K: 4, M: 2, BlockSize: 8})

	tests := []struct {
		name string
		opts Options
	}{
		{"k", Options{K: 5}},
		{"m", Options{M: 3}},
		{"block size", Options{BlockSize: 16}},
		{"rotation", Options{Rotation: placement.Stride}},
		{"backend", Options{Backend: blockstore.BackendBadger}},
		{"compression", Options{Compression: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Path = path
			opts.Logger = quiet()
			_, err := Open(ctx, opts)
			assert.ErrorIs(t, err, ErrManifestMismatch)
		})
	}

	s, err := Open(ctx, Options{Path: path, K: 4, M: 2, BlockSize: 8, Logger: quiet()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestStore_ManifestOnDisk(t *testing.T) {
	_, path := tempStore(t, Options{K: 3, M: 2, BlockSize: 4, Compression: true})

	m, err := loadManifest(path)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 3, m.K)
	assert.Equal(t, 2, m.M)
	assert.Equal(t, 4, m.BlockSize)
	assert.True(t, m.Compression)
	assert.Equal(t, blockstore.BackendFS, m.Backend)

	_, err = os.Stat(filepath.Join(path, nodesDir))
	assert.NoError(t, err)
}

func TestStore_CorruptManifest(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	testutil.TempFile(t, dir, manifestFile, "k: [not an int")

	_, err := Open(context.Background(), Options{Path: dir, K: 4, M: 2, BlockSize: 8, Logger: quiet()})
	assert.Error(t, err)
}

func TestStore_Compression(t *testing.T) {
	ctx := context.Background()
	s, _ := tempStore(t, Options{K: 4, M: 2, BlockSize: 1024, Compression: true})

	data := bytes.Repeat([]byte("compressible "), 2000)
	_, err := s.Write(ctx, "text", data)
	require.NoError(t, err)
	_, err = s.FailNode(ctx, 3)
	require.NoError(t, err)
	_, err = s.HandleDiskFailure(ctx)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "text")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStore_MinFreeBytes(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	_, err := Open(context.Background(), Options{
		Path: dir, K: 4, M: 2, BlockSize: 8,
		MinFreeBytes: 1 << 62,
		Logger:       quiet(),
	})
	assert.ErrorIs(t, err, blockstore.ErrInsufficientSpace)
}

func TestStore_NonMDSGeometry(t *testing.T) {
	if testing.Short() {
		t.Skip("inverts every erasure pattern of a 24+4 code")
	}
	_, err := Open(context.Background(), memOptions(24, 4, 8))
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.ErrorIs(t, err, matrix.ErrSingular)
}

func TestStore_MDSCheckLimit(t *testing.T) {
	opts := memOptions(24, 4, 8)
	opts.MaxMDSChecks = 100
	s := openStore(t, opts)
	assert.Equal(t, 28, s.Router().N())
}

func TestStore_Metrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	opts := memOptions(4, 2, 8)
	opts.Registerer = reg
	s := openStore(t, opts)

	_, err := s.Write(ctx, "obj", make([]byte, 100))
	require.NoError(t, err)
	_, err = s.Retrieve(ctx, "obj")
	require.NoError(t, err)
	_, err = s.Retrieve(ctx, "nope")
	require.Error(t, err)
	_, err = s.FailNode(ctx, 0)
	require.NoError(t, err)
	_, err = s.DetectFailure(ctx)
	require.NoError(t, err)
	_, err = s.HandleDiskFailure(ctx)
	require.NoError(t, err)

	m := s.Metrics()
	assert.Equal(t, 100.0, promtest.ToFloat64(m.BytesWritten))
	assert.Equal(t, 100.0, promtest.ToFloat64(m.BytesRead))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.Objects))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.Stripes))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.MissingBlocks))
	assert.Equal(t, 4.0, promtest.ToFloat64(m.BlocksRebuilt))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.OperationsTotal.WithLabelValues("retrieve", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.OperationsTotal.WithLabelValues("retrieve", "error")))

	count, err := promtest.GatherAndCount(reg, "raid6_operations_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestStore_ReopenSameRegistry(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	opts := Options{K: 4, M: 2, BlockSize: 8, Registerer: reg, Logger: quiet()}
	s, path := tempStore(t, opts)

	_, err := s.Write(ctx, "first", []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var reopened *Store
	require.NotPanics(t, func() {
		reopened, err = Open(ctx, Options{Path: path, Registerer: reg, Logger: quiet()})
	})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	_, err = reopened.Write(ctx, "second", []byte("abcde"))
	require.NoError(t, err)

	assert.Same(t, s.Metrics().OperationsTotal, reopened.Metrics().OperationsTotal)
	assert.Equal(t, 15.0, promtest.ToFloat64(reopened.Metrics().BytesWritten))
	assert.Equal(t, 2.0, promtest.ToFloat64(reopened.Metrics().Objects))
}

func TestNewMetrics_ConflictingCollectorPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raid6_bytes_written_total",
		Help: "not a counter",
	}))
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestStore_ScrubSkipsUnrecoverable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, memOptions(4, 2, 8))

	payload := testutil.NonZeroBytes(t, 64)
	_, err := s.Write(ctx, "doc", payload)
	require.NoError(t, err)

	for _, node := range []int{0, 1, 2} {
		_, _, err := s.FailDisk(ctx, node, 0)
		require.NoError(t, err)
	}
	_, _, err = s.FailDisk(ctx, 5, 1)
	require.NoError(t, err)

	report, err := s.HandleDiskFailure(ctx)
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Equal(t, 0, report.BlocksRebuilt, "default policy stops at stripe 0")

	report, err = s.Scrub(ctx)
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Equal(t, []int64{0}, report.Unrecoverable)
	assert.Equal(t, int64(2), report.StripesScanned)
	assert.Equal(t, 1, report.BlocksRebuilt)

	missing, err := s.DetectFailure(ctx)
	require.NoError(t, err)
	require.Len(t, missing, 3)
	for _, mb := range missing {
		assert.Equal(t, int64(0), mb.Stripe)
	}
}

func TestStore_Audit(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	opts := memOptions(4, 2, 8)
	opts.Audit = audit.NewLogger(zerolog.New(&buf))
	s := openStore(t, opts)

	_, err := s.Write(ctx, "obj", []byte("audited"))
	require.NoError(t, err)
	_, err = s.FailNode(ctx, 0)
	require.NoError(t, err)
	_, _, err = s.FailDisk(ctx, 0, 0)
	require.Error(t, err)
	_, err = s.HandleDiskFailure(ctx)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	var types []string
	for _, line := range lines {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, s.Manifest().ID, entry["store_id"])
		types = append(types, entry["event_type"].(string))
	}
	assert.Equal(t, []string{"object_write", "node_failure", "disk_failure", "repair"}, types)
	assert.Contains(t, lines[2], `"result":"error"`)
}

func TestStore_RandomFailures(t *testing.T) {
	ctx := context.Background()
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 6).Draw(t, "k")
		m := rapid.IntRange(1, 3).Draw(t, "m")
		bs := rapid.IntRange(1, 16).Draw(t, "bs")
		rot := rapid.SampledFrom([]placement.Rotation{placement.Shift, placement.Stride}).Draw(t, "rotation")
		data := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "data")
		failed := rapid.SliceOfNDistinct(rapid.IntRange(0, k+m-1), 0, m, rapid.ID[int]).Draw(t, "failed")

		nop := zerolog.Nop()
		s, err := Open(ctx, Options{
			K: k, M: m, BlockSize: bs, Rotation: rot,
			Backend: blockstore.BackendMemory, Logger: &nop,
		})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = s.Close() }()

		if _, err := s.Write(ctx, "obj", data); err != nil {
			t.Fatalf("write: %v", err)
		}
		for _, node := range failed {
			if _, err := s.FailNode(ctx, node); err != nil && !errors.Is(err, ErrNotFound) {
				t.Fatalf("fail node %d: %v", node, err)
			}
		}

		got, err := s.Retrieve(ctx, "obj")
		if err != nil {
			t.Fatalf("degraded retrieve: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("degraded retrieve mismatch")
		}

		if _, err := s.HandleDiskFailure(ctx); err != nil {
			t.Fatalf("repair: %v", err)
		}
		missing, err := s.DetectFailure(ctx)
		if err != nil {
			t.Fatalf("detect: %v", err)
		}
		if len(missing) != 0 {
			t.Fatalf("%d blocks still missing after repair", len(missing))
		}
		got, err = s.Retrieve(ctx, "obj")
		if err != nil {
			t.Fatalf("retrieve: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("retrieve mismatch after repair")
		}
	})
}
