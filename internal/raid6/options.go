package raid6

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tunnelmesh/raid6/internal/blockstore"
	"github.com/tunnelmesh/raid6/internal/logging/audit"
	"github.com/tunnelmesh/raid6/internal/placement"
)

// DefaultMaxMDSChecks bounds how many erasure patterns Open inverts when a
// store is created.
const DefaultMaxMDSChecks = 1 << 16

// Options configures Open. K, M and BlockSize are required when a store is
// created; when it is reopened, zero values adopt the persisted manifest and
// non-zero values must match it.
type Options struct {
	Path      string // store root; may be empty only for the memory backend
	K         int    // data blocks per stripe
	M         int    // parity blocks per stripe
	BlockSize int    // bytes per block

	Rotation    placement.Rotation
	Backend     blockstore.Backend
	Compression bool

	// MustExist makes Open fail with ErrNoStore instead of creating a
	// store. Ignored by the memory backend.
	MustExist bool

	// MinFreeBytes rejects Open and Write when the volume holding Path has
	// less space available. 0 disables the check.
	MinFreeBytes int64

	// ContinueOnUnrecoverable makes HandleDiskFailure repair every stripe it
	// can and report all unrecoverable ones, instead of stopping at the
	// first.
	ContinueOnUnrecoverable bool

	// MaxMDSChecks caps the erasure patterns verified on creation.
	// 0 selects DefaultMaxMDSChecks.
	MaxMDSChecks uint64

	// Registerer receives the controller metrics. Nil keeps them in a
	// private registry.
	Registerer prometheus.Registerer

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger

	// Audit records writes, simulated failures and repairs. Nil disables
	// auditing.
	Audit *audit.Logger
}

func (o Options) persistent() bool {
	return o.Backend != blockstore.BackendMemory
}

func (o Options) validateNew() error {
	if o.K < 1 {
		return fmt.Errorf("%w: k must be >= 1, got %d", ErrInvalidOptions, o.K)
	}
	if o.M < 1 {
		return fmt.Errorf("%w: m must be >= 1, got %d", ErrInvalidOptions, o.M)
	}
	if o.BlockSize < 1 {
		return fmt.Errorf("%w: block size must be >= 1, got %d", ErrInvalidOptions, o.BlockSize)
	}
	return nil
}
