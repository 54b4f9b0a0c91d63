// Package blockstore persists the blocks of a stripe on simulated storage
// nodes. A block is addressed by (node, stripe) and its contents are opaque
// to the store.
package blockstore

import (
	"context"
	"fmt"
)

// Store is the block persistence layer the controller writes through.
// Implementations must make StoreBlock durable before returning.
type Store interface {
	// StoreBlock creates or overwrites the block at (node, stripe).
	StoreBlock(ctx context.Context, node int, stripe int64, data []byte) error

	// ReadBlock returns the block at (node, stripe), or ErrNotFound.
	ReadBlock(ctx context.Context, node int, stripe int64) ([]byte, error)

	// BlockExists reports whether a block is stored at (node, stripe).
	BlockExists(ctx context.Context, node int, stripe int64) (bool, error)

	// DeleteBlock removes one block, or returns ErrNotFound.
	DeleteBlock(ctx context.Context, node int, stripe int64) error

	// DeleteNode removes every block of a node and returns how many were
	// removed. A node without blocks yields ErrNotFound.
	DeleteNode(ctx context.Context, node int) (int, error)

	Close() error
}

// Backend names a Store implementation.
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendMemory Backend = "memory"
	BackendBadger Backend = "badger"
)

// ParseBackend validates a backend name. The empty string selects BackendFS.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case "":
		return BackendFS, nil
	case BackendFS, BackendMemory, BackendBadger:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown block store backend %q", s)
	}
}

// Options configures Open.
type Options struct {
	Backend     Backend
	Dir         string // node root for fs, database dir for badger
	Compression bool   // zstd-compress blocks (fs and memory backends)
}

// Open returns the Store selected by opts.
func Open(opts Options) (Store, error) {
	var fsOpts []FSOption
	if opts.Compression {
		fsOpts = append(fsOpts, WithCompression())
	}

	switch opts.Backend {
	case BackendFS, "":
		if opts.Dir == "" {
			return nil, fmt.Errorf("fs backend requires a directory")
		}
		return OpenDir(opts.Dir, fsOpts...)
	case BackendMemory:
		return NewMemStore(fsOpts...), nil
	case BackendBadger:
		if opts.Dir == "" {
			return nil, fmt.Errorf("badger backend requires a directory")
		}
		return OpenBadger(opts.Dir)
	default:
		return nil, fmt.Errorf("unknown block store backend %q", opts.Backend)
	}
}
