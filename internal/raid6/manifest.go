package raid6

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tunnelmesh/raid6/internal/blockstore"
	"github.com/tunnelmesh/raid6/internal/fsutil"
	"github.com/tunnelmesh/raid6/internal/placement"
)

const (
	manifestFile = "raid6.yaml"
	indexFile    = "index.json"
	nodesDir     = "nodes"
	badgerDir    = "badger"
)

// Manifest holds the parameters a store was created with. They cannot change
// for the lifetime of the store.
type Manifest struct {
	ID          string             `yaml:"id"`
	K           int                `yaml:"k"`
	M           int                `yaml:"m"`
	BlockSize   int                `yaml:"block_size"`
	Rotation    placement.Rotation `yaml:"rotation"`
	Backend     blockstore.Backend `yaml:"backend"`
	Compression bool               `yaml:"compression"`
	CreatedAt   time.Time          `yaml:"created_at"`
}

func newManifest(opts Options) Manifest {
	return Manifest{
		ID:          uuid.New().String(),
		K:           opts.K,
		M:           opts.M,
		BlockSize:   opts.BlockSize,
		Rotation:    opts.Rotation,
		Backend:     opts.Backend,
		Compression: opts.Compression,
		CreatedAt:   time.Now().UTC(),
	}
}

// StripeBytes is the number of object bytes one stripe carries.
func (m Manifest) StripeBytes() int64 {
	return int64(m.K) * int64(m.BlockSize)
}

// reconcile fills zero-valued options from the manifest and rejects any that
// contradict it.
func (m Manifest) reconcile(opts Options) (Options, error) {
	mismatch := func(field string, want, got interface{}) error {
		return fmt.Errorf("%w: %s is %v, store was created with %v", ErrManifestMismatch, field, got, want)
	}

	if opts.K != 0 && opts.K != m.K {
		return opts, mismatch("k", m.K, opts.K)
	}
	if opts.M != 0 && opts.M != m.M {
		return opts, mismatch("m", m.M, opts.M)
	}
	if opts.BlockSize != 0 && opts.BlockSize != m.BlockSize {
		return opts, mismatch("block_size", m.BlockSize, opts.BlockSize)
	}
	if opts.Rotation != "" && opts.Rotation != m.Rotation {
		return opts, mismatch("rotation", m.Rotation, opts.Rotation)
	}
	if opts.Backend != "" && opts.Backend != m.Backend {
		return opts, mismatch("backend", m.Backend, opts.Backend)
	}
	if opts.Compression && !m.Compression {
		return opts, mismatch("compression", m.Compression, opts.Compression)
	}

	opts.K, opts.M, opts.BlockSize = m.K, m.M, m.BlockSize
	opts.Rotation, opts.Backend, opts.Compression = m.Rotation, m.Backend, m.Compression
	return opts, nil
}

// loadManifest returns nil without error when dir holds no manifest.
func loadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.K < 1 || m.M < 1 || m.BlockSize < 1 {
		return nil, fmt.Errorf("manifest %s: invalid geometry k=%d m=%d block_size=%d", m.ID, m.K, m.M, m.BlockSize)
	}
	if _, err := placement.ParseRotation(string(m.Rotation)); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", m.ID, err)
	}
	if _, err := blockstore.ParseBackend(string(m.Backend)); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", m.ID, err)
	}
	return &m, nil
}

func saveManifest(dir string, m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, manifestFile), data, 0644)
}
