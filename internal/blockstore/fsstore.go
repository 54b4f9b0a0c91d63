package blockstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/tunnelmesh/raid6/internal/fsutil"
)

const (
	blockExt = ".blk"

	// Every stored file starts with one of these bytes.
	encodingRaw  byte = 0
	encodingZstd byte = 1
)

// FSStore keeps one directory per node and one file per block on a
// billy.Filesystem:
//
//	node0/
//	  0000000000000000.blk
//	  0000000000000001.blk
//	node1/
//	  ...
//
// Writes go to a temp file that is synced and renamed into place, so a
// block is either fully present or absent. Stores opened with OpenDir also
// fsync the node directory after the rename; in-memory stores skip syncing.
type FSStore struct {
	fs       billy.Filesystem
	root     string // local directory behind fs, empty when not on disk
	compress bool

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// FSOption configures an FSStore.
type FSOption func(*FSStore)

// WithCompression stores blocks zstd-compressed.
func WithCompression() FSOption {
	return func(s *FSStore) {
		s.compress = true
	}
}

// NewFSStore returns a store on top of fs.
func NewFSStore(fs billy.Filesystem, opts ...FSOption) *FSStore {
	s := &FSStore{fs: fs}
	for _, opt := range opts {
		opt(s)
	}

	s.encoderPool = sync.Pool{
		New: func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	s.decoderPool = sync.Pool{
		New: func() interface{} {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return s
}

// OpenDir returns a store rooted at dir on the local disk. The bound osfs
// hands out *os.File backed files, which is what makes Sync available.
func OpenDir(dir string, opts ...FSOption) (*FSStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve block dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create block dir: %w", err)
	}
	s := NewFSStore(osfs.New(abs, osfs.WithBoundOS()), opts...)
	s.root = abs
	return s, nil
}

// NewMemStore returns a store that keeps every node in memory.
func NewMemStore(opts ...FSOption) *FSStore {
	return NewFSStore(memfs.New(), opts...)
}

func nodeDir(node int) string {
	return fmt.Sprintf("node%d", node)
}

func blockPath(node int, stripe int64) string {
	return path.Join(nodeDir(node), fmt.Sprintf("%016x%s", stripe, blockExt))
}

// StoreBlock writes the block through a synced temp file and a rename.
func (s *FSStore) StoreBlock(ctx context.Context, node int, stripe int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := nodeDir(node)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create node dir: %w", err)
	}

	payload, err := s.encode(data)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	tmp, err := s.fs.TempFile(dir, ".blk-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write block: %w", err)
	}
	if err := s.syncFile(tmp); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync block: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, blockPath(node, stripe)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename block: %w", err)
	}
	if s.root != "" {
		if err := fsutil.SyncDir(filepath.Join(s.root, dir)); err != nil {
			return fmt.Errorf("sync node dir: %w", err)
		}
	}
	return nil
}

type syncer interface {
	Sync() error
}

// syncFile flushes f to stable storage. A disk store whose files cannot be
// synced is an error; memfs files have nothing to flush.
func (s *FSStore) syncFile(f billy.File) error {
	fs, ok := f.(syncer)
	if !ok {
		if s.root != "" {
			return fmt.Errorf("%T does not support sync", f)
		}
		return nil
	}
	return fs.Sync()
}

// ReadBlock returns the decoded contents of a block.
func (s *FSStore) ReadBlock(ctx context.Context, node int, stripe int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(blockPath(node, stripe))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: node %d stripe %d", ErrNotFound, node, stripe)
	}
	if err != nil {
		return nil, fmt.Errorf("open block: %w", err)
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	data, err := s.decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode block node %d stripe %d: %w", node, stripe, err)
	}
	return data, nil
}

// BlockExists checks for the block file.
func (s *FSStore) BlockExists(ctx context.Context, node int, stripe int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := s.fs.Stat(blockPath(node, stripe))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat block: %w", err)
}

// DeleteBlock removes the block file.
func (s *FSStore) DeleteBlock(ctx context.Context, node int, stripe int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.fs.Remove(blockPath(node, stripe))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: node %d stripe %d", ErrNotFound, node, stripe)
	}
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// DeleteNode removes the node directory and everything in it.
func (s *FSStore) DeleteNode(ctx context.Context, node int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dir := nodeDir(node)
	entries, err := s.fs.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: node %d has no blocks", ErrNotFound, node)
	}
	if err != nil {
		return 0, fmt.Errorf("list node: %w", err)
	}

	count := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), blockExt) {
			count++
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: node %d has no blocks", ErrNotFound, node)
	}

	if err := util.RemoveAll(s.fs, dir); err != nil {
		return 0, fmt.Errorf("remove node: %w", err)
	}
	log.Debug().Int("node", node).Int("blocks", count).Msg("node removed")
	return count, nil
}

// Close is a no-op; files are closed after every operation.
func (s *FSStore) Close() error { return nil }

func (s *FSStore) encode(data []byte) ([]byte, error) {
	if !s.compress {
		out := make([]byte, 0, len(data)+1)
		out = append(out, encodingRaw)
		return append(out, data...), nil
	}
	enc := s.encoderPool.Get().(*zstd.Encoder)
	defer s.encoderPool.Put(enc)

	return enc.EncodeAll(data, []byte{encodingZstd}), nil
}

func (s *FSStore) decode(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty block file")
	}
	switch raw[0] {
	case encodingRaw:
		return raw[1:], nil
	case encodingZstd:
		dec := s.decoderPool.Get().(*zstd.Decoder)
		defer s.decoderPool.Put(dec)
		return dec.DecodeAll(raw[1:], nil)
	default:
		return nil, fmt.Errorf("unknown block encoding %d", raw[0])
	}
}
