package blockstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "blk/"

// BadgerStore keeps every block as one key in a badger database. Writes are
// synced so a block is durable when StoreBlock returns.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database in dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	return openBadger(opts)
}

// NewBadgerMemStore returns a badger store that never touches the disk.
func NewBadgerMemStore() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func nodePrefix(node int) []byte {
	return []byte(fmt.Sprintf("%s%d/", keyPrefix, node))
}

func blockKey(node int, stripe int64) []byte {
	prefix := nodePrefix(node)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(stripe))
	return key
}

func (s *BadgerStore) StoreBlock(ctx context.Context, node int, stripe int64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value := make([]byte, len(data))
	copy(value, data)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(node, stripe), value)
	})
	if err != nil {
		return fmt.Errorf("store block: %w", err)
	}
	return nil
}

func (s *BadgerStore) ReadBlock(ctx context.Context, node int, stripe int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(node, stripe))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: node %d stripe %d", ErrNotFound, node, stripe)
	}
	if err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	return data, nil
}

func (s *BadgerStore) BlockExists(ctx context.Context, node int, stripe int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(node, stripe))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup block: %w", err)
	}
	return true, nil
}

func (s *BadgerStore) DeleteBlock(ctx context.Context, node int, stripe int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := blockKey(node, stripe)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: node %d stripe %d", ErrNotFound, node, stripe)
	}
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// DeleteNode counts the node's keys, then drops the whole prefix.
func (s *BadgerStore) DeleteNode(ctx context.Context, node int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	prefix := nodePrefix(node)

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan node: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: node %d has no blocks", ErrNotFound, node)
	}

	if err := s.db.DropPrefix(prefix); err != nil {
		return 0, fmt.Errorf("drop node: %w", err)
	}
	log.Debug().Int("node", node).Int("blocks", count).Msg("node dropped")
	return count, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
