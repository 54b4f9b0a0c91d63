// Package index maps object names to contiguous stripe ranges in an
// append-only stripe address space.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tunnelmesh/raid6/internal/fsutil"
)

const formatVersion = 1

// Record describes where an object lives. Records never change once
// committed.
type Record struct {
	Name        string    `json:"name"`
	StartStripe int64     `json:"start_stripe"`
	StripeCount int64     `json:"stripe_count"`
	Size        int64     `json:"size"` // exact object length, padding excluded
	CreatedAt   time.Time `json:"created_at"`
}

// EndStripe returns the first stripe after the record's range.
func (r Record) EndStripe() int64 {
	return r.StartStripe + r.StripeCount
}

type snapshot struct {
	Version int      `json:"version"`
	Cursor  int64    `json:"cursor"`
	Objects []Record `json:"objects"`
}

// Index is the object table plus the append cursor. It is owned by a single
// controller and is not safe for concurrent use.
type Index struct {
	path        string // empty for a memory-only index
	stripeBytes int64
	records     map[string]Record
	cursor      int64
}

// New returns an empty memory-only index for stripes of stripeBytes data
// bytes.
func New(stripeBytes int64) *Index {
	return &Index{
		stripeBytes: stripeBytes,
		records:     make(map[string]Record),
	}
}

// Load opens the index persisted at path, or an empty one if the file does
// not exist yet. Every Commit rewrites the file.
func Load(path string, stripeBytes int64) (*Index, error) {
	if stripeBytes <= 0 {
		return nil, fmt.Errorf("stripe size must be > 0, got %d", stripeBytes)
	}
	idx := New(stripeBytes)
	idx.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	if snap.Version != formatVersion {
		return nil, fmt.Errorf("unsupported index version %d", snap.Version)
	}
	for _, r := range snap.Objects {
		if r.EndStripe() > snap.Cursor {
			return nil, fmt.Errorf("index corrupt: object %q ends at stripe %d beyond cursor %d", r.Name, r.EndStripe(), snap.Cursor)
		}
		idx.records[r.Name] = r
	}
	idx.cursor = snap.Cursor
	return idx, nil
}

// StripeCount returns how many stripes an object of size bytes occupies.
func (x *Index) StripeCount(size int64) int64 {
	return (size + x.stripeBytes - 1) / x.stripeBytes
}

// Reserve computes the range a new object would get without changing the
// index. The reservation only becomes visible through Commit.
func (x *Index) Reserve(name string, size int64) (Record, error) {
	if name == "" {
		return Record{}, fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if size < 0 {
		return Record{}, fmt.Errorf("%w: negative size %d", ErrInvalidName, size)
	}
	if _, ok := x.records[name]; ok {
		return Record{}, fmt.Errorf("%w: %s", ErrExists, name)
	}
	return Record{
		Name:        name,
		StartStripe: x.cursor,
		StripeCount: x.StripeCount(size),
		Size:        size,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Commit publishes a reservation and advances the cursor past it. For a
// persistent index the new state reaches disk before it becomes visible in
// memory, so a failed commit leaves the index unchanged.
func (x *Index) Commit(rec Record) error {
	if _, ok := x.records[rec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrExists, rec.Name)
	}
	if rec.StartStripe != x.cursor {
		return fmt.Errorf("%w: starts at %d, cursor is %d", ErrStaleReservation, rec.StartStripe, x.cursor)
	}

	next := rec.EndStripe()
	if x.path != "" {
		if err := x.persist(rec, next); err != nil {
			return err
		}
	}
	x.records[rec.Name] = rec
	x.cursor = next
	return nil
}

// Lookup returns the record for name.
func (x *Index) Lookup(name string) (Record, error) {
	r, ok := x.records[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r, nil
}

// Cursor returns the first unallocated stripe.
func (x *Index) Cursor() int64 { return x.cursor }

// Len returns the number of objects.
func (x *Index) Len() int { return len(x.records) }

// Names returns all object names in sorted order.
func (x *Index) Names() []string {
	names := make([]string, 0, len(x.records))
	for n := range x.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Records returns all records ordered by name.
func (x *Index) Records() []Record {
	out := make([]Record, 0, len(x.records))
	for _, n := range x.Names() {
		out = append(out, x.records[n])
	}
	return out
}

func (x *Index) persist(pending Record, cursor int64) error {
	snap := snapshot{
		Version: formatVersion,
		Cursor:  cursor,
		Objects: append(x.Records(), pending),
	}
	sort.Slice(snap.Objects, func(i, j int) bool {
		return snap.Objects[i].StartStripe < snap.Objects[j].StartStripe
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(x.path, data, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}
