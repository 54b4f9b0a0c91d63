// Package stripe encodes k data blocks into k+m blocks with a systematic
// Vandermonde code over GF(2^8) and rebuilds up to m lost blocks.
//
// Logical columns 0..k-1 hold the data blocks unchanged; columns k..k+m-1
// hold parity rows V·data. The generator matrix is the k×k identity stacked
// on V, so every column of a stripe is one row of the generator applied to
// the data.
package stripe

import (
	"fmt"

	"github.com/tunnelmesh/raid6/internal/galois"
	"github.com/tunnelmesh/raid6/internal/matrix"
)

// MaxColumns is the largest k+m the field supports: evaluation points j+1
// must be distinct nonzero elements.
const MaxColumns = galois.Size

// Codec is stateless after construction and safe to share.
type Codec struct {
	k, m      int
	field     galois.GF256
	vander    matrix.Matrix // m×k
	generator matrix.Matrix // (k+m)×k
}

// New builds a codec for k data and m parity columns.
func New(k, m int) (*Codec, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: data columns (k) must be >= 1, got %d", ErrInvalidParams, k)
	}
	if m < 1 {
		return nil, fmt.Errorf("%w: parity columns (m) must be >= 1, got %d", ErrInvalidParams, m)
	}
	if k+m > MaxColumns {
		return nil, fmt.Errorf("%w: total columns (k+m) must be <= %d, got %d", ErrInvalidParams, MaxColumns, k+m)
	}

	f := galois.Field()
	vander := matrix.Matrix(galois.Vandermonde(m, k))

	generator := append(matrix.Identity(f, k), vander...)

	return &Codec{
		k:         k,
		m:         m,
		field:     f,
		vander:    vander,
		generator: generator,
	}, nil
}

// K returns the number of data columns.
func (c *Codec) K() int { return c.k }

// M returns the number of parity columns.
func (c *Codec) M() int { return c.m }

// N returns the total number of columns.
func (c *Codec) N() int { return c.k + c.m }

// Vandermonde returns a copy of the m×k coding matrix.
func (c *Codec) Vandermonde() matrix.Matrix { return c.vander.Clone() }

// Generator returns a copy of the (k+m)×k generator matrix.
func (c *Codec) Generator() matrix.Matrix { return c.generator.Clone() }

// Encode returns the k data blocks followed by m parity blocks. All data
// blocks must have the same length. The returned data blocks alias the
// input slices.
func (c *Codec) Encode(data [][]byte) ([][]byte, error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("%w: got %d data blocks, want %d", matrix.ErrShapeMismatch, len(data), c.k)
	}

	parity, err := matrix.Mul(c.field, c.vander, matrix.Matrix(data))
	if err != nil {
		return nil, fmt.Errorf("compute parity: %w", err)
	}

	blocks := make([][]byte, 0, c.N())
	blocks = append(blocks, data...)
	blocks = append(blocks, parity...)
	return blocks, nil
}

// Decode rebuilds the blocks of the failed columns of one stripe from the
// available ones. The stripe index is only used in error messages. An empty
// failed set is a no-op and returns a nil map.
//
// Exactly k surviving columns are used, lowest column first, so the
// generator submatrix is always square.
func (c *Codec) Decode(stripe int64, available map[int][]byte, failed []int) (map[int][]byte, error) {
	if len(failed) == 0 {
		return nil, nil
	}

	lost := make(map[int]bool, len(failed))
	for _, col := range failed {
		if col < 0 || col >= c.N() {
			return nil, fmt.Errorf("stripe %d: failed column %d out of range [0,%d)", stripe, col, c.N())
		}
		lost[col] = true
	}
	if len(lost) > c.m {
		return nil, fmt.Errorf("%w: stripe %d lost %d columns, tolerates %d", ErrUnrecoverable, stripe, len(lost), c.m)
	}

	rows := make([]int, 0, c.k)
	for col := 0; col < c.N() && len(rows) < c.k; col++ {
		if lost[col] {
			continue
		}
		if _, ok := available[col]; ok {
			rows = append(rows, col)
		}
	}
	if len(rows) < c.k {
		return nil, fmt.Errorf("%w: stripe %d has %d surviving columns, needs %d", ErrUnrecoverable, stripe, len(rows), c.k)
	}

	gLeft, err := c.generator.SubRows(rows)
	if err != nil {
		return nil, err
	}
	dataLeft := make(matrix.Matrix, len(rows))
	for i, col := range rows {
		dataLeft[i] = available[col]
	}

	inv, err := matrix.Inverse(c.field, gLeft)
	if err != nil {
		return nil, fmt.Errorf("stripe %d: invert generator rows %v: %w", stripe, rows, err)
	}
	dataResult, err := matrix.Mul(c.field, inv, dataLeft)
	if err != nil {
		return nil, fmt.Errorf("stripe %d: recover data: %w", stripe, err)
	}
	parityResult, err := matrix.Mul(c.field, c.vander, dataResult)
	if err != nil {
		return nil, fmt.Errorf("stripe %d: recompute parity: %w", stripe, err)
	}

	recovered := make(map[int][]byte, len(lost))
	for col := range lost {
		if col < c.k {
			recovered[col] = dataResult[col]
		} else {
			recovered[col] = parityResult[col-c.k]
		}
	}
	return recovered, nil
}

// ErasurePatterns returns how many distinct m-column erasure patterns a
// stripe has, saturating at max.
func (c *Codec) ErasurePatterns(max uint64) uint64 {
	n, r := uint64(c.N()), uint64(c.m)
	if r > n-r {
		r = n - r
	}
	total := uint64(1)
	for i := uint64(1); i <= r; i++ {
		// total*(n-r+i)/i stays integral at every step.
		total = total * (n - r + i) / i
		if total > max {
			return max
		}
	}
	return total
}

// VerifyMDS checks that every choice of k generator rows is invertible,
// i.e. that any m lost columns can be rebuilt. It returns an error wrapping
// matrix.ErrSingular naming the first erasure pattern that cannot be
// decoded.
func (c *Codec) VerifyMDS() error {
	n := c.N()
	keep := make([]int, c.k)
	for i := range keep {
		keep[i] = i
	}

	for {
		sub, err := c.generator.SubRows(keep)
		if err != nil {
			return err
		}
		if _, err := matrix.Inverse(c.field, sub); err != nil {
			return fmt.Errorf("k=%d m=%d: erasure of columns %v: %w", c.k, c.m, complement(keep, n), err)
		}

		// Advance keep to the next k-combination of [0, n).
		i := c.k - 1
		for i >= 0 && keep[i] == n-c.k+i {
			i--
		}
		if i < 0 {
			return nil
		}
		keep[i]++
		for j := i + 1; j < c.k; j++ {
			keep[j] = keep[j-1] + 1
		}
	}
}

func complement(keep []int, n int) []int {
	in := make(map[int]bool, len(keep))
	for _, c := range keep {
		in[c] = true
	}
	var out []int
	for c := 0; c < n; c++ {
		if !in[c] {
			out = append(out, c)
		}
	}
	return out
}
