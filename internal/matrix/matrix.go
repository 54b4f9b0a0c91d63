// Package matrix provides matrix algebra over a finite field whose elements
// fit in a byte. All arithmetic goes through the Field interface, so the same
// Gauss-Jordan code serves GF(2^8) and any other byte-sized field.
package matrix

import (
	"fmt"
	"strings"
)

// Field is the arithmetic a matrix needs from its element field.
type Field interface {
	Add(a, b byte) byte
	Sub(a, b byte) byte
	Mul(a, b byte) byte
	Div(a, b byte) (byte, error)
	Zero() byte
	One() byte
}

// Matrix is a dense row-major matrix of field elements.
type Matrix [][]byte

// New returns a rows×cols matrix filled with zero bytes.
func New(rows, cols int) Matrix {
	m := make(Matrix, rows)
	for i := range m {
		m[i] = make([]byte, cols)
	}
	return m
}

// Identity returns the n×n identity matrix of f.
func Identity(f Field, n int) Matrix {
	m := New(n, n)
	for i := range m {
		for j := range m[i] {
			m[i][j] = f.Zero()
		}
		m[i][i] = f.One()
	}
	return m
}

// Rows returns the number of rows.
func (m Matrix) Rows() int { return len(m) }

// Cols returns the number of columns of the first row, or 0 when empty.
func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// IsSquare reports whether the matrix has as many rows as columns.
func (m Matrix) IsSquare() bool {
	return m.Rows() == m.Cols()
}

// Clone returns a deep copy.
func (m Matrix) Clone() Matrix {
	c := make(Matrix, len(m))
	for i := range m {
		c[i] = append([]byte(nil), m[i]...)
	}
	return c
}

// Equal reports whether both matrices have the same shape and entries.
func (m Matrix) Equal(o Matrix) bool {
	if len(m) != len(o) {
		return false
	}
	for i := range m {
		if len(m[i]) != len(o[i]) {
			return false
		}
		for j := range m[i] {
			if m[i][j] != o[i][j] {
				return false
			}
		}
	}
	return true
}

// String renders the matrix one row per line.
func (m Matrix) String() string {
	var sb strings.Builder
	for i, row := range m {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprint(&sb, row)
	}
	return sb.String()
}

func (m Matrix) validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: empty matrix", ErrShapeMismatch)
	}
	cols := len(m[0])
	for i := range m {
		if len(m[i]) != cols {
			return fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, i, len(m[i]), cols)
		}
	}
	return nil
}

// SubRows returns a matrix made of the listed rows, in the listed order.
// Rows are shared with m, not copied.
func (m Matrix) SubRows(rows []int) (Matrix, error) {
	out := make(Matrix, len(rows))
	for i, r := range rows {
		if r < 0 || r >= len(m) {
			return nil, fmt.Errorf("%w: row %d out of range [0,%d)", ErrShapeMismatch, r, len(m))
		}
		out[i] = m[r]
	}
	return out, nil
}

// Transpose returns mᵗ.
func Transpose(m Matrix) Matrix {
	t := New(m.Cols(), m.Rows())
	for i := range m {
		for j := range m[i] {
			t[j][i] = m[i][j]
		}
	}
	return t
}

// Dot returns the inner product of u and v.
func Dot(f Field, u, v []byte) (byte, error) {
	if len(u) != len(v) {
		return 0, fmt.Errorf("%w: vectors of length %d and %d", ErrShapeMismatch, len(u), len(v))
	}
	sum := f.Zero()
	for i := range u {
		sum = f.Add(sum, f.Mul(u[i], v[i]))
	}
	return sum, nil
}

// Mul returns the product a×b.
func Mul(f Field, a, b Matrix) (Matrix, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	n := a.Cols()
	if b.Rows() != n {
		return nil, fmt.Errorf("%w: %d×%d times %d×%d", ErrShapeMismatch, a.Rows(), n, b.Rows(), b.Cols())
	}

	p := b.Cols()
	c := New(a.Rows(), p)
	for i := range a {
		row := c[i]
		for j := range row {
			row[j] = f.Zero()
		}
		// Walk b row-wise so long block rows stay sequential in memory.
		for k := 0; k < n; k++ {
			coef := a[i][k]
			if coef == f.Zero() {
				continue
			}
			bk := b[k]
			for j := 0; j < p; j++ {
				row[j] = f.Add(row[j], f.Mul(coef, bk[j]))
			}
		}
	}
	return c, nil
}

// Inverse returns the inverse of a square matrix using Gauss-Jordan
// elimination over f. A non-square a is handled by inverting aᵗ·a and
// multiplying the result by aᵗ, which yields a left inverse when aᵗ·a is
// invertible in f.
func Inverse(f Field, a Matrix) (Matrix, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if a.IsSquare() {
		return gaussJordan(f, a)
	}

	at := Transpose(a)
	ata, err := Mul(f, at, a)
	if err != nil {
		return nil, err
	}
	inv, err := gaussJordan(f, ata)
	if err != nil {
		return nil, err
	}
	return Mul(f, inv, at)
}

func gaussJordan(f Field, a Matrix) (Matrix, error) {
	n := a.Rows()

	// Augment [a | I].
	aug := New(n, 2*n)
	for i := 0; i < n; i++ {
		copy(aug[i], a[i])
		for j := n; j < 2*n; j++ {
			aug[i][j] = f.Zero()
		}
		aug[i][n+i] = f.One()
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if aug[r][col] != f.Zero() {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, fmt.Errorf("%w: no pivot in column %d", ErrSingular, col)
		}
		if pivot != col {
			aug[col], aug[pivot] = aug[pivot], aug[col]
		}

		p := aug[col][col]
		for j := range aug[col] {
			v, err := f.Div(aug[col][j], p)
			if err != nil {
				return nil, fmt.Errorf("normalize row %d: %w", col, err)
			}
			aug[col][j] = v
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := aug[r][col]
			if factor == f.Zero() {
				continue
			}
			for j := range aug[r] {
				aug[r][j] = f.Sub(aug[r][j], f.Mul(factor, aug[col][j]))
			}
		}
	}

	inv := New(n, n)
	for i := range inv {
		copy(inv[i], aug[i][n:])
	}
	return inv, nil
}
