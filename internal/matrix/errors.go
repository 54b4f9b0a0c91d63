package matrix

import "errors"

var (
	// ErrShapeMismatch reports incompatible or ragged matrix dimensions.
	ErrShapeMismatch = errors.New("matrix: shape mismatch")

	// ErrSingular reports that no nonzero pivot exists during inversion.
	ErrSingular = errors.New("matrix: singular")
)
