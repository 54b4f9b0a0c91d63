package blockstore

import "errors"

// Block store error types.
var (
	ErrNotFound          = errors.New("block not found")
	ErrInsufficientSpace = errors.New("insufficient free space")
)
