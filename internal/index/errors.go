package index

import "errors"

// Index error types.
var (
	ErrNotFound         = errors.New("object not found")
	ErrExists           = errors.New("object already exists")
	ErrInvalidName      = errors.New("invalid object name")
	ErrStaleReservation = errors.New("reservation no longer starts at the cursor")
)
