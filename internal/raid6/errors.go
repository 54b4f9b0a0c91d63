package raid6

import (
	"errors"

	"github.com/tunnelmesh/raid6/internal/stripe"
)

// Controller error types. Lower-level sentinels stay reachable through
// errors.Is on the returned errors.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidNode      = errors.New("invalid node")
	ErrInvalidOptions   = errors.New("invalid options")
	ErrManifestMismatch = errors.New("store manifest mismatch")
	ErrClosed           = errors.New("store closed")
	ErrNoStore          = errors.New("no store at path")

	// ErrUnrecoverable is returned when a stripe lost more blocks than the
	// parity count.
	ErrUnrecoverable = stripe.ErrUnrecoverable
)
