package stripe

import "errors"

var (
	// ErrUnrecoverable means more than m columns of a stripe are missing.
	ErrUnrecoverable = errors.New("stripe: unrecoverable, too many missing columns")

	// ErrInvalidParams reports an unusable (k, m) pair.
	ErrInvalidParams = errors.New("stripe: invalid coding parameters")
)
