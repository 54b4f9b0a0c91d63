package galois

import "errors"

// ErrDivisionByZero is returned when dividing by the zero element. Reaching
// it from the codec means an algorithm bug, not a data problem.
var ErrDivisionByZero = errors.New("galois: division by zero")
