// Package placement maps the logical columns of a stripe to physical nodes.
//
// The mapping rotates with the stripe index so that parity columns land on a
// different set of nodes from one stripe to the next, instead of pinning all
// parity traffic to the last m nodes. For any fixed stripe the mapping is a
// bijection over [0, k+m).
package placement

import (
	"errors"
	"fmt"
)

// Rotation names a rotation law. It is persisted with the store because it
// decides where every block lives.
type Rotation string

const (
	// Shift places column c of stripe s on node (c - s) mod n.
	Shift Rotation = "shift"

	// Stride places column c of stripe s on node (c + s*m) mod n.
	Stride Rotation = "stride"
)

// DefaultRotation is used when none is configured.
const DefaultRotation = Shift

// ErrUnknownRotation is returned for an unrecognized rotation name.
var ErrUnknownRotation = errors.New("placement: unknown rotation")

// ParseRotation validates a rotation name. The empty string selects the
// default.
func ParseRotation(s string) (Rotation, error) {
	switch Rotation(s) {
	case "":
		return DefaultRotation, nil
	case Shift, Stride:
		return Rotation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRotation, s)
	}
}

// Router is a pure function of (column, stripe) for fixed k, m and rotation.
type Router struct {
	k, m     int
	rotation Rotation
}

// NewRouter returns a router for k data and m parity columns.
func NewRouter(k, m int, rotation Rotation) (*Router, error) {
	if k < 1 || m < 1 {
		return nil, fmt.Errorf("placement: k and m must be >= 1, got k=%d m=%d", k, m)
	}
	if _, err := ParseRotation(string(rotation)); err != nil {
		return nil, err
	}
	if rotation == "" {
		rotation = DefaultRotation
	}
	return &Router{k: k, m: m, rotation: rotation}, nil
}

// N returns the number of nodes.
func (r *Router) N() int { return r.k + r.m }

// Rotation returns the rotation law in use.
func (r *Router) Rotation() Rotation { return r.rotation }

// offset is how far stripe s rotates columns to the right.
func (r *Router) offset(stripe int64) int64 {
	n := int64(r.N())
	switch r.rotation {
	case Stride:
		return mod(stripe%n*int64(r.m), n)
	default:
		return mod(-stripe, n)
	}
}

// Node returns the physical node holding logical column col of stripe.
func (r *Router) Node(col int, stripe int64) int {
	n := int64(r.N())
	return int(mod(int64(col)+r.offset(stripe), n))
}

// Column returns the logical column that node holds for stripe. It is the
// inverse of Node.
func (r *Router) Column(node int, stripe int64) int {
	n := int64(r.N())
	return int(mod(int64(node)-r.offset(stripe), n))
}

// IsParity reports whether a logical column holds parity.
func (r *Router) IsParity(col int) bool {
	return col >= r.k
}

// ParityNodes returns the nodes holding the parity columns of stripe, in
// column order.
func (r *Router) ParityNodes(stripe int64) []int {
	nodes := make([]int, r.m)
	for i := range nodes {
		nodes[i] = r.Node(r.k+i, stripe)
	}
	return nodes
}

func mod(a, n int64) int64 {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
