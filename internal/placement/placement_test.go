package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseRotation(t *testing.T) {
	r, err := ParseRotation("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRotation, r)

	r, err = ParseRotation("stride")
	require.NoError(t, err)
	assert.Equal(t, Stride, r)

	_, err = ParseRotation("diagonal")
	assert.ErrorIs(t, err, ErrUnknownRotation)
}

func TestNewRouter_Invalid(t *testing.T) {
	_, err := NewRouter(0, 2, Shift)
	assert.Error(t, err)
	_, err = NewRouter(4, 2, "bogus")
	assert.ErrorIs(t, err, ErrUnknownRotation)
}

func TestShift_KnownLayout(t *testing.T) {
	r, err := NewRouter(4, 2, Shift)
	require.NoError(t, err)

	// Stripe 0 is the identity layout.
	for c := 0; c < 6; c++ {
		assert.Equal(t, c, r.Node(c, 0))
	}
	// Stripe 1 moves every column one node to the left.
	assert.Equal(t, 5, r.Node(0, 1))
	assert.Equal(t, []int{3, 4}, r.ParityNodes(1))
	// Stripe n wraps around to the identity again.
	assert.Equal(t, 2, r.Node(2, 6))
}

func TestStride_KnownLayout(t *testing.T) {
	r, err := NewRouter(4, 2, Stride)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5}, r.ParityNodes(0))
	assert.Equal(t, []int{0, 1}, r.ParityNodes(1))
	assert.Equal(t, []int{2, 3}, r.ParityNodes(2))
	assert.Equal(t, 2, r.Node(0, 1))
}

func TestRouter_Bijection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		k := rapid.IntRange(1, 20).Draw(t, "k")
		m := rapid.IntRange(1, 6).Draw(t, "m")
		rot := rapid.SampledFrom([]Rotation{Shift, Stride}).Draw(t, "rotation")
		stripe := rapid.Int64Range(0, 1<<40).Draw(t, "stripe")

		r, err := NewRouter(k, m, rot)
		if err != nil {
			t.Fatalf("new router: %v", err)
		}

		seen := make(map[int]bool, r.N())
		for c := 0; c < r.N(); c++ {
			node := r.Node(c, stripe)
			if node < 0 || node >= r.N() {
				t.Fatalf("column %d -> node %d out of range", c, node)
			}
			if seen[node] {
				t.Fatalf("node %d used twice in stripe %d", node, stripe)
			}
			seen[node] = true
			if back := r.Column(node, stripe); back != c {
				t.Fatalf("Column(Node(%d)) = %d", c, back)
			}
		}
	})
}

func TestRouter_ParityBalanced(t *testing.T) {
	for _, rot := range []Rotation{Shift, Stride} {
		for _, cfg := range []struct{ k, m int }{{4, 2}, {3, 3}, {5, 2}, {6, 4}} {
			r, err := NewRouter(cfg.k, cfg.m, rot)
			require.NoError(t, err)

			n := r.N()
			load := make([]int, n)
			for s := int64(0); s < int64(n); s++ {
				for _, node := range r.ParityNodes(s) {
					load[node]++
				}
			}
			for node, l := range load {
				assert.Equal(t, cfg.m, l, "rotation=%s k=%d m=%d node=%d", rot, cfg.k, cfg.m, node)
			}
		}
	}
}
