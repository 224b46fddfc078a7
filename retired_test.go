package qdrive

import (
	"testing"

	"github.com/gordian-engine/qdrive/qengine"
	"github.com/stretchr/testify/require"
)

func TestRetiredIDs_perType(t *testing.T) {
	t.Parallel()

	r := newRetiredIDs()

	r.add(1, true)
	r.add(8, false)

	require.True(t, r.has(1))
	require.True(t, r.has(8))

	// Same index, different types.
	require.False(t, r.has(0))
	require.False(t, r.has(5))
	require.False(t, r.has(9))
	require.False(t, r.has(11))
}

func TestRetiredIDs_refusedFarIDNotRecorded(t *testing.T) {
	t.Parallel()

	r := newRetiredIDs()
	r.add(1, true)

	far := qengine.StreamID(1<<32 + 1)
	r.add(far, false)

	require.False(t, r.has(far))
	require.True(t, r.has(1))

	for _, rr := range r.types {
		require.Zero(t, rr.base)
		require.LessOrEqual(t, rr.bits.Len(), uint(retiredWindow))
	}
}

func TestRetiredIDs_slide(t *testing.T) {
	t.Parallel()

	r := newRetiredIDs()

	// Two ids near the start, and one just past the window's second half.
	r.add(0, true)
	keep := qengine.StreamID(retiredWindow-4) << 2
	r.add(keep, true)

	next := qengine.StreamID(retiredWindow+100) << 2
	r.add(next, true)

	rr := r.types[0]
	require.Equal(t, uint(retiredWindow+100-retiredWindow/2), rr.base)
	require.LessOrEqual(t, rr.bits.Len(), uint(retiredWindow))

	require.True(t, r.has(next))
	require.True(t, r.has(keep))

	// Below the base counts as retired.
	require.True(t, r.has(0))
	require.True(t, r.has(4))

	// Within the window and never added.
	require.False(t, r.has(next-4))
	require.False(t, r.has(next+4))

	// Other types are unaffected.
	require.False(t, r.has(1))
}
