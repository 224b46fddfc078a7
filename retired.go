package qdrive

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/gordian-engine/qdrive/qengine"
)

// retiredWindow is how many ids of one stream type
// the retired set tracks at once.
const retiredWindow = 1 << 16

// retiredIDs records stream ids that must not be admitted again:
// their table entry was removed, or they were refused.
//
// Ids are kept per stream type (the low two bits of the id),
// indexed by id>>2 relative to a base,
// so memory is bounded by retiredWindow rather than by the largest id seen.
// Ids below the base are treated as retired.
type retiredIDs struct {
	types [4]retiredRange
}

type retiredRange struct {
	base uint
	bits *bitset.BitSet
}

func newRetiredIDs() *retiredIDs {
	r := new(retiredIDs)
	for i := range r.types {
		r.types[i].bits = bitset.New(0)
	}
	return r
}

// has reports whether id was retired.
func (r *retiredIDs) has(id qengine.StreamID) bool {
	rr := &r.types[id&0x3]
	i := uint(id >> 2)
	if i < rr.base {
		return true
	}
	return rr.bits.Test(i - rr.base)
}

// add records id.
//
// An id beyond the window moves the window forward when slide is set.
// Without slide such an id is not recorded at all;
// refused ids use this, since a peer-chosen id must not be able
// to move the window past streams that were never seen.
func (r *retiredIDs) add(id qengine.StreamID, slide bool) {
	rr := &r.types[id&0x3]
	i := uint(id >> 2)
	if i < rr.base {
		return
	}

	if i-rr.base >= retiredWindow {
		if !slide {
			return
		}
		rr.slide(i - retiredWindow/2)
	}

	rr.bits.Set(i - rr.base)
}

// slide moves the base to newBase, keeping the ids at or above it.
func (rr *retiredRange) slide(newBase uint) {
	nb := bitset.New(retiredWindow)
	for j, ok := rr.bits.NextSet(0); ok; j, ok = rr.bits.NextSet(j + 1) {
		if abs := rr.base + j; abs >= newBase {
			nb.Set(abs - newBase)
		}
	}

	rr.base = newBase
	rr.bits = nb
}
