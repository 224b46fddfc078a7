package qdrive

import (
	"errors"
	"sync/atomic"
)

// anchor is the connection's shared close signal.
//
// Every application handle holds one reference.
// When the last reference is released, fired is closed,
// telling the driver that nobody is interested in the connection anymore.
// Once fired, no new references can be acquired.
type anchor struct {
	refs  atomic.Int64
	fired chan struct{}
}

func newAnchor(refs int64) *anchor {
	if refs <= 0 {
		panic(errors.New("BUG: anchor must start with at least one reference"))
	}

	a := &anchor{fired: make(chan struct{})}
	a.refs.Store(refs)
	return a
}

// acquire adds a reference.
// It reports false if the anchor has already fired.
func (a *anchor) acquire() bool {
	for {
		n := a.refs.Load()
		if n <= 0 {
			return false
		}
		if a.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference, firing the anchor if it was the last one.
// Callers must release each acquired reference exactly once.
func (a *anchor) release() {
	n := a.refs.Add(-1)
	switch {
	case n == 0:
		close(a.fired)
	case n < 0:
		panic(errors.New("BUG: anchor released more times than acquired"))
	}
}

// Fired returns a channel that is closed when the last reference is released.
func (a *anchor) Fired() <-chan struct{} {
	return a.fired
}
