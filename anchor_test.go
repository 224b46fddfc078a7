package qdrive

import (
	"sync"
	"testing"

	"github.com/gordian-engine/qdrive/internal/qtest"
	"github.com/stretchr/testify/require"
)

func TestAnchor_firesOnLastRelease(t *testing.T) {
	t.Parallel()

	a := newAnchor(2)
	require.True(t, a.acquire())

	a.release()
	a.release()
	qtest.NotSending(t, a.Fired())

	a.release()
	qtest.IsSending(t, a.Fired())
}

func TestAnchor_noAcquireAfterFired(t *testing.T) {
	t.Parallel()

	a := newAnchor(1)
	a.release()

	require.False(t, a.acquire())
	qtest.IsSending(t, a.Fired())
}

func TestAnchor_overReleasePanics(t *testing.T) {
	t.Parallel()

	a := newAnchor(1)
	a.release()

	require.Panics(t, a.release)
}

func TestAnchor_concurrentReleaseFiresOnce(t *testing.T) {
	t.Parallel()

	const n = 64
	a := newAnchor(1)
	for range n - 1 {
		require.True(t, a.acquire())
	}

	// A double close of the fired channel would panic.
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			a.release()
		}()
	}
	wg.Wait()

	qtest.IsSending(t, a.Fired())
}
