package qtest_test

import (
	"bytes"
	"testing"

	"github.com/gordian-engine/qdrive/internal/qtest"
	"github.com/stretchr/testify/require"
)

func TestRandomDataForTest_deterministic(t *testing.T) {
	t.Parallel()

	a := qtest.RandomDataForTest(t, 1024)
	b := qtest.RandomDataForTest(t, 1024)
	require.Equal(t, a, b)

	// Rand shares the seed but is an independent stream.
	require.Equal(t, qtest.Rand(t).Uint64(), qtest.Rand(t).Uint64())

	var sub []byte
	t.Run("other name", func(t *testing.T) {
		sub = qtest.RandomDataForTest(t, 1024)
	})
	require.NotEqual(t, a, sub)
}

func TestSplitRandomly(t *testing.T) {
	t.Parallel()

	data := qtest.RandomDataForTest(t, 4096)
	chunks := qtest.SplitRandomly(qtest.Rand(t), data, 100)

	for _, c := range chunks {
		require.NotEmpty(t, c)
		require.LessOrEqual(t, len(c), 100)
	}
	require.Equal(t, data, bytes.Join(chunks, nil))
}
