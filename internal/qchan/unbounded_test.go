package qchan_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gordian-engine/qdrive/internal/qchan"
	"github.com/gordian-engine/qdrive/internal/qtest"
	"github.com/stretchr/testify/require"
)

func TestUnbounded_fifo(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[int]()
	for i := range 100 {
		require.True(t, q.Push(i))
	}
	require.Equal(t, 100, q.Len())

	for i := range 100 {
		v, ok := q.TryPop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestUnbounded_Pop_blocksUntilPush(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[string]()

	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			panic(err)
		}
		got <- v
	}()

	qtest.NotSending(t, got)

	require.True(t, q.Push("hello"))
	require.Equal(t, "hello", qtest.ReceiveSoon(t, got))
}

func TestUnbounded_Close_keepsQueuedValues(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[int]()
	require.True(t, q.Push(1))
	q.Close()
	q.Close() // Idempotent.

	require.True(t, q.Closed())
	require.False(t, q.Push(2))

	ctx := context.Background()
	v, err := q.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, v)

	_, err = q.Pop(ctx)
	require.ErrorIs(t, err, qchan.ErrClosed)

	qtest.IsSending(t, q.Done())
}

func TestUnbounded_Close_wakesBlockedPop(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[int]()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background())
		errs <- err
	}()

	qtest.NotSending(t, errs)
	q.Close()

	require.ErrorIs(t, qtest.ReceiveSoon(t, errs), qchan.ErrClosed)
}

func TestUnbounded_Pop_contextCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("gave up")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	q := qchan.NewUnbounded[int]()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, cause)
}

func TestUnbounded_Drain(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[int]()
	q.Push(1)
	q.Push(2)

	require.Equal(t, []int{1, 2}, q.Drain())
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}

func TestUnbounded_multipleConsumers(t *testing.T) {
	t.Parallel()

	q := qchan.NewUnbounded[int]()

	ctx, cancel := context.WithTimeout(context.Background(), qtest.ScheduleTimeout)
	defer cancel()

	const n = 50
	got := make(chan int, n)
	for range 4 {
		go func() {
			for {
				v, err := q.Pop(ctx)
				if err != nil {
					return
				}
				got <- v
			}
		}()
	}

	// Give the consumers a chance to block first.
	time.Sleep(5 * time.Millisecond)
	for i := range n {
		q.Push(i)
	}

	seen := make(map[int]bool, n)
	for range n {
		seen[qtest.ReceiveSoon(t, got)] = true
	}
	require.Len(t, seen, n)

	q.Close()
}
