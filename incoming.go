package qdrive

import (
	"context"
	"errors"
	"io"
	"iter"
	"sync"

	"github.com/gordian-engine/qdrive/internal/qchan"
)

// Incoming yields the streams opened by the peer.
//
// Close it once no more peer streams are wanted;
// later peer streams are then refused in the engine instead of queueing.
type Incoming struct {
	anchor *anchor

	q *qchan.Unbounded[*Stream]

	closeOnce sync.Once
}

// Accept returns the next stream opened by the peer.
// It returns [io.EOF] once the connection will deliver no more streams.
func (i *Incoming) Accept(ctx context.Context) (*Stream, error) {
	s, err := i.q.Pop(ctx)
	if err != nil {
		if errors.Is(err, qchan.ErrClosed) {
			return nil, io.EOF
		}
		return nil, err
	}
	return s, nil
}

// Streams returns the accepted streams as a sequence,
// which ends when the connection stops delivering streams
// or ctx is canceled.
func (i *Incoming) Streams(ctx context.Context) iter.Seq[*Stream] {
	return func(yield func(*Stream) bool) {
		for {
			s, err := i.Accept(ctx)
			if err != nil {
				return
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Close stops accepting peer streams,
// closes any that were delivered but never accepted,
// and releases the hold on the connection.
func (i *Incoming) Close() error {
	i.closeOnce.Do(func() {
		i.q.Close()
		for _, s := range i.q.Drain() {
			_ = s.Close()
		}
		i.anchor.release()
	})
	return nil
}
