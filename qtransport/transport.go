// Package qtransport declares the byte pipe a driven QUIC connection runs over.
package qtransport

import (
	"errors"
	"os"
	"time"
)

// Transport carries the engine's packets to and from the peer.
//
// It is treated as a lossy byte pipe:
// each Read returns whatever the peer sent next,
// and a Write may accept only part of p.
// A connected UDP [net.Conn] satisfies Transport.
//
// Read is only ever called from one goroutine, and Write from another.
type Transport interface {
	// Read blocks until data arrives.
	// Any error is fatal to the connection.
	Read(p []byte) (int, error)

	// Write sends a prefix of p.
	// An error matching [IsWouldBlock] means the transport cannot
	// accept more right now and the write should be retried later;
	// any other error is fatal to the connection.
	Write(p []byte) (int, error)

	// SetReadDeadline is used to interrupt a blocked Read
	// when the connection shuts down.
	SetReadDeadline(t time.Time) error
}

// ErrWouldBlock may be returned from [Transport.Write]
// by transports with bounded send queues.
var ErrWouldBlock = errors.New("qtransport: write would block")

// IsWouldBlock reports whether a Write error only means
// the transport is not ready to accept more data.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, os.ErrDeadlineExceeded)
}
