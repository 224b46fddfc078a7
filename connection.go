package qdrive

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"
)

// Connection summarizes a completed handshake.
//
// It performs no I/O itself; stream data moves through [*Stream] values.
// Requests that affect the connection, such as opening a stream,
// are forwarded to the [*Driver] goroutine.
//
// Create a Connection through [Connect] or [*Connecting.Handshake].
type Connection struct {
	anchor *anchor

	traceID string
	alpn    []byte
	resumed bool

	requests chan<- controlRequest
	done     <-chan struct{}

	closeOnce sync.Once
}

// TraceID returns the engine's identifier for this connection,
// suitable for correlating logs.
func (c *Connection) TraceID() string { return c.traceID }

// ALPN returns the negotiated application protocol.
func (c *Connection) ALPN() []byte { return bytes.Clone(c.alpn) }

// IsResumed reports whether the handshake resumed an earlier TLS session.
func (c *Connection) IsResumed() bool { return c.resumed }

// Done returns a channel that is closed when the driver stops.
// After that, no stream will receive more data.
func (c *Connection) Done() <-chan struct{} { return c.done }

// OpenStream opens a new locally-initiated bidirectional stream.
//
// The stream id is allocated and registered by the driver
// before OpenStream returns,
// so data written to the stream is sent in order
// from the first driver iteration onward.
func (c *Connection) OpenStream(ctx context.Context) (*Stream, error) {
	rep, err := c.request(ctx, controlRequest{kind: openStreamRequest})
	if err != nil {
		return nil, err
	}
	return rep.s, rep.err
}

// CloseWithError asks the engine to close the connection
// with the given application error code and reason.
// The driver keeps running until the engine finishes closing.
func (c *Connection) CloseWithError(ctx context.Context, code quic.ApplicationErrorCode, reason string) error {
	if (code >> 62) > 0 {
		panic(fmt.Errorf(
			"BUG: application error code must fit in 62 bits (got 0x%x)", uint64(code),
		))
	}

	rep, err := c.request(ctx, controlRequest{
		kind:   closeConnectionRequest,
		code:   code,
		reason: reason,
	})
	if err != nil {
		return err
	}
	return rep.err
}

func (c *Connection) request(ctx context.Context, req controlRequest) (controlReply, error) {
	req.reply = make(chan controlReply, 1)

	select {
	case <-ctx.Done():
		return controlReply{}, fmt.Errorf(
			"context canceled while waiting for driver: %w", context.Cause(ctx),
		)
	case <-c.done:
		return controlReply{}, ErrConnectionClosed
	case c.requests <- req:
		// The driver replies before it takes another request.
		return <-req.reply, nil
	}
}

// Close releases the Connection's hold on the connection.
// The driver stops once every handle has been closed.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.anchor.release)
	return nil
}

type requestKind uint8

const (
	openStreamRequest requestKind = iota
	closeConnectionRequest
)

// controlRequest is sent from application handles to the driver goroutine.
type controlRequest struct {
	kind requestKind

	// For closeConnectionRequest.
	code   quic.ApplicationErrorCode
	reason string

	reply chan controlReply
}

type controlReply struct {
	s   *Stream
	err error
}
