// Package qengine declares the contract between the connection driver
// and a sans-I/O QUIC protocol engine.
//
// The engine owns every protocol concern:
// cryptographic handshake, congestion control, loss recovery and flow control.
// It never performs I/O itself.
// The driver feeds it datagrams with [Engine.Recv],
// collects outgoing packets with [Engine.Send],
// and moves application bytes with the per-stream methods.
//
// Engine implementations are not safe for concurrent use;
// the driver guarantees a single goroutine calls them.
package qengine

import (
	"errors"
	"time"

	"github.com/quic-go/quic-go"
)

// ErrDone is returned by engine methods when there is no more work to do:
// nothing to send, nothing more to process, or no stream data ready.
// It is a sentinel, not a failure.
var ErrDone = errors.New("qengine: done")

// ErrBufferTooShort is returned from [Engine.Send]
// when the next packet does not fit in the provided buffer.
// The caller is expected to retry with more room.
var ErrBufferTooShort = errors.New("qengine: buffer too short")

// StreamID identifies a QUIC stream.
// The two low bits encode the initiator and directionality,
// as defined in RFC 9000 section 2.1.
type StreamID = quic.StreamID

// Shutdown selects a direction of a stream for [Engine.StreamShutdown].
type Shutdown uint8

const (
	// ShutdownRead stops receiving on a stream (STOP_SENDING).
	ShutdownRead Shutdown = iota

	// ShutdownWrite abandons sending on a stream (RESET_STREAM).
	ShutdownWrite
)

func (s Shutdown) String() string {
	switch s {
	case ShutdownRead:
		return "read"
	case ShutdownWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Engine is a sans-I/O QUIC connection.
type Engine interface {
	// Recv processes one chunk of bytes received from the transport.
	// It returns ErrDone when there was nothing to process.
	Recv(p []byte) (int, error)

	// Send writes the next outgoing packet into p.
	// It returns ErrDone when there is nothing to send now,
	// or ErrBufferTooShort when the packet does not fit in p.
	Send(p []byte) (int, error)

	// Timeout returns how long until the engine
	// wants OnTimeout called, if it wants it at all.
	Timeout() (time.Duration, bool)

	// OnTimeout lets the engine react to expired idle or loss timers.
	OnTimeout()

	IsEstablished() bool
	IsClosed() bool

	// IsServer reports whether this side accepted the connection,
	// which determines which stream ids are peer-initiated.
	IsServer() bool

	// Close starts closing the connection,
	// sending a CONNECTION_CLOSE with the given code and reason.
	// If app is true, code is an application error code,
	// otherwise a transport error code.
	// Close returns ErrDone if the connection is already closing.
	Close(app bool, code uint64, reason []byte) error

	// Readable returns the ids of streams that have data
	// or a final size ready to be read.
	Readable() []StreamID

	// StreamRecv reads buffered stream data into p.
	// fin reports whether the peer's final byte has now been read.
	// It returns ErrDone if no data is ready.
	StreamRecv(id StreamID, p []byte) (n int, fin bool, err error)

	// StreamSend queues p on the stream, ending the stream if fin is set.
	// It may accept fewer than len(p) bytes under flow control;
	// it returns ErrDone if it cannot accept any.
	// A fin is only recorded when every byte of p is accepted.
	StreamSend(id StreamID, p []byte, fin bool) (int, error)

	// StreamShutdown abandons one direction of a stream.
	StreamShutdown(id StreamID, dir Shutdown, code quic.StreamErrorCode) error

	// StreamFinished reports whether the stream is complete in both directions
	// and its state may be released.
	StreamFinished(id StreamID) bool

	TraceID() string
	ApplicationProto() []byte
	IsResumed() bool
}
