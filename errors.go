package qdrive

import "errors"

// ErrStreamClosed is returned from [*Stream] writes
// after the stream was closed locally or the connection's driver stopped,
// and on unidirectional streams opened by the peer, which cannot be written.
var ErrStreamClosed = errors.New("stream closed")

// ErrConnectionClosed is returned from [*Connection] requests
// once the connection's driver has stopped.
var ErrConnectionClosed = errors.New("connection closed")

// HandshakeError is returned from [*Connecting.Handshake]
// when the handshake cannot complete.
//
// It unwraps to the underlying cause:
// [io.ErrUnexpectedEOF] when the engine closed before establishing,
// a transport error, or the context's cause.
type HandshakeError struct {
	Err error
}

func (e HandshakeError) Error() string {
	return "QUIC handshake failed: " + e.Err.Error()
}

func (e HandshakeError) Unwrap() error {
	return e.Err
}
