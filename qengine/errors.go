package qengine

import (
	"errors"

	"github.com/quic-go/quic-go"
)

// WireCode returns the transport error code to carry
// in the CONNECTION_CLOSE frame sent because of err.
//
// Engines report protocol failures as [*quic.TransportError];
// anything else is reported to the peer as an internal error.
func WireCode(err error) quic.TransportErrorCode {
	var te *quic.TransportError
	if errors.As(err, &te) {
		return te.ErrorCode
	}
	return quic.InternalError
}

// IsSentinel reports whether err is one of the package's
// non-failure sentinels ([ErrDone], [ErrBufferTooShort]).
func IsSentinel(err error) bool {
	return errors.Is(err, ErrDone) || errors.Is(err, ErrBufferTooShort)
}
