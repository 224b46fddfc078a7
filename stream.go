package qdrive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/gordian-engine/qdrive/internal/qchan"
	"github.com/gordian-engine/qdrive/qengine"
)

// Stream is the application's end of one QUIC stream.
//
// Streams come from [*Incoming.Accept] (opened by the peer)
// or [*Connection.OpenStream] (opened locally).
// Every Stream holds a reference on its connection,
// so it must be closed with [*Stream.Close] when no longer needed.
//
// Reads must not be called concurrently with each other;
// writes and Close may be called from any goroutine.
type Stream struct {
	id qengine.StreamID

	// Driver to application.
	in *qchan.Unbounded[message]

	// Application to driver.
	out *qchan.Unbounded[message]

	wake   func()
	anchor *anchor

	// Unread remainder of the last chunk consumed by Read.
	buf []byte
	eof bool

	writeMu     sync.Mutex
	writeClosed bool

	closeOnce sync.Once
}

// ID returns the QUIC stream id.
func (s *Stream) ID() qengine.StreamID {
	return s.id
}

// ReadChunk returns the next chunk of stream data,
// in the order the engine delivered it.
// It returns [io.EOF] after the final chunk,
// or when the stream or connection was closed.
func (s *Stream) ReadChunk(ctx context.Context) ([]byte, error) {
	if len(s.buf) > 0 {
		b := s.buf
		s.buf = nil
		return b, nil
	}

	for !s.eof {
		m, err := s.in.Pop(ctx)
		if err != nil {
			if errors.Is(err, qchan.ErrClosed) {
				s.eof = true
				break
			}
			return nil, err
		}

		if m.kind == endMessage {
			s.eof = true
		}
		if len(m.data) > 0 {
			return m.data, nil
		}
	}

	return nil, io.EOF
}

// Read implements [io.Reader], blocking until data is available.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b, err := s.ReadChunk(context.Background())
	if err != nil {
		return 0, err
	}

	n := copy(p, b)
	if n < len(b) {
		s.buf = b[n:]
	}
	return n, nil
}

// Write queues a copy of p for sending.
// It never blocks on the network;
// data is handed to the engine by the driver as flow control allows.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeClosed {
		return 0, ErrStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !s.out.Push(message{kind: bytesMessage, data: bytes.Clone(p)}) {
		return 0, ErrStreamClosed
	}
	s.wake()
	return len(p), nil
}

// CloseWrite ends the sending direction after all queued data.
// The stream can still be read.
func (s *Stream) CloseWrite() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeClosed {
		return ErrStreamClosed
	}
	s.writeClosed = true

	if !s.out.Push(message{kind: endMessage}) {
		return ErrStreamClosed
	}
	s.wake()
	return nil
}

// Close abandons the stream and releases its hold on the connection.
//
// Directions that have not completed are shut down in the engine,
// so data still queued behind flow control may be discarded;
// call CloseWrite first to end the stream gracefully.
// Close is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.writeClosed = true
		s.writeMu.Unlock()

		// Best effort: if the driver already let go of the stream,
		// there is nobody to tell.
		_ = s.out.Push(message{kind: closeMessage})
		s.out.Close()
		s.in.Close()

		s.wake()
		s.anchor.release()
	})
	return nil
}

// discard releases a stream that never reached the application.
func (s *Stream) discard() {
	s.closeOnce.Do(func() {
		s.out.Close()
		s.in.Close()
		s.anchor.release()
	})
}
