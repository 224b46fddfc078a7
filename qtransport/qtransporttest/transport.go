// Package qtransporttest provides an in-memory [qtransport.Transport].
package qtransporttest

import (
	"bytes"
	"os"
	"sync"
	"time"

	"github.com/gordian-engine/qdrive/qtransport"
)

// Transport is an in-memory transport.
// Tests deliver inbound datagrams with [*Transport.Deliver]
// and inspect everything written with [*Transport.Written].
type Transport struct {
	mu sync.Mutex

	inbound [][]byte
	readErr error

	// One-slot signal for blocked readers.
	readSignal chan struct{}

	// Closed once the read deadline passes; nil without a deadline.
	deadlineCh    chan struct{}
	deadlineTimer *time.Timer

	written []byte
	writes  int

	// Negative means unlimited.
	writeBudget int
	writeErr    error

	writeSignal chan struct{}
}

var _ qtransport.Transport = (*Transport)(nil)

// New returns a transport with nothing to read and no write limit.
func New() *Transport {
	return &Transport{
		readSignal:  make(chan struct{}, 1),
		writeBudget: -1,
		writeSignal: make(chan struct{}, 1),
	}
}

// Read implements [qtransport.Transport].
// Each call returns one delivered datagram, truncated to len(p).
func (t *Transport) Read(p []byte) (int, error) {
	for {
		t.mu.Lock()
		if t.readErr != nil {
			err := t.readErr
			t.mu.Unlock()
			return 0, err
		}

		deadline := t.deadlineCh
		select {
		case <-deadline:
			t.mu.Unlock()
			return 0, os.ErrDeadlineExceeded
		default:
		}

		if len(t.inbound) > 0 {
			n := copy(p, t.inbound[0])
			t.inbound = t.inbound[1:]
			t.mu.Unlock()
			return n, nil
		}
		t.mu.Unlock()

		select {
		case <-t.readSignal:
		case <-deadline:
		}
	}
}

// Write implements [qtransport.Transport].
func (t *Transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.writeErr != nil {
		return 0, t.writeErr
	}

	n := len(p)
	if t.writeBudget >= 0 && n > t.writeBudget {
		n = t.writeBudget
	}
	if n == 0 && len(p) > 0 {
		return 0, qtransport.ErrWouldBlock
	}

	t.written = append(t.written, p[:n]...)
	t.writes++
	if t.writeBudget >= 0 {
		t.writeBudget -= n
	}

	select {
	case t.writeSignal <- struct{}{}:
	default:
	}

	if n < len(p) {
		return n, qtransport.ErrWouldBlock
	}
	return n, nil
}

// SetReadDeadline implements [qtransport.Transport].
func (t *Transport) SetReadDeadline(at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.deadlineTimer != nil {
		t.deadlineTimer.Stop()
		t.deadlineTimer = nil
	}

	if at.IsZero() {
		t.deadlineCh = nil
	} else {
		ch := make(chan struct{})
		if d := time.Until(at); d <= 0 {
			close(ch)
		} else {
			t.deadlineTimer = time.AfterFunc(d, func() { close(ch) })
		}
		t.deadlineCh = ch
	}

	// Blocked readers must pick up the new deadline channel.
	t.signalRead()
	return nil
}

func (t *Transport) signalRead() {
	select {
	case t.readSignal <- struct{}{}:
	default:
	}
}

// Deliver queues p to be returned by a future Read.
func (t *Transport) Deliver(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.inbound = append(t.inbound, bytes.Clone(p))
	t.signalRead()
}

// FailReads makes every subsequent Read return err.
func (t *Transport) FailReads(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readErr = err
	t.signalRead()
}

// FailWrites makes every subsequent Write return err.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// SetWriteBudget limits how many more bytes Write accepts
// before reporting [qtransport.ErrWouldBlock].
// A negative n removes the limit.
func (t *Transport) SetWriteBudget(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeBudget = n
}

// Written returns a copy of every byte accepted by Write.
func (t *Transport) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.written)
}

// WriteCount returns how many Write calls accepted at least one byte.
func (t *Transport) WriteCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writes
}

// WriteSignal returns a channel that is ready after any accepted write.
func (t *Transport) WriteSignal() <-chan struct{} {
	return t.writeSignal
}
