package qdrive

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordian-engine/qdrive/qengine"
	"github.com/gordian-engine/qdrive/qtransport"
	"github.com/quic-go/quic-go"
)

// closeReason is sent to the peer when the engine reports an error.
const closeReason = "fail"

// inner owns one transport and one engine,
// and pumps packets and timer events between them.
//
// Only the goroutine that owns inner (the handshake caller, then the driver)
// may call its methods.
// The exception is readLoop, which only touches the transport's read side
// and recvBuf, and only while the owner is not using recvBuf.
type inner struct {
	log *slog.Logger

	t qtransport.Transport
	e qengine.Engine

	// Retransmission timer, nil when the engine wants no timeout.
	timer *time.Timer

	// Set when the owner consumed a tick from timer.C while waiting.
	timerFired bool

	// Staging buffer for outgoing packets.
	// Invariant: sendPos <= sendEnd <= len(sendBuf).
	// Bytes in sendBuf[sendPos:sendEnd] are produced but not yet written.
	// While sendFlush is set, the whole range must be written
	// before the engine may produce more.
	sendBuf   []byte
	sendPos   int
	sendEnd   int
	sendFlush bool

	// Set when the last transport write would have blocked.
	writeBlocked bool
	retryTimer   *time.Timer
	retryDelay   time.Duration

	// Set when a close was initiated during the current cycle,
	// so the owner polls again before sleeping.
	repoll bool

	// Single receive buffer, handed back and forth with readLoop.
	recvBuf []byte
	reads   chan readResult
	readAck chan struct{}

	// A read taken off the reads channel while waiting, not yet processed.
	pending    readResult
	hasPending bool

	stopReader chan struct{}
	readerDone chan struct{}
	stopped    bool
}

// readResult is what readLoop hands to the owner.
// On success, the data is in recvBuf[:n].
type readResult struct {
	n   int
	err error
}

func newInner(log *slog.Logger, t qtransport.Transport, e qengine.Engine, cfg Config) *inner {
	in := &inner{
		log: log,

		t: t,
		e: e,

		sendBuf:    make([]byte, cfg.SendBufferSize),
		retryDelay: cfg.WriteRetryInterval,

		recvBuf: make([]byte, cfg.RecvBufferSize),
		reads:   make(chan readResult),

		// Buffered so that releasing the buffer never blocks the owner.
		readAck: make(chan struct{}, 1),

		stopReader: make(chan struct{}),
		readerDone: make(chan struct{}),
	}

	go in.readLoop()

	return in
}

// readLoop blocks on transport reads
// and hands each result to the owner,
// waiting for the buffer to be released before reading again.
func (in *inner) readLoop() {
	defer close(in.readerDone)

	for {
		n, err := in.t.Read(in.recvBuf)

		select {
		case <-in.stopReader:
			return
		case in.reads <- readResult{n: n, err: err}:
		}

		if err != nil {
			return
		}

		select {
		case <-in.stopReader:
			return
		case <-in.readAck:
		}
	}
}

// stop shuts down the reader goroutine and timers.
// It is safe to call more than once.
func (in *inner) stop() {
	if in.stopped {
		return
	}
	in.stopped = true

	close(in.stopReader)

	// Unblock a Read in progress.
	if err := in.t.SetReadDeadline(time.Now()); err != nil {
		in.log.Debug("Failed to interrupt transport read", "err", err)
	}
	<-in.readerDone

	if in.timer != nil {
		in.timer.Stop()
		in.timer = nil
	}
	if in.retryTimer != nil {
		in.retryTimer.Stop()
	}
}

// pollComplete runs one full bookkeeping cycle:
// timer expiry, timer re-arm, receive pass, send pass.
// It reports true once the engine is closed.
// A non-nil error is a fatal transport failure.
func (in *inner) pollComplete() (bool, error) {
	if in.takeTimerFired() {
		in.e.OnTimeout()
	}

	in.armTimer()

	if _, err := in.pollRecv(); err != nil {
		return false, err
	}
	if _, err := in.pollSend(); err != nil {
		return false, err
	}

	// Sending the first packets of a flight usually arms a loss timer;
	// pick that up before the owner goes to sleep.
	in.armTimer()

	return in.e.IsClosed(), nil
}

func (in *inner) takeTimerFired() bool {
	if in.timer == nil {
		return false
	}
	if in.timerFired {
		in.timerFired = false
		return true
	}

	select {
	case <-in.timer.C:
		return true
	default:
		return false
	}
}

// armTimer reschedules, allocates, or cancels the retransmission timer
// according to the engine's next desired timeout.
func (in *inner) armTimer() {
	d, ok := in.e.Timeout()
	if !ok {
		if in.timer != nil {
			in.timer.Stop()
			in.timer = nil
		}
		in.timerFired = false
		return
	}

	if in.timerFired {
		// The engine has not been told about this expiry yet.
		// Leave it in place for the next cycle.
		return
	}

	if in.timer == nil {
		in.timer = time.NewTimer(d)
	} else {
		// With Go 1.23 timers, Reset also discards any stale tick.
		in.timer.Reset(d)
	}
}

// pollSend produces outgoing packets and flushes them to the transport.
// It reports true once the engine has nothing more to send.
// It reports false without error when the transport would block
// or when an engine error started closing the connection.
func (in *inner) pollSend() (bool, error) {
	for {
		if in.sendFlush {
			for in.sendPos < in.sendEnd {
				ok, err := in.write()
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}

			in.sendPos = 0
			in.sendEnd = 0
			in.sendFlush = false
		}

		n, err := in.e.Send(in.sendBuf[in.sendEnd:])
		switch {
		case err == nil:
			in.sendEnd += n
			in.sendFlush = in.sendEnd == len(in.sendBuf)

		case errors.Is(err, qengine.ErrDone):
			// Bytes may still be staged from an earlier blocked write.
			for in.sendPos < in.sendEnd {
				ok, err := in.write()
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil

		case errors.Is(err, qengine.ErrBufferTooShort):
			if in.sendEnd == 0 {
				// Even the whole buffer is too small; retrying would spin forever.
				err = fmt.Errorf(
					"engine packet exceeds %d-byte send buffer: %w",
					len(in.sendBuf), &quic.TransportError{ErrorCode: quic.InternalError},
				)
				if cerr := in.closeOnError(err); cerr != nil {
					return false, cerr
				}
				return false, nil
			}

			// Drain what is staged so the engine gets the whole buffer next time.
			in.sendFlush = true
			continue

		default:
			if cerr := in.closeOnError(err); cerr != nil {
				return false, cerr
			}
			return false, nil
		}

		if in.sendPos < in.sendEnd {
			ok, err := in.write()
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
}

// write attempts one transport write of the staged range.
// It reports false if the transport would block.
func (in *inner) write() (bool, error) {
	n, err := in.t.Write(in.sendBuf[in.sendPos:in.sendEnd])
	in.sendPos += n

	if err != nil {
		if qtransport.IsWouldBlock(err) {
			in.writeBlocked = true
			return false, nil
		}
		return false, fmt.Errorf("failed to write to transport: %w", err)
	}

	in.writeBlocked = false
	return true, nil
}

// pollRecv feeds every available transport read to the engine.
// It reports true when the engine says there is nothing more to process,
// and false when no more reads are ready
// or an engine error started closing the connection.
func (in *inner) pollRecv() (bool, error) {
	for {
		r, ok := in.nextRead()
		if !ok {
			return false, nil
		}
		if r.err != nil {
			return false, fmt.Errorf("failed to read from transport: %w", r.err)
		}

		_, err := in.e.Recv(in.recvBuf[:r.n])
		in.releaseRead()

		if err == nil {
			continue
		}
		if errors.Is(err, qengine.ErrDone) {
			return true, nil
		}

		if cerr := in.closeOnError(err); cerr != nil {
			return false, cerr
		}
		return false, nil
	}
}

// nextRead returns the next completed transport read, without blocking.
// A read error stays pending so that it is reported on every later call.
func (in *inner) nextRead() (readResult, bool) {
	if in.hasPending {
		return in.pending, true
	}

	select {
	case r := <-in.reads:
		in.pending = r
		in.hasPending = true
		return r, true
	default:
		return readResult{}, false
	}
}

// releaseRead hands recvBuf back to readLoop.
func (in *inner) releaseRead() {
	in.hasPending = false
	in.readAck <- struct{}{}
}

// closeOnError tells the engine to close the connection because of err.
// The engine error itself is not fatal to the pump;
// it becomes visible through IsClosed.
func (in *inner) closeOnError(err error) error {
	code := qengine.WireCode(err)
	in.log.Info("Closing connection due to engine error", "err", err, "code", code)

	in.repoll = true

	cerr := in.e.Close(false, uint64(code), []byte(closeReason))
	if cerr == nil || errors.Is(cerr, qengine.ErrDone) {
		return nil
	}
	return fmt.Errorf("failed to close connection after engine error %v: %w", err, cerr)
}

// The following methods support the owner's wait loop.
// Each returns a nil channel when there is nothing to wait for,
// which a select statement never chooses.

// readReady returns the channel of transport reads.
func (in *inner) readReady() <-chan readResult {
	if in.hasPending {
		return nil
	}
	return in.reads
}

// stashRead records a read received while waiting.
func (in *inner) stashRead(r readResult) {
	in.pending = r
	in.hasPending = true
}

// timerReady returns the retransmission timer's channel.
func (in *inner) timerReady() <-chan time.Time {
	if in.timer == nil || in.timerFired {
		return nil
	}
	return in.timer.C
}

// markTimerFired records a tick received while waiting.
func (in *inner) markTimerFired() {
	in.timerFired = true
}

// retryReady returns a channel that fires when a blocked write should be retried.
func (in *inner) retryReady() <-chan time.Time {
	if !in.writeBlocked {
		return nil
	}

	if in.retryTimer == nil {
		in.retryTimer = time.NewTimer(in.retryDelay)
	} else {
		in.retryTimer.Reset(in.retryDelay)
	}
	return in.retryTimer.C
}

// needsPoll reports whether the owner should run another cycle
// without waiting, clearing the flag.
func (in *inner) needsPoll() bool {
	if in.repoll || in.hasPending || in.timerFired {
		in.repoll = false
		return true
	}
	return false
}
