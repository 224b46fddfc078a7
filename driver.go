package qdrive

import (
	"bytes"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/gordian-engine/qdrive/internal/qchan"
	"github.com/gordian-engine/qdrive/qengine"
	"github.com/quic-go/quic-go"
)

// streamCanceledCode is sent to the peer when a stream direction is abandoned.
const streamCanceledCode quic.StreamErrorCode = 0

// Driver owns an established connection's engine and transport.
//
// Call [*Driver.Run] exactly once, on its own goroutine.
type Driver struct {
	log *slog.Logger

	in *inner

	anchor *anchor

	// Peer-initiated streams, read by [*Incoming].
	incoming *qchan.Unbounded[*Stream]

	// Stream table. Only touched by Run.
	streams map[qengine.StreamID]*streamState

	// Ids whose table entry was removed or never created.
	// A later readable report for one of these must not
	// look like a new peer stream.
	retired *retiredIDs

	nextLocalBidi qengine.StreamID

	// Reused for every StreamRecv.
	chunkBuf []byte

	// One-slot signal from stream writes and closes.
	wake chan struct{}

	requests chan controlRequest

	running atomic.Bool
	done    chan struct{}
	err     error
}

// streamState is the driver's side of one stream.
type streamState struct {
	toApp   *qchan.Unbounded[message]
	fromApp *qchan.Unbounded[message]

	// Outbound bytes taken from fromApp but not yet accepted by the engine.
	pending    []byte
	pendingFin bool
	hasPending bool

	// readDone is set once the end of the peer's data was delivered
	// (or the read side was abandoned);
	// writeDone once our fin was accepted (or the write side was abandoned).
	readDone  bool
	writeDone bool
}

// Run drives the connection until the engine reports it closed,
// or until every application handle has been closed.
//
// Run returns nil in both of those cases,
// or the transport error that made the connection unusable.
// When Run returns, every stream's receive side has been closed.
func (d *Driver) Run() error {
	if !d.running.CompareAndSwap(false, true) {
		panic(errors.New("BUG: (*Driver).Run called more than once"))
	}
	defer d.finish()

	for {
		closed, err := d.in.pollComplete()
		if err != nil {
			d.log.Info("Driver stopping due to transport failure", "err", err)
			d.err = err
			return err
		}

		d.receiveStreams()
		d.sendStreams()

		if closed {
			d.log.Info("Driver stopping because the connection closed")
			return nil
		}

		select {
		case <-d.anchor.Fired():
			// Nobody holds a handle anymore.
			// One more drain pass, but no more forced I/O.
			d.receiveStreams()
			d.sendStreams()
			d.log.Info("Driver stopping because all handles were closed")
			return nil
		default:
		}

		d.wait()
	}
}

// Done returns a channel that is closed when Run returns.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Err returns the error Run returned.
// It is only valid after Done is closed.
func (d *Driver) Err() error {
	return d.err
}

// wait blocks until there is something for the next iteration to do.
func (d *Driver) wait() {
	if d.in.needsPoll() {
		return
	}

	select {
	case r := <-d.in.readReady():
		d.in.stashRead(r)
	case <-d.in.timerReady():
		d.in.markTimerFired()
	case <-d.in.retryReady():
	case <-d.wake:
	case req := <-d.requests:
		d.handleRequest(req)
	case <-d.anchor.Fired():
	}
}

func (d *Driver) signalWake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) handleRequest(req controlRequest) {
	switch req.kind {
	case openStreamRequest:
		if !d.anchor.acquire() {
			req.reply <- controlReply{err: ErrConnectionClosed}
			return
		}

		id := d.nextLocalBidi
		d.nextLocalBidi += qengine.StreamIDIncrement

		st, s := d.newStreamPair(id)
		d.streams[id] = st

		d.log.Debug("Opened local stream", "stream_id", id)
		req.reply <- controlReply{s: s}

	case closeConnectionRequest:
		err := d.in.e.Close(true, uint64(req.code), []byte(req.reason))
		if errors.Is(err, qengine.ErrDone) {
			// Already closing.
			err = nil
		}
		d.log.Info("Closing connection on application request", "code", req.code, "reason", req.reason)
		req.reply <- controlReply{err: err}

	default:
		panic(errors.New("BUG: unknown control request kind"))
	}
}

func (d *Driver) newStreamPair(id qengine.StreamID) (*streamState, *Stream) {
	// A unidirectional stream opened by the peer has no write side.
	recvOnly := !qengine.IsBidirectional(id) && qengine.IsPeerInitiated(id, d.in.e.IsServer())

	st := &streamState{
		toApp:   qchan.NewUnbounded[message](),
		fromApp: qchan.NewUnbounded[message](),

		writeDone: recvOnly,
	}

	s := &Stream{
		id: id,

		in:  st.toApp,
		out: st.fromApp,

		wake:   d.signalWake,
		anchor: d.anchor,

		writeClosed: recvOnly,
	}

	return st, s
}

// receiveStreams moves readable stream data from the engine
// into the streams' inbound queues,
// admitting streams the driver has not seen before.
func (d *Driver) receiveStreams() {
	for _, id := range d.in.e.Readable() {
		st, ok := d.streams[id]
		if !ok {
			st = d.admit(id)
			if st == nil {
				continue
			}
		}

		d.deliver(id, st)
	}
}

// admit creates the table entry for a stream first reported readable.
// It returns nil if the stream is refused.
func (d *Driver) admit(id qengine.StreamID) *streamState {
	if d.retired.has(id) {
		d.shutdown(id, qengine.ShutdownRead)
		return nil
	}

	if !qengine.IsPeerInitiated(id, d.in.e.IsServer()) {
		// Local streams are registered when opened,
		// so nobody could be holding this one.
		d.log.Warn("Refusing unregistered local stream", "stream_id", id)
		d.refuse(id)
		return nil
	}

	if !d.anchor.acquire() {
		d.refuse(id)
		return nil
	}

	st, s := d.newStreamPair(id)
	if !d.incoming.Push(s) {
		d.log.Debug("Refusing peer stream because incoming streams are closed", "stream_id", id)
		s.discard()
		d.refuse(id)
		return nil
	}

	d.streams[id] = st
	d.log.Debug("Accepted peer stream", "stream_id", id)
	return st
}

// refuse shuts down a stream that never got a table entry.
func (d *Driver) refuse(id qengine.StreamID) {
	d.shutdown(id, qengine.ShutdownRead)
	if qengine.IsBidirectional(id) {
		d.shutdown(id, qengine.ShutdownWrite)
	}
	// Refused ids never had an entry, so they do not move the window.
	d.retired.add(id, false)
}

// deliver pulls all currently readable data for one stream.
func (d *Driver) deliver(id qengine.StreamID, st *streamState) {
	for !st.readDone {
		n, fin, err := d.in.e.StreamRecv(id, d.chunkBuf)
		if err != nil {
			if errors.Is(err, qengine.ErrDone) {
				return
			}

			// Most likely reset by the peer.
			d.log.Debug("Stream receive failed", "stream_id", id, "err", err)
			st.readDone = true
			st.toApp.Close()
			return
		}

		if n == 0 && !fin {
			return
		}

		m := message{kind: bytesMessage, data: bytes.Clone(d.chunkBuf[:n])}
		if fin {
			m.kind = endMessage
			st.readDone = true
		}

		if !st.toApp.Push(m) {
			// The application closed its end; stop the peer sending more.
			st.readDone = true
			d.shutdown(id, qengine.ShutdownRead)
			return
		}

		if fin {
			st.toApp.Close()
		}
	}
}

// sendStreams forwards queued application messages to the engine
// and removes streams that are complete.
func (d *Driver) sendStreams() {
	for id, st := range d.streams {
		if !d.flushStream(id, st) {
			continue
		}

		if st.readDone && d.in.e.StreamFinished(id) {
			d.log.Debug("Stream finished", "stream_id", id)
			d.remove(id, st)
		}
	}
}

// flushStream hands the stream's outbound messages to the engine in order.
// It reports false if the stream was removed.
func (d *Driver) flushStream(id qengine.StreamID, st *streamState) bool {
	for {
		if st.hasPending && !d.sendPending(id, st) {
			// Blocked by flow control.
			// A close must not wait behind data that may never be sent.
			if st.fromApp.Closed() {
				for _, m := range st.fromApp.Drain() {
					if m.kind == closeMessage {
						d.closeStream(id, st)
						return false
					}
				}
			}
			return true
		}

		m, ok := st.fromApp.TryPop()
		if !ok {
			return true
		}

		switch m.kind {
		case bytesMessage, endMessage:
			if st.writeDone {
				// The write side already failed; nowhere to send.
				continue
			}
			st.pending = m.data
			st.pendingFin = m.kind == endMessage
			st.hasPending = true

		case closeMessage:
			d.closeStream(id, st)
			return false
		}
	}
}

// sendPending offers the pending bytes to the engine.
// It reports false if the engine could not accept all of them.
func (d *Driver) sendPending(id qengine.StreamID, st *streamState) bool {
	n, err := d.in.e.StreamSend(id, st.pending, st.pendingFin)
	if err != nil {
		if errors.Is(err, qengine.ErrDone) {
			return false
		}

		d.log.Debug("Stream send failed; abandoning write side", "stream_id", id, "err", err)
		st.pending, st.pendingFin, st.hasPending = nil, false, false
		st.writeDone = true
		d.shutdown(id, qengine.ShutdownWrite)
		return true
	}

	st.pending = st.pending[n:]
	if len(st.pending) > 0 {
		return false
	}

	if st.pendingFin {
		st.writeDone = true
	}
	st.pending, st.pendingFin, st.hasPending = nil, false, false
	return true
}

// closeStream handles the application's Close:
// unfinished directions are shut down and the entry is removed.
func (d *Driver) closeStream(id qengine.StreamID, st *streamState) {
	if !st.readDone {
		d.shutdown(id, qengine.ShutdownRead)
	}
	if !st.writeDone {
		d.shutdown(id, qengine.ShutdownWrite)
	}

	d.log.Debug("Stream closed by application", "stream_id", id)
	d.remove(id, st)
}

func (d *Driver) remove(id qengine.StreamID, st *streamState) {
	st.toApp.Close()
	st.fromApp.Close()
	delete(d.streams, id)
	d.retired.add(id, true)
}

func (d *Driver) shutdown(id qengine.StreamID, dir qengine.Shutdown) {
	err := d.in.e.StreamShutdown(id, dir, streamCanceledCode)
	if err != nil && !errors.Is(err, qengine.ErrDone) {
		d.log.Debug("Failed to shut down stream", "stream_id", id, "dir", dir, "err", err)
	}
}

// finish releases everything the driver owns.
func (d *Driver) finish() {
	for id, st := range d.streams {
		st.toApp.Close()
		st.fromApp.Close()
		delete(d.streams, id)
	}

	d.incoming.Close()
	d.in.stop()

	close(d.done)
}
