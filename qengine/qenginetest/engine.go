// Package qenginetest provides a scriptable in-memory [qengine.Engine].
package qenginetest

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gordian-engine/qdrive/qengine"
	"github.com/quic-go/quic-go"
)

// ClosePacket is the packet a [*Engine] emits after [*Engine.Close]
// in place of a real CONNECTION_CLOSE frame.
var ClosePacket = []byte("CONNECTION_CLOSE")

// Config is the initial state for [NewEngine].
type Config struct {
	Server bool

	// Start already established,
	// so a handshake completes after its first send pass.
	Established bool

	// Become established when the first datagram is received.
	EstablishOnRecv bool

	// Report the connection closed when OnTimeout is called.
	CloseOnTimeout bool

	TraceID string
	ALPN    []byte
	Resumed bool
}

// CloseCall records one call to [*Engine.Close].
type CloseCall struct {
	App    bool
	Code   uint64
	Reason string
}

// Engine is a scriptable engine.
//
// The driver calls the [qengine.Engine] methods from its own goroutine,
// while tests script and inspect state from theirs,
// so every method takes the same lock.
type Engine struct {
	mu sync.Mutex

	server          bool
	established     bool
	establishOnRecv bool
	closeOnTimeout  bool

	closing bool
	closed  bool

	outbound [][]byte
	received [][]byte

	timeout    time.Duration
	hasTimeout bool
	timeouts   int

	recvErrs []error
	sendErrs []error
	sendErr  error
	closeErr error

	closes []CloseCall
	events []string

	streams map[qengine.StreamID]*stream

	traceID string
	alpn    []byte
	resumed bool
}

type stream struct {
	recvChunks [][]byte
	recvFin    bool
	finRead    bool
	recvErr    error

	sent    []byte
	sentFin bool

	// Negative means unlimited.
	sendCapacity int

	shutRead, shutWrite bool
	shutdowns           []qengine.Shutdown
}

var _ qengine.Engine = (*Engine)(nil)

// NewEngine returns an engine in the state described by cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		server:          cfg.Server,
		established:     cfg.Established,
		establishOnRecv: cfg.EstablishOnRecv,
		closeOnTimeout:  cfg.CloseOnTimeout,

		streams: make(map[qengine.StreamID]*stream),

		traceID: cfg.TraceID,
		alpn:    cfg.ALPN,
		resumed: cfg.Resumed,
	}
}

// Recv implements [qengine.Engine].
func (e *Engine) Recv(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, "recv")

	if len(e.recvErrs) > 0 {
		err := e.recvErrs[0]
		e.recvErrs = e.recvErrs[1:]
		return 0, err
	}

	e.received = append(e.received, bytes.Clone(p))
	if e.establishOnRecv && !e.closing && !e.closed {
		e.established = true
	}
	return len(p), nil
}

// Send implements [qengine.Engine].
// It emits queued packets whole, one per call.
func (e *Engine) Send(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, "send")

	if len(e.sendErrs) > 0 {
		err := e.sendErrs[0]
		e.sendErrs = e.sendErrs[1:]
		return 0, err
	}
	if e.sendErr != nil {
		return 0, e.sendErr
	}

	if e.closed {
		return 0, qengine.ErrDone
	}

	if e.closing {
		if len(p) < len(ClosePacket) {
			return 0, qengine.ErrBufferTooShort
		}
		e.closed = true
		e.hasTimeout = false
		return copy(p, ClosePacket), nil
	}

	if len(e.outbound) == 0 {
		return 0, qengine.ErrDone
	}

	pkt := e.outbound[0]
	if len(p) < len(pkt) {
		return 0, qengine.ErrBufferTooShort
	}
	e.outbound = e.outbound[1:]
	return copy(p, pkt), nil
}

// Timeout implements [qengine.Engine].
func (e *Engine) Timeout() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout, e.hasTimeout
}

// OnTimeout implements [qengine.Engine].
// The scripted timeout is consumed.
func (e *Engine) OnTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, "on_timeout")
	e.timeouts++
	e.hasTimeout = false

	if e.closeOnTimeout {
		e.closed = true
	}
}

// IsEstablished implements [qengine.Engine].
func (e *Engine) IsEstablished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.established
}

// IsClosed implements [qengine.Engine].
func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// IsServer implements [qengine.Engine].
func (e *Engine) IsServer() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.server
}

// Close implements [qengine.Engine].
// Pending packets are discarded and [ClosePacket] is sent next;
// the engine reports closed once that packet is sent.
func (e *Engine) Close(app bool, code uint64, reason []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closes = append(e.closes, CloseCall{App: app, Code: code, Reason: string(reason)})

	if e.closeErr != nil {
		return e.closeErr
	}
	if e.closing || e.closed {
		return qengine.ErrDone
	}

	e.closing = true
	e.outbound = nil
	return nil
}

// Readable implements [qengine.Engine].
func (e *Engine) Readable() []qengine.StreamID {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []qengine.StreamID
	for id, s := range e.streams {
		if s.shutRead {
			continue
		}
		if len(s.recvChunks) > 0 || (s.recvFin && !s.finRead) || s.recvErr != nil {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// StreamRecv implements [qengine.Engine].
// Data is returned with the same chunk boundaries it was pushed with,
// unless p is too small for a chunk.
func (e *Engine) StreamRecv(id qengine.StreamID, p []byte) (int, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return 0, false, fmt.Errorf("unknown stream %d", id)
	}

	if s.recvErr != nil {
		err := s.recvErr
		s.recvErr = nil
		s.recvChunks = nil
		s.finRead = true
		return 0, false, err
	}

	if s.shutRead {
		return 0, false, qengine.ErrDone
	}

	if len(s.recvChunks) == 0 {
		if s.recvFin && !s.finRead {
			s.finRead = true
			return 0, true, nil
		}
		return 0, false, qengine.ErrDone
	}

	chunk := s.recvChunks[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		s.recvChunks[0] = chunk[n:]
	} else {
		s.recvChunks = s.recvChunks[1:]
	}

	fin := len(s.recvChunks) == 0 && s.recvFin
	if fin {
		s.finRead = true
	}
	return n, fin, nil
}

// StreamSend implements [qengine.Engine].
func (e *Engine) StreamSend(id qengine.StreamID, p []byte, fin bool) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.streamLocked(id)
	if s.shutWrite || s.sentFin {
		return 0, fmt.Errorf("stream %d write side already finished", id)
	}

	n := len(p)
	if s.sendCapacity >= 0 && n > s.sendCapacity {
		n = s.sendCapacity
	}
	if n == 0 && len(p) > 0 {
		return 0, qengine.ErrDone
	}

	s.sent = append(s.sent, p[:n]...)
	if s.sendCapacity >= 0 {
		s.sendCapacity -= n
	}
	if fin && n == len(p) {
		s.sentFin = true
	}

	e.events = append(e.events, "stream_send")
	return n, nil
}

// StreamShutdown implements [qengine.Engine].
func (e *Engine) StreamShutdown(id qengine.StreamID, dir qengine.Shutdown, _ quic.StreamErrorCode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.streamLocked(id)
	s.shutdowns = append(s.shutdowns, dir)

	switch dir {
	case qengine.ShutdownRead:
		s.shutRead = true
		s.recvChunks = nil
	case qengine.ShutdownWrite:
		s.shutWrite = true
	default:
		return fmt.Errorf("invalid shutdown direction %d", dir)
	}
	return nil
}

// StreamFinished implements [qengine.Engine].
func (e *Engine) StreamFinished(id qengine.StreamID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return false
	}

	// A unidirectional stream only has the side its opener writes.
	hasRead, hasWrite := true, true
	if !qengine.IsBidirectional(id) {
		local := !qengine.IsPeerInitiated(id, e.server)
		hasRead, hasWrite = !local, local
	}

	return (!hasRead || s.finRead || s.shutRead) &&
		(!hasWrite || s.sentFin || s.shutWrite)
}

// TraceID implements [qengine.Engine].
func (e *Engine) TraceID() string { return e.traceID }

// ApplicationProto implements [qengine.Engine].
func (e *Engine) ApplicationProto() []byte { return e.alpn }

// IsResumed implements [qengine.Engine].
func (e *Engine) IsResumed() bool { return e.resumed }

func (e *Engine) streamLocked(id qengine.StreamID) *stream {
	s, ok := e.streams[id]
	if !ok {
		s = &stream{sendCapacity: -1}
		e.streams[id] = s
	}
	return s
}

// QueuePacket schedules p to be returned from a future Send call.
func (e *Engine) QueuePacket(p []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbound = append(e.outbound, bytes.Clone(p))
}

// Establish marks the handshake complete.
func (e *Engine) Establish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.established = true
}

// CloseNow marks the connection closed immediately,
// as if the peer's close had completed.
func (e *Engine) CloseNow() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.hasTimeout = false
}

// FailNextRecv makes the next Recv call return err.
func (e *Engine) FailNextRecv(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recvErrs = append(e.recvErrs, err)
}

// FailNextSend makes the next Send call return err.
func (e *Engine) FailNextSend(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErrs = append(e.sendErrs, err)
}

// FailSends makes every subsequent Send call return err,
// after any errors queued by FailNextSend.
func (e *Engine) FailSends(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendErr = err
}

// FailClose makes every Close call return err.
func (e *Engine) FailClose(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeErr = err
}

// SetTimeout sets the value reported by Timeout until OnTimeout consumes it.
func (e *Engine) SetTimeout(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.timeout = d
	e.hasTimeout = true
}

// ClearTimeout makes Timeout report no timeout.
func (e *Engine) ClearTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hasTimeout = false
}

// Received returns copies of every chunk passed to Recv.
func (e *Engine) Received() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.received)
}

// TimeoutCount returns how many times OnTimeout was called.
func (e *Engine) TimeoutCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeouts
}

// Events returns the ordered log of "recv", "send", "on_timeout"
// and "stream_send" calls.
func (e *Engine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

// CloseCalls returns every call made to Close.
func (e *Engine) CloseCalls() []CloseCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.closes)
}

// PushStreamData makes data readable on stream id,
// creating the stream if needed.
// An empty data with fin set only ends the stream.
func (e *Engine) PushStreamData(id qengine.StreamID, data []byte, fin bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.streamLocked(id)
	if s.recvFin {
		panic(errors.New("BUG: PushStreamData after fin"))
	}
	if s.shutRead {
		return
	}
	if len(data) > 0 {
		s.recvChunks = append(s.recvChunks, bytes.Clone(data))
	}
	s.recvFin = fin
}

// ResetStream makes the next StreamRecv on id fail with err,
// as a peer's RESET_STREAM would.
func (e *Engine) ResetStream(id qengine.StreamID, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamLocked(id).recvErr = err
}

// SetStreamSendCapacity limits how many more bytes StreamSend accepts on id.
// A negative n removes the limit.
func (e *Engine) SetStreamSendCapacity(id qengine.StreamID, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streamLocked(id).sendCapacity = n
}

// StreamSent returns the bytes accepted on id and whether fin was accepted.
func (e *Engine) StreamSent(id qengine.StreamID) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return nil, false
	}
	return bytes.Clone(s.sent), s.sentFin
}

// StreamShutdowns returns the shutdown calls made on id, in order.
func (e *Engine) StreamShutdowns(id qengine.StreamID) []qengine.Shutdown {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streams[id]
	if !ok {
		return nil
	}
	return slices.Clone(s.shutdowns)
}
