package qdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gordian-engine/qdrive/internal/qchan"
	"github.com/gordian-engine/qdrive/qengine"
	"github.com/gordian-engine/qdrive/qtransport"
)

// Connecting is a connection whose handshake has not completed.
//
// Create one with [NewConnecting],
// then call [*Connecting.Handshake] exactly once.
type Connecting struct {
	log *slog.Logger
	cfg Config

	// Nil once the handshake has ended, successfully or not.
	in *inner
}

// NewConnecting takes ownership of the transport's read side
// and of the engine, and prepares to drive the handshake.
// A background goroutine starts reading from t immediately.
//
// Configuration errors cause a panic.
func NewConnecting(
	log *slog.Logger,
	t qtransport.Transport,
	e qengine.Engine,
	cfg Config,
) *Connecting {
	cfg.validate()
	cfg = cfg.withDefaults()

	return &Connecting{
		log: log,
		cfg: cfg,
		in:  newInner(log, t, e, cfg),
	}
}

// Connect drives the handshake of e over t to completion.
// It is shorthand for [NewConnecting] followed by [*Connecting.Handshake].
func Connect(
	ctx context.Context,
	log *slog.Logger,
	t qtransport.Transport,
	e qengine.Engine,
	cfg Config,
) (*Driver, *Connection, *Incoming, error) {
	return NewConnecting(log, t, e, cfg).Handshake(ctx)
}

// Handshake pumps the engine until its handshake completes.
//
// On success, the caller must start the returned Driver with go d.Run(),
// and eventually close the Connection and Incoming.
//
// On failure the error is a [HandshakeError].
// It wraps [io.ErrUnexpectedEOF] if the engine closed before establishing,
// and the context's cause if ctx was canceled first.
//
// Handshake may only be called once; later calls panic.
func (c *Connecting) Handshake(ctx context.Context) (*Driver, *Connection, *Incoming, error) {
	in := c.in
	if in == nil {
		panic(errors.New("BUG: (*Connecting).Handshake called after the handshake ended"))
	}
	c.in = nil

	if err := c.handshake(ctx, in); err != nil {
		in.stop()
		c.log.Info("Handshake failed", "err", err)
		return nil, nil, nil, HandshakeError{Err: err}
	}

	d, conn, incoming := c.establish(in)
	return d, conn, incoming, nil
}

func (c *Connecting) handshake(ctx context.Context, in *inner) error {
	// The engine's first flight must go out before anything can be received.
	if _, err := in.pollSend(); err != nil {
		return err
	}

	for !in.e.IsEstablished() {
		// The loop below may keep polling without reaching the select.
		if ctx.Err() != nil {
			return fmt.Errorf("context canceled during handshake: %w", context.Cause(ctx))
		}

		if in.e.IsClosed() {
			return fmt.Errorf("engine closed before handshake completed: %w", io.ErrUnexpectedEOF)
		}

		if _, err := in.pollComplete(); err != nil {
			return err
		}

		if in.e.IsEstablished() || in.e.IsClosed() || in.needsPoll() {
			continue
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled during handshake: %w", context.Cause(ctx))
		case r := <-in.readReady():
			in.stashRead(r)
		case <-in.timerReady():
			in.markTimerFired()
		case <-in.retryReady():
		}
	}

	return nil
}

// establish builds the public handles and the driver around in.
func (c *Connecting) establish(in *inner) (*Driver, *Connection, *Incoming) {
	traceID := in.e.TraceID()
	alpn := bytes.Clone(in.e.ApplicationProto())
	resumed := in.e.IsResumed()

	log := c.log.With("trace_id", traceID)
	in.log = log

	// One reference each for the Connection and the Incoming.
	a := newAnchor(2)

	d := &Driver{
		log: log.With("sys", "driver"),

		in: in,

		anchor: a,

		incoming: qchan.NewUnbounded[*Stream](),

		streams: make(map[qengine.StreamID]*streamState),
		retired: newRetiredIDs(),

		nextLocalBidi: qengine.FirstLocalBidirectional(in.e.IsServer()),

		chunkBuf: make([]byte, c.cfg.StreamChunkSize),

		wake:     make(chan struct{}, 1),
		requests: make(chan controlRequest),

		done: make(chan struct{}),
	}

	conn := &Connection{
		anchor: a,

		traceID: traceID,
		alpn:    alpn,
		resumed: resumed,

		requests: d.requests,
		done:     d.done,
	}

	incoming := &Incoming{
		anchor: a,
		q:      d.incoming,
	}

	log.Info("Handshake complete", "alpn", string(alpn), "resumed", resumed)

	return d, conn, incoming
}
