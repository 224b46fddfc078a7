// Package qdrive drives a sans-I/O QUIC engine over a byte transport.
//
// The engine (see package qengine) implements the protocol
// but performs no I/O and keeps no clock.
// This package supplies both:
// it pumps bytes between the engine and a [qtransport.Transport],
// arms the engine's retransmission timer,
// and demultiplexes stream data to per-stream handles.
//
// A connection starts with [Connect] (or [NewConnecting] and [*Connecting.Handshake]),
// which returns three values once the handshake completes:
//
//   - a [*Driver], whose Run method must be called on its own goroutine;
//   - a [*Connection], summarizing the handshake and opening local streams;
//   - an [*Incoming], yielding streams opened by the peer.
//
// The Driver is the only goroutine that touches the engine.
// Application handles reach it through queues only.
//
// There is no method to tear down the Driver directly.
// Each handle, including every [*Stream], holds a reference on the connection;
// once all of them are closed, the Driver finishes its current iteration and returns.
package qdrive
