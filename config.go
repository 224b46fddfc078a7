package qdrive

import (
	"errors"
	"time"
)

// Config tunes the buffers and retry behavior of a driven connection.
// Zero fields take the defaults from [DefaultConfig].
type Config struct {
	// Capacity of the staging buffer that outgoing packets are written into
	// before being flushed to the transport.
	// Must be at least as large as the engine's largest packet.
	SendBufferSize int

	// Size of the single buffer reused for every transport read.
	RecvBufferSize int

	// Largest chunk of stream data pulled from the engine
	// into one message for the application.
	StreamChunkSize int

	// How long to wait before retrying a transport write
	// that reported it would block.
	WriteRetryInterval time.Duration
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		// Large enough for the biggest UDP payload.
		SendBufferSize: 64 * 1024,
		RecvBufferSize: 64 * 1024,

		StreamChunkSize: 16 * 1024,

		WriteRetryInterval: 2 * time.Millisecond,
	}
}

// withDefaults returns a copy of c with zero fields set to defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.SendBufferSize == 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.RecvBufferSize == 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.StreamChunkSize == 0 {
		c.StreamChunkSize = d.StreamChunkSize
	}
	if c.WriteRetryInterval == 0 {
		c.WriteRetryInterval = d.WriteRetryInterval
	}

	return c
}

// validate panics if there are any illegal settings in the configuration.
func (c Config) validate() {
	// Collect every problem so one panic reports them all.
	var panicErrs error

	if c.SendBufferSize < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.SendBufferSize must not be negative"))
	}
	if c.RecvBufferSize < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.RecvBufferSize must not be negative"))
	}
	if c.StreamChunkSize < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.StreamChunkSize must not be negative"))
	}
	if c.WriteRetryInterval < 0 {
		panicErrs = errors.Join(panicErrs, errors.New("Config.WriteRetryInterval must not be negative"))
	}

	if panicErrs != nil {
		panic(panicErrs)
	}
}
