// Package qchan contains channel-like primitives
// shared between the connection driver and application handles.
package qchan
