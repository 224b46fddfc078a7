package qdrive

type messageKind uint8

const (
	// A chunk of stream data.
	bytesMessage messageKind = iota

	// The final chunk of stream data (possibly empty).
	endMessage

	// The application dropped the stream.
	closeMessage
)

// message is the unit exchanged between the driver
// and one direction of a [*Stream].
type message struct {
	kind messageKind
	data []byte
}
