package qengine

// IsClientInitiated reports whether id was opened by the client.
func IsClientInitiated(id StreamID) bool {
	return id&0x1 == 0
}

// IsBidirectional reports whether id carries data in both directions.
func IsBidirectional(id StreamID) bool {
	return id&0x2 == 0
}

// IsPeerInitiated reports whether id was opened by the remote side,
// from the perspective of a local endpoint that is a server if isServer is set.
func IsPeerInitiated(id StreamID, isServer bool) bool {
	return IsClientInitiated(id) == isServer
}

// FirstLocalBidirectional returns the first bidirectional stream id
// that a local endpoint may open.
// Subsequent ids are spaced by [StreamIDIncrement].
func FirstLocalBidirectional(isServer bool) StreamID {
	if isServer {
		return 1
	}
	return 0
}

// StreamIDIncrement is the distance between consecutive ids of the same type.
const StreamIDIncrement StreamID = 4
