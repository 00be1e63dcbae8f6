package vhostuser

import "encoding/binary"

// Request and reply framing. Every request a driver submits starts with a
// fixed-size header, and every reply sent back starts with a fixed-size
// header whose unique field echoes the request that is being answered.
const (
	// InHeaderSize is the size of the header that starts every request read
	// from a queue.
	InHeaderSize = 40

	// OutHeaderSize is the size of the header that starts every reply written
	// back to a queue.
	OutHeaderSize = 16
)

// replyUnique extracts the correlation identifier from a reply header. The
// header slice must be at least [OutHeaderSize] long. A unique of zero marks
// a device-initiated notification, which this transport does not support.
func replyUnique(header []byte) uint64 {
	return binary.LittleEndian.Uint64(header[8:16])
}
