package virtqueue

import (
	"fmt"
	"unsafe"
)

// availableRingFlag is a flag that describes an available ring.
type availableRingFlag uint16

const (
	// availableRingFlagNoInterrupt is used by the driver to advise the device
	// to not interrupt it when consuming a buffer. It's unreliable, so it's
	// simply an optimization.
	availableRingFlagNoInterrupt availableRingFlag = 1 << iota
)

// availableRing is the part of a split virtqueue by which the driver offers
// descriptor chains to the device. It is only written to by the driver; the
// device consumes entries by advancing its private lastIndex.
//
// Because the size of the ring depends on the queue size, we cannot define a
// Go struct with a static size that maps to the memory of the ring. Instead,
// this struct only contains pointers to the corresponding memory areas.
type availableRing struct {
	initialized bool

	// flags that describe this ring.
	flags *availableRingFlag
	// ringIndex indicates where the driver would put the next entry into the
	// ring (modulo the queue size).
	ringIndex *uint16
	// ring references buffers using the index of the head of the descriptor
	// chain in the descriptor table. It wraps around at queue size.
	ring []uint16
	// usedEvent is not used by this implementation, but we keep a pointer to
	// it anyway in case a driver tries to access it, contrary to the virtio
	// specification.
	usedEvent *uint16

	// lastIndex is the device-internal index up to which all ring entries were
	// already consumed.
	lastIndex uint16
}

// newAvailableRing creates an available ring view over the given driver-owned
// memory. The length of the memory slice must match the size needed for the
// ring (see [AvailableRingSize]) for the given queue size.
func newAvailableRing(queueSize int, mem []byte) *availableRing {
	ringSize := AvailableRingSize(queueSize)
	if len(mem) != ringSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size "+
			"for available ring: %v", len(mem), ringSize))
	}

	r := availableRing{
		initialized: true,
		flags:       (*availableRingFlag)(unsafe.Pointer(&mem[0])),
		ringIndex:   (*uint16)(unsafe.Pointer(&mem[2])),
		ring:        unsafe.Slice((*uint16)(unsafe.Pointer(&mem[4])), queueSize),
		usedEvent:   (*uint16)(unsafe.Pointer(&mem[ringSize-2])),
	}
	r.lastIndex = *r.ringIndex
	return &r
}

// pending returns the number of descriptor chain heads the driver has made
// available and the device has not yet consumed.
func (r *availableRing) pending() int {
	// The 16-bit ring index may overflow, which is expected: the ring array
	// length is a power of 2, so the subtraction stays correct.
	return int(*r.ringIndex - r.lastIndex)
}

// peek returns the descriptor chain head at the given offset past the last
// consumed entry without consuming anything. offset must be < pending().
func (r *availableRing) peek(offset int) uint16 {
	return r.ring[(r.lastIndex+uint16(offset))%uint16(len(r.ring))]
}

// take consumes and returns the next available descriptor chain head.
func (r *availableRing) take() (uint16, bool) {
	if r.pending() == 0 {
		return 0, false
	}
	head := r.ring[r.lastIndex%uint16(len(r.ring))]
	r.lastIndex++
	return head, true
}

// suppressed reports whether the driver asked to not be notified about used
// buffers.
func (r *availableRing) suppressed() bool {
	return *r.flags&availableRingFlagNoInterrupt != 0
}
