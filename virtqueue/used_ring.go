package virtqueue

import (
	"fmt"
	"unsafe"
)

// usedRingFlag is a flag that describes a used ring.
type usedRingFlag uint16

const (
	// usedRingFlagNoNotify is used by the device to advise the driver to not
	// kick it again when adding a buffer. It's unreliable, so it's simply an
	// optimization.
	usedRingFlagNoNotify usedRingFlag = 1 << iota
)

// usedRing is the part of a split virtqueue by which the device returns used
// descriptor chains to the driver. It is only written to by the device.
//
// Because the size of the ring depends on the queue size, we cannot define a
// Go struct with a static size that maps to the memory of the ring. Instead,
// this struct only contains pointers to the corresponding memory areas.
type usedRing struct {
	initialized bool

	// flags that describe this ring.
	flags *usedRingFlag
	// ringIndex indicates where the device would put the next entry into the
	// ring (modulo the queue size).
	ringIndex *uint16
	// ring contains the [UsedElement]s the device has returned. It wraps
	// around at queue size.
	ring []UsedElement
	// availableEvent is not used by this implementation, because the
	// [virtio.FeatureRingEventIndex] feature is never offered.
	availableEvent *uint16
}

// newUsedRing creates a used ring view over the given driver-owned memory.
// The length of the memory slice must match the size needed for the ring (see
// [UsedRingSize]) for the given queue size.
func newUsedRing(queueSize int, mem []byte) *usedRing {
	ringSize := UsedRingSize(queueSize)
	if len(mem) != ringSize {
		panic(fmt.Sprintf("memory size (%v) does not match required size "+
			"for used ring: %v", len(mem), ringSize))
	}

	return &usedRing{
		initialized:    true,
		flags:          (*usedRingFlag)(unsafe.Pointer(&mem[0])),
		ringIndex:      (*uint16)(unsafe.Pointer(&mem[2])),
		ring:           unsafe.Slice((*UsedElement)(unsafe.Pointer(&mem[4])), queueSize),
		availableEvent: (*uint16)(unsafe.Pointer(&mem[ringSize-2])),
	}
}

// offer appends the given element to the ring and publishes it to the driver
// by incrementing the ring index.
func (r *usedRing) offer(elem UsedElement) {
	r.ring[*r.ringIndex%uint16(len(r.ring))] = elem

	// The driver must observe the ring entry before the incremented index.
	// The Go memory model gives no ordering guarantee for these plain writes,
	// but on amd64 and arm64 stores are not reordered with earlier stores, so
	// this matches what the virtio specification requires in practice.
	*r.ringIndex++
}
