// Package virtqueue implements the device side of a virtio split virtqueue
// over driver-owned memory.
//
// The driver offers descriptor chains through the available ring, the device
// pops them, reads and writes the buffers they point to and returns them
// through the used ring. All ring and descriptor memory is shared with the
// driver and treated as untrusted input.
package virtqueue

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/virtfsd/virtfsd/eventfd"
)

var (
	// ErrQueueEmpty is returned when the available ring contains no descriptor
	// chains to pop.
	ErrQueueEmpty = errors.New("queue is empty")

	// ErrDescriptorChainInvalid is returned when a descriptor chain offered by
	// the driver violates the virtio specification.
	ErrDescriptorChainInvalid = errors.New("descriptor chain is invalid")

	// ErrAvailableRingInvalid is returned when the driver-owned available
	// ring index claims more pending chains than the queue can hold.
	ErrAvailableRingInvalid = errors.New("available ring index is invalid")

	// ErrAddressTranslation is returned when a descriptor points to guest
	// memory that cannot be mapped into this process.
	ErrAddressTranslation = errors.New("cannot translate guest address")

	// ErrElementForeign is returned when an element is pushed to a queue it
	// was not popped from.
	ErrElementForeign = errors.New("element does not belong to this queue")
)

// MemAtFunc translates a guest physical address range into process-local
// memory. It returns nil when the range is not contained in any mapped guest
// memory region.
type MemAtFunc func(address uint64, length uint32) []byte

// Memory holds the three driver-provided memory areas a split virtqueue
// consists of, already mapped into this process.
type Memory struct {
	// DescriptorTable must have a length of [DescriptorTableSize] for the
	// queue size.
	DescriptorTable []byte
	// AvailableRing must have a length of [AvailableRingSize] for the queue
	// size.
	AvailableRing []byte
	// UsedRing must have a length of [UsedRingSize] for the queue size.
	UsedRing []byte
}

// Queue is the device-side view of a split virtqueue.
//
// The queue itself is not safe for concurrent use. The intended model is a
// single worker owning Pop and AvailableBytes while Push and Notify may be
// called from reply paths, so pushes are serialized by the caller.
type Queue struct {
	size            int
	descriptorTable []Descriptor
	available       *availableRing
	used            *usedRing

	memAt MemAtFunc

	// kick is written by the driver when new buffers are available, call is
	// written by the device to interrupt the driver.
	kick eventfd.EventFD
	call eventfd.EventFD

	// inflight counts popped chains that were not yet pushed or released.
	inflight int
}

// NewQueue assembles a device-side queue view over the given memory. The
// caller keeps ownership of the eventfds.
func NewQueue(queueSize int, mem Memory, memAt MemAtFunc, kick, call eventfd.EventFD) (*Queue, error) {
	if err := CheckQueueSize(queueSize); err != nil {
		return nil, err
	}
	if want := DescriptorTableSize(queueSize); len(mem.DescriptorTable) != want {
		return nil, fmt.Errorf("descriptor table size %d does not match required size %d",
			len(mem.DescriptorTable), want)
	}
	if memAt == nil {
		return nil, errors.New("memory translation function must not be nil")
	}

	return &Queue{
		size: queueSize,
		descriptorTable: unsafe.Slice(
			(*Descriptor)(unsafe.Pointer(&mem.DescriptorTable[0])), queueSize),
		available: newAvailableRing(queueSize, mem.AvailableRing),
		used:      newUsedRing(queueSize, mem.UsedRing),
		memAt:     memAt,
		kick:      kick,
		call:      call,
	}, nil
}

// Size returns the number of entries in this queue.
func (q *Queue) Size() int {
	return q.size
}

// KickFD returns the file descriptor the driver writes to when it adds
// buffers to the available ring.
func (q *Queue) KickFD() int {
	return q.kick.FD()
}

// Pop takes the next descriptor chain off the available ring and resolves it
// into an [Element]. It returns [ErrQueueEmpty] when the driver has not
// offered any chains.
//
// When the chain is malformed the chain head is lost for good, as there is no
// sane way to hand a chain we could not parse back to the driver.
func (q *Queue) Pop() (*Element, error) {
	if _, err := q.pendingChains(); err != nil {
		return nil, err
	}
	head, ok := q.available.take()
	if !ok {
		return nil, ErrQueueEmpty
	}

	elem := elementPool.Get().(*Element)
	elem.reset()
	elem.head = head

	if err := q.walkChain(head, func(desc Descriptor) error {
		buf := q.memAt(desc.address, desc.length)
		if buf == nil {
			return fmt.Errorf("%w: address %#x length %d",
				ErrAddressTranslation, desc.address, desc.length)
		}
		if desc.flags&descriptorFlagWritable != 0 {
			elem.In = append(elem.In, buf)
		} else {
			if len(elem.In) > 0 {
				return fmt.Errorf("%w: readable descriptor after writable one",
					ErrDescriptorChainInvalid)
			}
			elem.Out = append(elem.Out, buf)
		}
		return nil
	}); err != nil {
		elementPool.Put(elem)
		return nil, err
	}

	q.inflight++
	return elem, nil
}

// Push returns a popped chain to the driver through the used ring, recording
// how many bytes the device wrote into the chain's writable buffers. The
// element must not be used afterwards.
func (q *Queue) Push(elem *Element, written uint32) error {
	if int(elem.head) >= q.size {
		return fmt.Errorf("%w: head %d", ErrElementForeign, elem.head)
	}

	q.used.offer(UsedElement{
		DescriptorIndex: uint32(elem.head),
		Length:          written,
	})
	q.inflight--
	elementPool.Put(elem)
	return nil
}

// Release returns a popped chain to the driver without having written
// anything into it. The element must not be used afterwards.
func (q *Queue) Release(elem *Element) error {
	return q.Push(elem, 0)
}

// Notify interrupts the driver to tell it that the used ring was updated. The
// interrupt is skipped when the driver asked for event suppression.
func (q *Queue) Notify() error {
	if q.available.suppressed() {
		return nil
	}
	return q.call.Kick()
}

// Inflight returns the number of popped chains not yet pushed or released.
func (q *Queue) Inflight() int {
	return q.inflight
}

// AvailableBytes sums the readable and writable byte counts of all chains
// currently pending on the available ring, without consuming them. The result
// is momentary: the driver may add chains concurrently.
func (q *Queue) AvailableBytes() (out int, in int, err error) {
	pending, err := q.pendingChains()
	if err != nil {
		return 0, 0, err
	}
	for i := 0; i < pending; i++ {
		err = q.walkChain(q.available.peek(i), func(desc Descriptor) error {
			if desc.flags&descriptorFlagWritable != 0 {
				in += int(desc.length)
			} else {
				out += int(desc.length)
			}
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
	}
	return out, in, nil
}

// pendingChains validates the driver-owned available ring index before it is
// trusted. The 16-bit index can claim up to 65535 pending chains, but a ring
// can never hold more chains than the queue has entries; anything above that
// is a corrupt or hostile driver.
func (q *Queue) pendingChains() (int, error) {
	n := q.available.pending()
	if n > q.size {
		return 0, fmt.Errorf("%w: %d chains pending on a queue of size %d",
			ErrAvailableRingInvalid, n, q.size)
	}
	return n, nil
}

// walkChain visits every descriptor of the chain starting at head, reading
// each table entry exactly once. The number of visited descriptors is bounded
// by the queue size to defend against loops the driver could build.
func (q *Queue) walkChain(head uint16, visit func(desc Descriptor) error) error {
	next := head
	for range q.descriptorTable {
		if int(next) >= q.size {
			return fmt.Errorf("%w: descriptor index %d is out of range",
				ErrDescriptorChainInvalid, next)
		}

		// Copy the descriptor out of the shared table so the driver cannot
		// change it between validation and use.
		desc := q.descriptorTable[next]

		if desc.flags&descriptorFlagIndirect != 0 {
			return fmt.Errorf("%w: indirect descriptors were not negotiated",
				ErrDescriptorChainInvalid)
		}

		if err := visit(desc); err != nil {
			return err
		}

		if desc.flags&descriptorFlagHasNext == 0 {
			return nil
		}
		next = desc.next
	}
	return fmt.Errorf("%w: chain starting at %d contains a loop",
		ErrDescriptorChainInvalid, head)
}
