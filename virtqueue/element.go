package virtqueue

import "sync"

// Element is a descriptor chain popped from a queue. It borrows the
// driver-owned buffers the chain points to, split into the device-readable
// and device-writable regions in chain order.
//
// An Element stays valid until it is passed back to [Queue.Push] or
// [Queue.Release]. The head index is not exported so that chains cannot be
// returned to a queue they were not popped from.
type Element struct {
	head uint16

	// Out contains the device-readable buffer regions of the chain.
	Out [][]byte
	// In contains the device-writable buffer regions of the chain.
	In [][]byte
}

// OutBytes returns the total number of device-readable bytes in the chain.
func (e *Element) OutBytes() int {
	var n int
	for _, region := range e.Out {
		n += len(region)
	}
	return n
}

// InBytes returns the total number of device-writable bytes in the chain.
func (e *Element) InBytes() int {
	var n int
	for _, region := range e.In {
		n += len(region)
	}
	return n
}

// reset clears the element for reuse while keeping the region slices
// allocated.
func (e *Element) reset() {
	e.head = 0
	e.Out = e.Out[:0]
	e.In = e.In[:0]
}

var elementPool = sync.Pool{
	New: func() any {
		return new(Element)
	},
}
