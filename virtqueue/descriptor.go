package virtqueue

// descriptorFlag is a flag that describes a [Descriptor].
type descriptorFlag uint16

const (
	// descriptorFlagHasNext marks a descriptor chain as continuing via the next
	// field.
	descriptorFlagHasNext descriptorFlag = 1 << iota
	// descriptorFlagWritable marks a buffer as device write-only (otherwise
	// device read-only).
	descriptorFlagWritable
	// descriptorFlagIndirect means the buffer contains a list of buffer
	// descriptors to provide an additional layer of indirection. The driver may
	// only use it when [virtio.FeatureRingIndirectDescriptors] was negotiated,
	// which this device never offers.
	descriptorFlagIndirect
)

// descriptorSize is the number of bytes needed to store a [Descriptor] in
// memory.
const descriptorSize = 16

// Descriptor describes (a part of) a buffer which is either read-only for the
// device or write-only for the device (depending on [descriptorFlagWritable]).
// Multiple descriptors can be chained to produce a "descriptor chain" holding
// both device-readable and device-writable buffers; device-readable
// descriptors always come first in a chain.
//
// The descriptor table lives in driver-owned shared memory. Every field is
// untrusted input: the driver can change it at any time, so each field is
// read exactly once per operation and validated before use.
type Descriptor struct {
	// address is the guest physical address of the buffer. It has no meaning
	// on the device side until translated through a [MemAtFunc].
	address uint64
	// length is the amount of bytes stored at address.
	length uint32
	// flags that describe this descriptor.
	flags descriptorFlag
	// next contains the index of the next descriptor continuing this chain
	// when the [descriptorFlagHasNext] flag is set.
	next uint16
}
