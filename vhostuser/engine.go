package vhostuser

import (
	"github.com/virtfsd/virtfsd/virtio"
	"github.com/virtfsd/virtfsd/virtqueue"
)

// Session processes the requests read from the queues. It is implemented by
// the embedder; this transport never interprets request bytes beyond the
// header size contract.
type Session interface {
	// MaxBufferSize returns the largest request, in bytes, the session is
	// prepared to receive. Workers size their request buffer to this value
	// once; it must be at least [InHeaderSize].
	MaxBufferSize() uint32

	// ProcessRequest handles one flattened request. It is invoked
	// synchronously on the queue worker's thread and may call
	// [Backend.SendReply] with ch any number of times before returning.
	// When it returns without having replied, the chain is handed back to
	// the driver unused.
	ProcessRequest(request []byte, ch *Channel)

	// Exited reports whether the session reached its terminal state. The
	// control loop stops once this returns true.
	Exited() bool
}

// Engine is the vhost-user control-protocol engine. It owns message framing
// and negotiation on the control socket and calls back into the
// [DeviceCallbacks] it was built with while dispatching.
type Engine interface {
	// Dispatch reads and handles one protocol round from the control socket.
	Dispatch() error
}

// EngineFactory builds an [Engine] bound to an accepted control socket and
// the device's capability callbacks.
type EngineFactory func(connFD int, callbacks DeviceCallbacks) (Engine, error)

// Device exposes the negotiated per-queue state the engine has assembled so
// the backend can attach workers to started queues.
type Device interface {
	// Queue returns the device-side view of the virtqueue with the given
	// index, including its current kick descriptor.
	Queue(index int) (*virtqueue.Queue, error)
}

// WatchCallback is invoked on the control loop's thread when a watched
// descriptor becomes readable.
type WatchCallback func(fd int)

// DeviceCallbacks is the capability set the control-protocol engine requires
// from the device backend.
type DeviceCallbacks interface {
	// GetFeatures returns the feature bits this device offers.
	GetFeatures() virtio.Feature

	// SetFeatures records the feature bits the driver accepted.
	SetFeatures(features virtio.Feature)

	// SetWatch asks the control loop to also wait on fd and invoke callback
	// when it becomes readable.
	SetWatch(fd int, callback WatchCallback)

	// RemoveWatch undoes a previous SetWatch for fd.
	RemoveWatch(fd int)

	// Panic reports an unrecoverable protocol or device error. It does not
	// return control to the caller in production use.
	Panic(message string)

	// QueueStateChanged reports that the driver started or stopped the queue
	// with the given index.
	QueueStateChanged(index int, started bool)

	// QueueProcessedInOrder reports whether replies on the queue must follow
	// submission order.
	QueueProcessedInOrder(index int) bool
}
