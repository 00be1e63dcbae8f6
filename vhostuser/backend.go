// Package vhostuser implements the queue-processing side of a vhost-user
// device backend: per-queue workers that pop descriptor chains, flatten the
// request bytes for an external session and copy the session's reply back
// into guest-supplied buffers.
//
// The vhost-user control-protocol engine itself (negotiation, message
// framing) is a collaborator behind the [Engine] interface; this package
// provides the [DeviceCallbacks] such an engine requires.
package vhostuser

import (
	"fmt"
	"sync"

	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"

	"github.com/virtfsd/virtfsd/eventfd"
	"github.com/virtfsd/virtfsd/virtio"
)

// Backend owns the queue table and implements the [DeviceCallbacks] the
// control-protocol engine invokes during dispatch.
//
// The queue table grows, it never shrinks and entries never move, so a worker
// resolving its own slot at reply time cannot observe a dangling record. All
// table mutations happen under mu and in practice only on the control loop's
// thread.
type Backend struct {
	l       *logrus.Logger
	session Session
	device  Device

	mu      sync.Mutex
	queues  []*queueWorker
	watches map[int]WatchCallback

	features virtio.Feature

	// panicFn terminates the process on unrecoverable guest or protocol
	// errors. Tests swap it out to observe the abort instead of dying.
	panicFn func(format string, args ...any)

	metricRequests      metrics.Counter
	metricSpuriousKicks metrics.Counter
	metricReplies       metrics.Counter
	metricReplyErrors   metrics.Counter
	metricStartedQueues metrics.Gauge
}

// NewBackend creates a backend processing requests with the given session.
// AttachDevice must be called before the engine starts any queue.
func NewBackend(l *logrus.Logger, session Session) *Backend {
	b := &Backend{
		l:       l,
		session: session,
		watches: make(map[int]WatchCallback),

		metricRequests:      metrics.GetOrRegisterCounter("vhostuser.requests", nil),
		metricSpuriousKicks: metrics.GetOrRegisterCounter("vhostuser.kicks.spurious", nil),
		metricReplies:       metrics.GetOrRegisterCounter("vhostuser.replies", nil),
		metricReplyErrors:   metrics.GetOrRegisterCounter("vhostuser.replies.errors", nil),
		metricStartedQueues: metrics.GetOrRegisterGauge("vhostuser.queues.started", nil),
	}
	b.panicFn = func(format string, args ...any) {
		l.Fatalf(format, args...)
	}
	return b
}

// AttachDevice hands the backend the engine's negotiated queue state. Called
// once during connection setup, before any queue is started.
func (b *Backend) AttachDevice(device Device) {
	b.device = device
}

// GetFeatures advertises virtio 1.0 compliance and nothing else. Indirect
// descriptors and event indexes stay unnegotiated, which keeps the chain walk
// and notification paths simple.
func (b *Backend) GetFeatures() virtio.Feature {
	return virtio.FeatureVersion1
}

// SetFeatures records the driver's accepted feature bits. No offered feature
// changes behavior, so there is nothing to act on.
func (b *Backend) SetFeatures(features virtio.Feature) {
	b.features = features
	b.l.WithField("features", fmt.Sprintf("%#x", uint64(features))).
		Debug("Driver acknowledged features")
}

// SetWatch registers an auxiliary descriptor with the control loop's wait
// set. The callback runs on the control loop's thread.
func (b *Backend) SetWatch(fd int, callback WatchCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watches[fd] = callback
}

// RemoveWatch unregisters a descriptor from the control loop's wait set.
func (b *Backend) RemoveWatch(fd int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watches, fd)
}

// watchFDs returns a snapshot of the watched descriptors.
func (b *Backend) watchFDs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	fds := make([]int, 0, len(b.watches))
	for fd := range b.watches {
		fds = append(fds, fd)
	}
	return fds
}

// watchCallback looks up the callback registered for fd, if any.
func (b *Backend) watchCallback(fd int) WatchCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watches[fd]
}

// Panic reports an unrecoverable error from the protocol engine. There is no
// reconnect path, the process terminates.
func (b *Backend) Panic(message string) {
	b.panicFn("vhost-user device panic: %s", message)
}

// QueueProcessedInOrder always reports false: each queue is drained by a
// single worker, but the session may defer and reorder replies freely.
func (b *Backend) QueueProcessedInOrder(index int) bool {
	return false
}

// QueueStateChanged starts or stops the worker for the given queue. Queue 0
// is the reserved notification queue and never gets a worker.
func (b *Backend) QueueStateChanged(index int, started bool) {
	if index == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if started {
		b.startQueue(index)
	} else {
		b.stopQueue(index)
	}
}

// startQueue must be called with mu held.
func (b *Backend) startQueue(index int) {
	for len(b.queues) <= index {
		b.queues = append(b.queues, nil)
	}

	if w := b.queues[index]; w != nil && w.kickFD != -1 {
		b.panicFn("queue %d was started twice without an intervening stop", index)
		return
	}

	if b.device == nil {
		b.panicFn("queue %d started before a device was attached", index)
		return
	}
	queue, err := b.device.Queue(index)
	if err != nil {
		b.panicFn("queue %d state is unusable: %v", index, err)
		return
	}

	stop, err := eventfd.New()
	if err != nil {
		b.panicFn("creating stop eventfd for queue %d: %v", index, err)
		return
	}

	w := &queueWorker{
		l:       b.l.WithField("queue", index),
		index:   index,
		backend: b,
		session: b.session,
		queue:   queue,
		kickFD:  queue.KickFD(),
		stop:    stop,
		done:    make(chan struct{}),
	}
	b.queues[index] = w
	b.metricStartedQueues.Update(int64(b.startedQueuesLocked()))

	w.l.Info("Starting queue worker")
	go w.run()
}

// stopQueue must be called with mu held. It signals the worker, waits for it
// to finish and only then marks the record stopped, so a stopped slot never
// has a thread still touching its queue.
func (b *Backend) stopQueue(index int) {
	if index >= len(b.queues) || b.queues[index] == nil {
		b.l.WithField("queue", index).Warn("Ignoring stop for unknown queue")
		return
	}

	w := b.queues[index]
	if w.kickFD == -1 {
		return
	}

	w.l.Info("Stopping queue worker")
	if err := w.stop.Kick(); err != nil {
		b.panicFn("signalling stop for queue %d: %v", index, err)
		return
	}
	<-w.done
	if err := w.stop.Close(); err != nil {
		w.l.WithError(err).Error("Failed to close stop eventfd")
	}

	w.kickFD = -1
	b.metricStartedQueues.Update(int64(b.startedQueuesLocked()))
}

// Stop stops all started queue workers. Used during shutdown and when the
// control connection goes away.
func (b *Backend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for index := range b.queues {
		if index == 0 {
			continue
		}
		b.stopQueue(index)
	}
}

// startedQueuesLocked must be called with mu held.
func (b *Backend) startedQueuesLocked() int {
	var n int
	for _, w := range b.queues {
		if w != nil && w.kickFD != -1 {
			n++
		}
	}
	return n
}
