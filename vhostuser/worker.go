package vhostuser

import (
	"errors"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/virtfsd/virtfsd/eventfd"
	"github.com/virtfsd/virtfsd/iov"
	"github.com/virtfsd/virtfsd/virtqueue"
)

// Channel identifies the queue a request arrived on. The session passes it
// back to [Backend.SendReply] to answer the request that is currently being
// processed on that queue.
type Channel struct {
	worker *queueWorker
}

// Queue returns the index of the queue this channel belongs to.
func (ch *Channel) Queue() int {
	return ch.worker.index
}

// SendReply answers the request in progress on this channel, see
// [Backend.SendReply].
func (ch *Channel) SendReply(regions [][]byte) error {
	return ch.worker.backend.SendReply(ch, regions)
}

// queueWorker drains one virtqueue on its own OS thread. It alone touches the
// queue's pop side; the reply path runs synchronously inside ProcessRequest
// on the same thread, so no lock guards the queue or the in-progress chain.
type queueWorker struct {
	l       *logrus.Entry
	index   int
	backend *Backend
	session Session

	queue *virtqueue.Queue

	// kickFD is the driver's kick descriptor, owned by the engine. It is -1
	// once the queue was stopped.
	kickFD int
	// stop wakes the worker out of its kick wait during queue stop.
	stop eventfd.EventFD
	// done is closed when run returns, so stop can join the worker.
	done chan struct{}

	// buf holds the flattened request. Allocated once, on the first chain,
	// to the session's declared maximum and reused for every request after.
	buf []byte

	// inprogress is the chain the session is currently working on; the reply
	// path resolves it through the channel. replied records whether the
	// session answered it.
	inprogress *virtqueue.Element
	replied    bool
}

// run is the worker loop: wait for a kick, drain the queue, repeat. It exits
// on a stop signal or on a wait failure.
func (w *queueWorker) run() {
	// The wait suspends the calling thread, keep the goroutine pinned.
	runtime.LockOSThread()
	defer close(w.done)

	kick := eventfd.Wrap(w.kickFD)
	w.l.Debug("Queue worker running")

	for {
		ready, err := eventfd.Wait(kick.FD(), w.stop.FD())
		if err != nil {
			w.l.WithError(err).Error("Queue kick wait failed, stopping worker")
			return
		}

		var kicked bool
		for _, r := range ready {
			switch r.FD {
			case w.stop.FD():
				if _, err := w.stop.Drain(); err != nil {
					w.l.WithError(err).Error("Failed to drain stop eventfd")
				}
				w.l.Debug("Queue worker stopping")
				return
			case kick.FD():
				if r.Err {
					w.l.Error("Queue kick descriptor failed, stopping worker")
					return
				}
				kicked = true
			}
		}
		if !kicked {
			continue
		}

		if _, err := kick.Drain(); err != nil {
			w.l.WithError(err).Error("Failed to drain kick eventfd, stopping worker")
			return
		}

		out, in, err := w.queue.AvailableBytes()
		if err != nil {
			w.backend.panicFn("queue %d: measuring available chains: %v", w.index, err)
			return
		}
		w.l.WithField("outBytes", out).WithField("inBytes", in).
			Trace("Queue worker woken")
		if out == 0 {
			// The driver kicked without submitting request bytes.
			w.backend.metricSpuriousKicks.Inc(1)
			continue
		}

		if !w.drain() {
			return
		}
	}
}

// drain pops and processes chains until the queue is empty. It reports false
// when the worker must exit because the queue state is corrupt.
func (w *queueWorker) drain() bool {
	for {
		elem, err := w.queue.Pop()
		if errors.Is(err, virtqueue.ErrQueueEmpty) {
			return true
		}
		if err != nil {
			// Chains are guest-controlled input. A chain this transport
			// cannot parse means the driver is broken or hostile, and
			// continuing would process requests with unknown framing.
			w.backend.panicFn("queue %d: popping descriptor chain: %v", w.index, err)
			return false
		}
		if !w.process(elem) {
			return false
		}
	}
}

// process flattens one chain, hands it to the session and returns the chain
// to the driver when the session did not reply. It reports false when the
// worker must exit.
func (w *queueWorker) process(elem *virtqueue.Element) bool {
	if w.buf == nil {
		size := w.session.MaxBufferSize()
		if size < InHeaderSize {
			w.backend.panicFn(
				"session buffer size %d cannot hold a %d byte request header",
				size, InHeaderSize)
			return false
		}
		w.buf = make([]byte, size)
	}

	outLen := elem.OutBytes()
	if outLen < InHeaderSize || outLen > len(w.buf) {
		w.backend.panicFn(
			"queue %d: chain carries %d request bytes, must be within [%d, %d]",
			w.index, outLen, InHeaderSize, len(w.buf))
		return false
	}

	n := iov.Flatten(w.buf, elem.Out)

	w.inprogress = elem
	w.replied = false
	w.backend.metricRequests.Inc(1)
	w.session.ProcessRequest(w.buf[:n], &Channel{worker: w})
	w.inprogress = nil

	if !w.replied {
		// The session chose not to answer; hand the chain back unused.
		if err := w.queue.Release(elem); err != nil {
			w.backend.panicFn("queue %d: releasing chain: %v", w.index, err)
			return false
		}
	}
	return true
}
