package vhostuser

import (
	"errors"
	"fmt"

	"github.com/virtfsd/virtfsd/iov"
)

var (
	// ErrReplyInvalid is returned when a reply has no regions or its first
	// region is too short to hold a reply header.
	ErrReplyInvalid = errors.New("reply message is invalid")

	// ErrNotifyUnsupported is returned for replies whose unique is zero.
	// A zero unique marks a device-initiated notification, which this
	// transport does not send.
	ErrNotifyUnsupported = errors.New("notification messages are not supported")

	// ErrReplyTooLarge is returned when a reply does not fit into the space
	// the driver reserved in the originating chain.
	ErrReplyTooLarge = errors.New("reply exceeds the chain's reserved capacity")

	// ErrNoRequest is returned when a reply arrives on a channel with no
	// request currently being processed.
	ErrNoRequest = errors.New("no request in progress on this channel")
)

// SendReply answers the request currently being processed on the channel's
// queue. regions must start with a header region of at least [OutHeaderSize]
// bytes carrying a non-zero unique. The reply is copied into the originating
// chain's writable buffers, the chain is pushed with the reply length and the
// driver is notified.
//
// Every precondition is checked before the first byte is copied, so a failed
// reply leaves the chain untouched and the session free to retry or give up.
// Runs on the worker's own thread; queues never share completion state, so
// concurrent replies on different queues do not contend.
func (b *Backend) SendReply(ch *Channel, regions [][]byte) error {
	if err := b.sendReply(ch, regions); err != nil {
		b.metricReplyErrors.Inc(1)
		return err
	}
	b.metricReplies.Inc(1)
	return nil
}

func (b *Backend) sendReply(ch *Channel, regions [][]byte) error {
	if len(regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrReplyInvalid)
	}
	if len(regions[0]) < OutHeaderSize {
		return fmt.Errorf("%w: header region carries %d of %d bytes",
			ErrReplyInvalid, len(regions[0]), OutHeaderSize)
	}
	if replyUnique(regions[0]) == 0 {
		return ErrNotifyUnsupported
	}

	w := ch.worker
	elem := w.inprogress
	if elem == nil {
		return ErrNoRequest
	}

	total := iov.Length(regions)
	if capacity := elem.InBytes(); capacity < OutHeaderSize || capacity < total {
		return fmt.Errorf("%w: reply is %d bytes, chain reserves %d",
			ErrReplyTooLarge, total, capacity)
	}

	if err := iov.Copy(elem.In, regions, total); err != nil {
		return err
	}

	if err := w.queue.Push(elem, uint32(total)); err != nil {
		return err
	}
	// The chain is consumed; a second reply to the same request would find
	// nothing in progress and fail with ErrNoRequest.
	w.inprogress = nil
	w.replied = true
	return w.queue.Notify()
}
