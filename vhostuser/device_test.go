package vhostuser

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtfsd/virtfsd/eventfd"
	"github.com/virtfsd/virtfsd/virtqueue"
)

// The helpers below play the driver: they own the shared memory of a queue,
// write descriptors and available-ring entries into it the way a guest would
// and read completions back out of the used ring.

const (
	descFlagNext  = 1
	descFlagWrite = 2
)

type testQueue struct {
	q     *virtqueue.Queue
	guest []byte

	descTable []byte
	availRing []byte
	usedRing  []byte

	kick eventfd.EventFD
	call eventfd.EventFD

	size      int
	nextDesc  int
	nextGuest uint64

	// lastInAddrs holds the guest addresses of the writable regions of the
	// most recently submitted chain.
	lastInAddrs []uint64
}

func newTestQueue(t *testing.T, size int) *testQueue {
	t.Helper()

	kick, err := eventfd.New()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, kick.Close()) })
	call, err := eventfd.New()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, call.Close()) })

	tq := &testQueue{
		guest:     make([]byte, 1<<16),
		descTable: make([]byte, virtqueue.DescriptorTableSize(size)),
		availRing: make([]byte, virtqueue.AvailableRingSize(size)),
		usedRing:  make([]byte, virtqueue.UsedRingSize(size)),
		kick:      kick,
		call:      call,
		size:      size,
		nextGuest: 0x100,
	}

	memAt := func(address uint64, length uint32) []byte {
		end := address + uint64(length)
		if end < address || end > uint64(len(tq.guest)) {
			return nil
		}
		return tq.guest[address:end]
	}

	tq.q, err = virtqueue.NewQueue(size, virtqueue.Memory{
		DescriptorTable: tq.descTable,
		AvailableRing:   tq.availRing,
		UsedRing:        tq.usedRing,
	}, memAt, kick, call)
	require.NoError(t, err)
	return tq
}

func (tq *testQueue) writeDescriptor(index int, address uint64, length uint32, flags, next uint16) {
	off := index * 16
	binary.LittleEndian.PutUint64(tq.descTable[off:], address)
	binary.LittleEndian.PutUint32(tq.descTable[off+8:], length)
	binary.LittleEndian.PutUint16(tq.descTable[off+12:], flags)
	binary.LittleEndian.PutUint16(tq.descTable[off+14:], next)
}

// submit builds a descriptor chain carrying the given request regions and
// reserving the given reply region sizes, then publishes it on the available
// ring. It returns the chain's head index.
func (tq *testQueue) submit(out [][]byte, inSizes []int) uint16 {
	head := uint16(tq.nextDesc)
	total := len(out) + len(inSizes)

	for i, region := range out {
		addr := tq.nextGuest
		copy(tq.guest[addr:], region)
		tq.nextGuest += uint64(len(region))

		flags := uint16(0)
		if i < total-1 {
			flags |= descFlagNext
		}
		tq.writeDescriptor(tq.nextDesc, addr, uint32(len(region)), flags, uint16(tq.nextDesc+1))
		tq.nextDesc++
	}
	tq.lastInAddrs = tq.lastInAddrs[:0]
	for i, size := range inSizes {
		addr := tq.nextGuest
		tq.lastInAddrs = append(tq.lastInAddrs, addr)
		tq.nextGuest += uint64(size)

		flags := uint16(descFlagWrite)
		if len(out)+i < total-1 {
			flags |= descFlagNext
		}
		tq.writeDescriptor(tq.nextDesc, addr, uint32(size), flags, uint16(tq.nextDesc+1))
		tq.nextDesc++
	}

	idx := binary.LittleEndian.Uint16(tq.availRing[2:4])
	binary.LittleEndian.PutUint16(tq.availRing[4+2*(int(idx)%tq.size):], head)
	binary.LittleEndian.PutUint16(tq.availRing[2:4], idx+1)
	return head
}

// usedEntries reads all completions the device has published.
func (tq *testQueue) usedEntries() []virtqueue.UsedElement {
	idx := binary.LittleEndian.Uint16(tq.usedRing[2:4])
	entries := make([]virtqueue.UsedElement, 0, idx)
	for i := 0; i < int(idx); i++ {
		off := 4 + 8*(i%tq.size)
		entries = append(entries, virtqueue.UsedElement{
			DescriptorIndex: binary.LittleEndian.Uint32(tq.usedRing[off:]),
			Length:          binary.LittleEndian.Uint32(tq.usedRing[off+4:]),
		})
	}
	return entries
}

// guestAt returns a view of guest memory starting at the given address.
func (tq *testQueue) guestAt(addr uint64, length int) []byte {
	return tq.guest[addr : addr+uint64(length)]
}

// testDevice hands out test queues by index.
type testDevice struct {
	queues map[int]*testQueue
}

func newTestDevice() *testDevice {
	return &testDevice{queues: make(map[int]*testQueue)}
}

func (d *testDevice) Queue(index int) (*virtqueue.Queue, error) {
	tq, ok := d.queues[index]
	if !ok {
		return nil, fmt.Errorf("no queue with index %d", index)
	}
	return tq.q, nil
}

// recordingSession captures the requests it receives and runs a configurable
// reply step for each one.
type recordingSession struct {
	maxBufferSize uint32
	onRequest     func(request []byte, ch *Channel)

	requests [][]byte
	exited   bool
}

func (s *recordingSession) MaxBufferSize() uint32 {
	return s.maxBufferSize
}

func (s *recordingSession) ProcessRequest(request []byte, ch *Channel) {
	s.requests = append(s.requests, append([]byte(nil), request...))
	if s.onRequest != nil {
		s.onRequest(request, ch)
	}
}

func (s *recordingSession) Exited() bool {
	return s.exited
}

// newTestWorker wires a worker to a queue without spawning its thread, so
// tests can drive the pop/process cycle synchronously.
func newTestWorker(t *testing.T, b *Backend, tq *testQueue, index int) *queueWorker {
	t.Helper()

	stop, err := eventfd.New()
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, stop.Close()) })

	return &queueWorker{
		l:       b.l.WithField("queue", index),
		index:   index,
		backend: b,
		session: b.session,
		queue:   tq.q,
		kickFD:  tq.q.KickFD(),
		stop:    stop,
		done:    make(chan struct{}),
	}
}
