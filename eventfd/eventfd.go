// Package eventfd wraps the kernel primitives used to signal queue activity:
// eventfds for kick/call/stop signals and a ppoll based wait over a dynamic
// descriptor set.
package eventfd

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

type EventFD struct {
	fd  int
	buf [8]byte
}

func New() (EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return EventFD{}, err
	}
	return EventFD{fd: fd}, nil
}

// Wrap returns an EventFD for a descriptor owned by someone else, typically a
// kick fd received over the vhost-user channel. Close remains the owner's job.
func Wrap(fd int) EventFD {
	return EventFD{fd: fd}
}

// Kick increments the eventfd counter, waking up any waiter.
func (e *EventFD) Kick() error {
	binary.LittleEndian.PutUint64(e.buf[:], 1)
	_, err := unix.Write(e.fd, e.buf[:])
	return err
}

// Drain reads and resets the eventfd counter. A counter of zero (nothing
// pending) is not an error; the read is retried on EINTR.
func (e *EventFD) Drain() (uint64, error) {
	for {
		_, err := unix.Read(e.fd, e.buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(e.buf[:]), nil
	}
}

func (e *EventFD) FD() int {
	return e.fd
}

func (e *EventFD) Close() error {
	if e.fd != 0 {
		return unix.Close(e.fd)
	}
	return nil
}

// Ready reports the state of one descriptor after a Wait call.
type Ready struct {
	FD int
	// Readable is set when the descriptor has data to read.
	Readable bool
	// Err is set on POLLERR/POLLHUP/POLLNVAL, which a waiter must treat as
	// fatal for that descriptor.
	Err bool
}

// Wait blocks until at least one of the given descriptors becomes ready and
// returns the ready subset. The underlying ppoll is retried on EINTR rather
// than surfacing it, matching how queue waits must tolerate interruption.
func Wait(fds ...int) ([]Ready, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	for {
		n, err := unix.Ppoll(pfds, nil, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		ready := make([]Ready, 0, n)
		for _, p := range pfds {
			if p.Revents == 0 {
				continue
			}
			ready = append(ready, Ready{
				FD:       int(p.Fd),
				Readable: p.Revents&unix.POLLIN != 0,
				Err:      p.Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0,
			})
		}
		if len(ready) == 0 {
			continue
		}
		return ready, nil
	}
}
