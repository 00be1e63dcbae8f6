package vhostuser

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/virtfsd/virtfsd/eventfd"
)

// Loop is the single thread that owns the vhost-user control socket. It waits
// on the socket plus any descriptors the engine registered through SetWatch
// and dispatches protocol rounds to the engine. Queue I/O never happens here;
// that is the workers' job.
type Loop struct {
	l       *logrus.Logger
	connFD  int
	engine  Engine
	session Session
	backend *Backend

	// shutdown marks an orderly stop. Once set, the control connection going
	// away is the expected outcome, not a failure.
	shutdown atomic.Bool
}

// NewLoop creates a control loop over the accepted control connection.
func NewLoop(l *logrus.Logger, connFD int, engine Engine, session Session, backend *Backend) *Loop {
	return &Loop{
		l:       l,
		connFD:  connFD,
		engine:  engine,
		session: session,
		backend: backend,
	}
}

// Shutdown tells the loop that the control connection is about to be closed
// on purpose. Called before the close so the resulting descriptor error is
// not reported as a failure.
func (lo *Loop) Shutdown() {
	lo.shutdown.Store(true)
}

// Run blocks until the session exits, the loop is shut down or the control
// connection fails. The watch set is re-read on every iteration, so watches
// added or removed during a dispatch take effect on the next wait.
func (lo *Loop) Run() error {
	lo.l.Debug("Control loop running")

	for !lo.session.Exited() {
		fds := append([]int{lo.connFD}, lo.backend.watchFDs()...)
		ready, err := eventfd.Wait(fds...)
		if err != nil {
			if lo.shutdown.Load() {
				break
			}
			return fmt.Errorf("waiting on control socket: %w", err)
		}

		for _, r := range ready {
			if r.FD != lo.connFD {
				if cb := lo.backend.watchCallback(r.FD); cb != nil {
					cb(r.FD)
				}
				continue
			}

			if r.Err {
				if lo.shutdown.Load() {
					lo.l.Debug("Control loop finished, shut down")
					return nil
				}
				return fmt.Errorf("control socket closed by the peer")
			}
			if err := lo.engine.Dispatch(); err != nil {
				if lo.shutdown.Load() {
					lo.l.Debug("Control loop finished, shut down")
					return nil
				}
				return fmt.Errorf("dispatching control message: %w", err)
			}
		}
	}

	lo.l.Debug("Control loop finished")
	return nil
}
