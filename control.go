package virtfsd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/virtfsd/virtfsd/util"
	"github.com/virtfsd/virtfsd/vhostuser"
)

// Control holds a running virtfsd instance.
type Control struct {
	l          *logrus.Logger
	cancel     context.CancelFunc
	backend    *vhostuser.Backend
	loop       *vhostuser.Loop
	connFD     int
	statsStart func()

	loopDone chan struct{}
	stopOnce sync.Once
}

// Start runs the control loop, this is a nonblocking call. To block use
// Control.ShutdownBlock()
func (c *Control) Start() {
	if c.statsStart != nil {
		go c.statsStart()
	}

	go func() {
		defer close(c.loopDone)
		if err := c.loop.Run(); err != nil {
			util.LogWithContextIfNeeded("Control loop failed", err, c.l)
		}
	}()
}

// Stop signals virtfsd to shutdown, returns after the shutdown is complete
func (c *Control) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()

		// Stopping the queues joins every worker; closing the control
		// connection unblocks the control loop's wait. The loop is told
		// first so it treats the closed descriptor as an orderly stop.
		c.backend.Stop()
		c.loop.Shutdown()
		if err := unix.Close(c.connFD); err != nil {
			c.l.WithError(err).Error("Failed to close the control connection")
		}
		<-c.loopDone

		c.l.Info("Goodbye")
	})
}

// ShutdownBlock will listen for and block on term and interrupt signals,
// calling Control.Stop() once signalled. It also returns when the control
// loop finishes on its own, which happens when the session exits or the VMM
// disconnects.
func (c *Control) ShutdownBlock() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case rawSig := <-sigChan:
		sig := rawSig.String()
		c.l.WithField("signal", sig).Info("Caught signal, shutting down")
	case <-c.loopDone:
		c.l.Info("Control loop finished, shutting down")
	}
	c.Stop()
}
