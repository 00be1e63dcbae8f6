package virtfsd

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/virtfsd/virtfsd/config"
	"github.com/virtfsd/virtfsd/util"
	"github.com/virtfsd/virtfsd/vhostuser"
)

// Main assembles a virtfsd instance from config: it configures logging,
// creates the vhost-user control socket, waits for the VMM to connect and
// wires the session and protocol engine to a Backend. The returned Control
// runs the instance; nothing processes requests until Control.Start is
// called.
//
// When configTest is true everything is validated but nothing is mounted or
// started and a nil Control is returned.
func Main(c *config.C, configTest bool, buildVersion string, logger *logrus.Logger, session vhostuser.Session, newEngine vhostuser.EngineFactory) (retcon *Control, reterr error) {
	ctx, cancel := context.WithCancel(context.Background())
	// Automatically close the context when this function returns an error
	defer func() {
		if reterr != nil {
			cancel()
		}
	}()

	l := logger
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp: true,
	}

	err := configLogger(l, c)
	if err != nil {
		return nil, util.NewContextualError("Failed to configure the logger", nil, err)
	}

	c.RegisterReloadCallback(func(c *config.C) {
		err := configLogger(l, c)
		if err != nil {
			l.WithError(err).Error("Failed to configure the logger")
		}
	})

	socketPath := c.GetString("vhost.socket", "")
	if socketPath == "" {
		return nil, util.NewContextualError("vhost.socket is not set", nil, nil)
	}

	if session == nil {
		return nil, util.NewContextualError("A session is required", nil, nil)
	}
	if newEngine == nil {
		return nil, util.NewContextualError("An engine factory is required", nil, nil)
	}

	statsStart, err := startStats(l, c, buildVersion, configTest)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to start stats emission", err)
	}

	if configTest {
		return nil, nil
	}

	connFD, err := vhostuser.Mount(l, socketPath)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to mount the control socket", err)
	}

	backend := vhostuser.NewBackend(l, session)

	engine, err := newEngine(connFD, backend)
	if err != nil {
		return nil, util.ContextualizeIfNeeded("Failed to create the vhost-user engine", err)
	}

	loop := vhostuser.NewLoop(l, connFD, engine, session, backend)

	go c.CatchHUP(ctx)

	return &Control{
		l:          l,
		cancel:     cancel,
		backend:    backend,
		loop:       loop,
		connFD:     connFD,
		statsStart: statsStart,
		loopDone:   make(chan struct{}),
	}, nil
}
