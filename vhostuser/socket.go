package vhostuser

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/virtfsd/virtfsd/util"
)

// maxSocketPathLen mirrors the size of sockaddr_un.sun_path. Longer paths
// cannot be bound, including the terminating NUL.
const maxSocketPathLen = 108

// Mount creates the vhost-user control socket at path, waits for the VMM to
// connect and returns the accepted connection descriptor. Exactly one
// connection is served; the listener is closed once it arrives. Failures are
// startup errors with no retry.
func Mount(l *logrus.Logger, path string) (int, error) {
	if len(path) >= maxSocketPathLen {
		return -1, util.NewContextualError(
			"Control socket path is too long",
			map[string]any{"path": path, "max": maxSocketPathLen - 1}, nil)
	}

	// A stale socket from a previous run would make Bind fail.
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return -1, util.NewContextualError(
			"Failed to remove stale control socket",
			map[string]any{"path": path}, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, util.NewContextualError("Failed to create control socket", nil, err)
	}

	if err = unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, util.NewContextualError(
			"Failed to bind control socket",
			map[string]any{"path": path}, err)
	}

	if err = unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return -1, util.NewContextualError(
			"Failed to listen on control socket",
			map[string]any{"path": path}, err)
	}

	l.WithField("path", path).Info("Waiting for the VMM to connect")

	var conn int
	for {
		conn, _, err = unix.Accept(fd)
		if err == unix.EINTR {
			continue
		}
		break
	}
	unix.Close(fd)
	if err != nil {
		return -1, util.NewContextualError(
			"Failed to accept the VMM connection",
			map[string]any{"path": path}, err)
	}

	l.WithField("path", path).Info("VMM connected")
	return conn, nil
}
