package sender

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// setSendBuffer sets the socket send buffer. It tries to exceed the system
// limit first, which requires CAP_NET_ADMIN.
func setSendBuffer(conn *net.UDPConn, size int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	controlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUFFORCE, size)
		if sockErr != nil {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
		}
	})
	if controlErr != nil {
		return controlErr
	}
	return sockErr
}

func isNoBufferSpace(err error) bool {
	return errors.Is(err, unix.ENOBUFS)
}
