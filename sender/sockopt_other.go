//go:build !linux

package sender

import "net"

func setSendBuffer(conn *net.UDPConn, size int) error {
	return conn.SetWriteBuffer(size)
}

func isNoBufferSpace(err error) bool {
	return false
}
