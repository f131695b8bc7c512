//go:build linux

// File: internal/engine/sys_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import "golang.org/x/sys/unix"

// sendFlags suppresses SIGPIPE on writes to a reset peer.
const sendFlags = unix.MSG_NOSIGNAL

func acceptFD(fd int) (int, error) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nfd, nil
}
