//go:build unix && !linux

// File: internal/engine/sys_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import "golang.org/x/sys/unix"

const sendFlags = 0

func acceptFD(fd int) (int, error) {
	nfd, _, err := unix.Accept(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(nfd)
	if err := prepareConnFD(nfd); err != nil {
		unix.Close(nfd)
		return -1, err
	}
	return nfd, nil
}
