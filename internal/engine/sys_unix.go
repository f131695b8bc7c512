//go:build unix

// File: internal/engine/sys_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Raw non-blocking socket syscalls used by reactor threads.

package engine

import (
	"errors"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

func sockaddrOf(addr netip.AddrPort) unix.Sockaddr {
	ip := addr.Addr().Unmap()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
}

func addrOf(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	}
	return netip.AddrPort{}
}

// openStream creates a non-blocking, close-on-exec TCP socket for addr's family.
func openStream(addr netip.AddrPort) (int, error) {
	family := unix.AF_INET6
	if addr.Addr().Unmap().Is4() {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(fd)
	if err := prepareConnFD(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// prepareConnFD puts fd in non-blocking mode and disables Nagle.
func prepareConnFD(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return nil
}

func bindFD(fd int, addr netip.AddrPort) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return err
	}
	return unix.Bind(fd, sockaddrOf(addr))
}

func listenFD(fd, backlog int) error {
	return unix.Listen(fd, backlog)
}

// connectFD starts a non-blocking connect. inProgress is true when completion
// will be reported as write readiness.
func connectFD(fd int, addr netip.AddrPort) (inProgress bool, err error) {
	err = unix.Connect(fd, sockaddrOf(addr))
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EINTR), errors.Is(err, unix.EALREADY):
		return true, nil
	}
	return false, err
}

func recvFD(fd int, p []byte) (int, error) {
	return unix.Read(fd, p)
}

func sendFD(fd int, p []byte) (int, error) {
	return unix.SendmsgN(fd, p, nil, nil, sendFlags)
}

func shutdownWriteFD(fd int) error {
	return unix.Shutdown(fd, unix.SHUT_WR)
}

// closeFD closes fd. With abort set the connection is reset instead of
// going through an orderly FIN exchange.
func closeFD(fd int, abort bool) {
	if abort {
		_ = unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	}
	_ = unix.Close(fd)
}

// pendingError fetches and clears SO_ERROR.
func pendingError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if v != 0 {
		return syscall.Errno(v)
	}
	return nil
}

func localAddrOf(fd int) netip.AddrPort {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrOf(sa)
}

func remoteAddrOf(fd int) netip.AddrPort {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return netip.AddrPort{}
	}
	return addrOf(sa)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// isRetryableAccept reports accept errors that concern one aborted peer,
// not the listening socket.
func isRetryableAccept(err error) bool {
	return errors.Is(err, unix.ECONNABORTED) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EPROTO)
}

// CloseFD closes a descriptor handed out through ListenOwner.HandleAccept
// that could not be adopted.
func CloseFD(fd int) {
	_ = unix.Close(fd)
}
