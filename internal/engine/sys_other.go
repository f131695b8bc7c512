//go:build !unix

// File: internal/engine/sys_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub syscalls for platforms without a reactor backend. Pools on these
// platforms fail to spawn threads, so none of these is reached at runtime.

package engine

import (
	"net/netip"

	"github.com/momentics/hioload-net/api"
)

func openStream(netip.AddrPort) (int, error)      { return -1, api.ErrNotSupported }
func bindFD(int, netip.AddrPort) error            { return api.ErrNotSupported }
func listenFD(int, int) error                     { return api.ErrNotSupported }
func connectFD(int, netip.AddrPort) (bool, error) { return false, api.ErrNotSupported }
func acceptFD(int) (int, error)                   { return -1, api.ErrNotSupported }
func recvFD(int, []byte) (int, error)             { return 0, api.ErrNotSupported }
func sendFD(int, []byte) (int, error)             { return 0, api.ErrNotSupported }
func shutdownWriteFD(int) error                   { return api.ErrNotSupported }
func closeFD(int, bool)                           {}
func pendingError(int) error                      { return api.ErrNotSupported }
func localAddrOf(int) netip.AddrPort              { return netip.AddrPort{} }
func remoteAddrOf(int) netip.AddrPort             { return netip.AddrPort{} }
func isWouldBlock(error) bool                     { return false }
func isInterrupted(error) bool                    { return false }
func isRetryableAccept(error) bool                { return false }

// CloseFD is a no-op on unsupported platforms.
func CloseFD(int) {}
