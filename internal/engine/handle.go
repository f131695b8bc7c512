// File: internal/engine/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket handles and the command messages that drive them. A handle's
// lifecycle fields belong to its reactor thread; other goroutines only post
// operations or touch the atomics at the bottom of the struct.

package engine

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/core/stream"
	"github.com/momentics/hioload-net/internal/sockstate"
	"github.com/momentics/hioload-net/reactor"
)

// ConnOwner is the user-facing side of a client socket. Every method runs on
// the owning reactor thread and must not block.
type ConnOwner interface {
	// Inbound receives bytes read from the socket.
	Inbound() *stream.Duplex
	// Outbound is drained onto the socket.
	Outbound() *stream.Duplex
	HandleOpen()
	HandleDrain()
	HandleTimeout()
	HandleError(err error)
	HandleClose(err error)
}

// ListenOwner is the user-facing side of a listening socket. Every method
// runs on the owning reactor thread and must not block.
type ListenOwner interface {
	HandleListening()
	// HandleAccept takes ownership of a freshly accepted, non-blocking fd.
	HandleAccept(fd int)
	HandleError(err error)
	HandleClose(err error)
}

// Payload carries operation arguments. Only the fields an op needs are set.
type Payload struct {
	Endpoint string
	Addr     netip.AddrPort
	// Resolved marks an op re-posted after off-thread name resolution.
	Resolved bool
	// FD is an already connected descriptor for AttachAsClient, or -1.
	FD      int
	Backlog int
	Err     error
}

// Op is an immutable request for a lifecycle transition.
type Op struct {
	Handle  *Handle
	Kind    sockstate.OpKind
	Payload Payload
}

// Handle is the per-socket bookkeeping record.
type Handle struct {
	id     uint64
	pool   *Pool
	thread *Thread

	conn     ConnOwner
	listener ListenOwner

	// Owned by the reactor thread.
	fd              int
	role            sockstate.Role
	state           sockstate.State
	attached        bool
	registered      bool
	interest        reactor.Interest
	readClosed      bool
	writeClosed     bool
	shutdownPending bool
	resolving       bool
	deferred        []Op
	sendBuf         []byte
	sendOff         int
	sendLen         int
	wroteSinceDrain bool
	lastActivity    time.Time
	drainSince      time.Time
	timeoutFired    bool

	// Shared with other goroutines.
	stateMirror   atomic.Int32
	allowHalfOpen atomic.Bool
	idleTimeout   atomic.Int64
	addrMu        sync.Mutex
	local         netip.AddrPort
	remote        netip.AddrPort
}

func newHandle(p *Pool, t *Thread) *Handle {
	h := &Handle{
		id:     p.nextHandleID.Add(1),
		pool:   p,
		thread: t,
		fd:     -1,
	}
	return h
}

// ID is a process-unique handle number used in logs.
func (h *Handle) ID() uint64 { return h.id }

// State returns the last published lifecycle state.
func (h *Handle) State() sockstate.State {
	return sockstate.State(h.stateMirror.Load())
}

// LocalAddr returns the bound local endpoint, if known.
func (h *Handle) LocalAddr() netip.AddrPort {
	h.addrMu.Lock()
	defer h.addrMu.Unlock()
	return h.local
}

// RemoteAddr returns the connected peer endpoint, if known.
func (h *Handle) RemoteAddr() netip.AddrPort {
	h.addrMu.Lock()
	defer h.addrMu.Unlock()
	return h.remote
}

// SetAllowHalfOpen selects whether the two directions close independently.
func (h *Handle) SetAllowHalfOpen(enabled bool) { h.allowHalfOpen.Store(enabled) }

// AllowHalfOpen reports the half-open policy.
func (h *Handle) AllowHalfOpen() bool { return h.allowHalfOpen.Load() }

// SetIdleTimeout arms the advisory idle timeout; zero disables it.
func (h *Handle) SetIdleTimeout(d time.Duration) { h.idleTimeout.Store(int64(d)) }

// Bind requests binding to a resolved local address.
func (h *Handle) Bind(addr netip.AddrPort) error {
	return h.post(sockstate.OpBind, Payload{Addr: addr})
}

// ResolveAndBind requests binding to host:port, resolving it off-thread if
// it is not a literal address.
func (h *Handle) ResolveAndBind(endpoint string) error {
	return h.post(sockstate.OpResolveAndBind, Payload{Endpoint: endpoint})
}

// Listen requests listening with the given backlog (zero uses the default).
func (h *Handle) Listen(backlog int) error {
	return h.post(sockstate.OpListen, Payload{Backlog: backlog})
}

// StopListening closes a listening socket.
func (h *Handle) StopListening() error {
	return h.post(sockstate.OpStopListening, Payload{})
}

// ResolveAndConnect requests a non-blocking connect to host:port.
func (h *Handle) ResolveAndConnect(endpoint string) error {
	return h.post(sockstate.OpResolveAndConnect, Payload{Endpoint: endpoint})
}

// ShutdownWrite requests a graceful close of the write side once queued
// outbound bytes are flushed.
func (h *Handle) ShutdownWrite() error {
	return h.post(sockstate.OpShutdownWrite, Payload{})
}

// Terminate requests immediate destruction. It returns before the socket is
// actually closed.
func (h *Handle) Terminate(reason error) error {
	return h.post(sockstate.OpTerminate, Payload{Err: reason})
}

// NotifyWritable wakes the owning thread after bytes were queued outbound.
func (h *Handle) NotifyWritable() {
	h.thread.wake()
}

func (h *Handle) post(kind sockstate.OpKind, payload Payload) error {
	return h.thread.post(Op{Handle: h, Kind: kind, Payload: payload})
}

func (h *Handle) setState(s sockstate.State) {
	h.state = s
	h.stateMirror.Store(int32(s))
}

func (h *Handle) setAddrs(local, remote netip.AddrPort) {
	h.addrMu.Lock()
	if local.IsValid() {
		h.local = local
	}
	if remote.IsValid() {
		h.remote = remote
	}
	h.addrMu.Unlock()
}

func (h *Handle) touch(now time.Time) {
	h.lastActivity = now
	h.timeoutFired = false
}

// hasOutbound reports whether bytes wait to be sent.
func (h *Handle) hasOutbound() bool {
	if h.sendOff < h.sendLen {
		return true
	}
	return h.conn != nil && h.conn.Outbound().Len() > 0
}
