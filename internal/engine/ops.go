// File: internal/engine/ops.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Command application on the reactor thread.

package engine

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/sockstate"
)

func (t *Thread) apply(op Op) {
	h := op.Handle
	if h == nil || h.state == sockstate.Destroyed {
		return
	}
	defer t.recoverCallback(h)

	// While a name is being resolved, later commands wait their turn so the
	// per-socket order is kept.
	if h.resolving && op.Kind != sockstate.OpTerminate && !op.Payload.Resolved {
		h.deferred = append(h.deferred, op)
		return
	}
	if !sockstate.Accepts(h.state, op.Kind) {
		t.log.Warn().Uint64("handle", h.id).Stringer("op", op.Kind).Stringer("state", h.state).
			Msg("[reactor] unexpected operation")
		t.destroy(h, api.NewError(api.ErrCodeState,
			fmt.Sprintf("%s not allowed in state %s", op.Kind, h.state)).WithCause(api.ErrInvalidState))
		return
	}

	switch op.Kind {
	case sockstate.OpAttachAsServer:
		t.attach(h, sockstate.RoleServer)
		t.transition(h, sockstate.Idle)
		t.transition(h, sockstate.ServerAwaitingBind)
	case sockstate.OpAttachAsClient:
		t.attach(h, sockstate.RoleClient)
		t.transition(h, sockstate.Idle)
		t.transition(h, sockstate.ClientIdle)
		if op.Payload.FD >= 0 {
			h.fd = op.Payload.FD
			t.byFD[h.fd] = h
			if t.transition(h, sockstate.ClientConnecting) {
				t.opened(h)
			}
		}
	case sockstate.OpBind:
		t.bind(h, op.Payload.Addr)
	case sockstate.OpResolveAndBind:
		if addr, ok := t.resolve(h, op, true); ok {
			t.bind(h, addr)
		}
	case sockstate.OpListen:
		t.listen(h, op.Payload.Backlog)
	case sockstate.OpStopListening:
		t.destroy(h, nil)
	case sockstate.OpResolveAndConnect:
		if addr, ok := t.resolve(h, op, false); ok {
			t.connect(h, addr)
		}
	case sockstate.OpShutdownWrite:
		t.shutdownWrite(h)
	case sockstate.OpTerminate:
		t.destroy(h, op.Payload.Err)
	}

	if !h.resolving && len(h.deferred) > 0 && h.state != sockstate.Destroyed {
		replay := h.deferred
		h.deferred = nil
		for _, d := range replay {
			t.apply(d)
		}
	}
}

func (t *Thread) attach(h *Handle, role sockstate.Role) {
	h.role = role
	t.sockets[h.id] = h
	t.heldAny = true
	t.pool.attached(h)
}

func (t *Thread) bind(h *Handle, addr netip.AddrPort) {
	if !addr.IsValid() {
		t.destroy(h, api.NewError(api.ErrCodeInvalidArgument, "bind").WithCause(api.ErrInvalidArgument))
		return
	}
	if h.fd < 0 {
		fd, err := openStream(addr)
		if err != nil {
			t.destroy(h, api.SocketError("socket", err))
			return
		}
		h.fd = fd
		t.byFD[fd] = h
	}
	if err := bindFD(h.fd, addr); err != nil {
		t.destroy(h, api.SocketError("bind", err).WithContext("addr", addr.String()))
		return
	}
	h.setAddrs(localAddrOf(h.fd), netip.AddrPort{})
	if h.role == sockstate.RoleServer {
		t.transition(h, sockstate.ServerBound)
	}
}

func (t *Thread) listen(h *Handle, backlog int) {
	if backlog <= 0 {
		backlog = t.pool.cfg.ListenBacklog
	}
	if err := listenFD(h.fd, backlog); err != nil {
		t.destroy(h, api.SocketError("listen", err))
		return
	}
	if !t.transition(h, sockstate.ServerListening) {
		return
	}
	t.log.Info().Uint64("handle", h.id).Str("addr", h.LocalAddr().String()).Msg("[reactor] listening")
	h.listener.HandleListening()
}

func (t *Thread) connect(h *Handle, addr netip.AddrPort) {
	if h.fd < 0 {
		fd, err := openStream(addr)
		if err != nil {
			t.destroy(h, api.SocketError("socket", err))
			return
		}
		h.fd = fd
		t.byFD[fd] = h
	}
	inProgress, err := connectFD(h.fd, addr)
	if err != nil {
		t.destroy(h, api.SocketError("connect", err).WithContext("addr", addr.String()))
		return
	}
	h.setAddrs(netip.AddrPort{}, addr)
	if !t.transition(h, sockstate.ClientConnecting) {
		return
	}
	if !inProgress {
		t.opened(h)
	}
}

func (t *Thread) shutdownWrite(h *Handle) {
	h.shutdownPending = true
	switch h.state {
	case sockstate.ClientOpen:
		if !h.allowHalfOpen.Load() && !t.transition(h, sockstate.ClientDraining) {
			return
		}
	case sockstate.ClientReadOnly:
		if !t.transition(h, sockstate.ClientDraining) {
			return
		}
	case sockstate.ClientWriteOnly, sockstate.ClientDraining:
		// Already shutting down; a repeated End is a no-op.
		return
	default:
		// Not connected yet; applied once the socket opens.
		return
	}
	if !h.writeClosed && !h.hasOutbound() {
		t.finishWriteSide(h)
	}
}

// resolve returns the address for a bind or connect op. Literal addresses are
// used directly; names are looked up on a helper goroutine and the op is
// re-posted, in which case ok is false.
func (t *Thread) resolve(h *Handle, op Op, passive bool) (netip.AddrPort, bool) {
	if op.Payload.Resolved {
		h.resolving = false
		return op.Payload.Addr, true
	}
	host, portStr, err := net.SplitHostPort(op.Payload.Endpoint)
	if err != nil {
		t.destroy(h, api.NewError(api.ErrCodeInvalidArgument, "endpoint").
			WithContext("endpoint", op.Payload.Endpoint).WithCause(err))
		return netip.AddrPort{}, false
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		t.destroy(h, api.NewError(api.ErrCodeInvalidArgument, "endpoint port").
			WithContext("endpoint", op.Payload.Endpoint).WithCause(err))
		return netip.AddrPort{}, false
	}
	if host == "" {
		ip := netip.IPv4Unspecified()
		if !passive {
			ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
		}
		return netip.AddrPortFrom(ip, uint16(port)), true
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(ip.Unmap(), uint16(port)), true
	}

	h.resolving = true
	timeout := t.pool.cfg.ResolveTimeout
	kind := op.Kind
	t.log.Debug().Uint64("handle", h.id).Str("host", host).Msg("[reactor] resolving")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err == nil && len(ips) == 0 {
			err = &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
		}
		if err != nil {
			_ = h.post(opTerminateResolve(host, err))
			return
		}
		ip := pickAddr(ips)
		_ = h.post(kind, Payload{Addr: netip.AddrPortFrom(ip, uint16(port)), Resolved: true})
	}()
	return netip.AddrPort{}, false
}

func opTerminateResolve(host string, err error) (sockstate.OpKind, Payload) {
	return sockstate.OpTerminate, Payload{
		Err: api.NewError(api.ErrCodeResolve, "resolve").WithContext("host", host).WithCause(err),
	}
}

// pickAddr prefers IPv4 results.
func pickAddr(ips []netip.Addr) netip.Addr {
	for _, ip := range ips {
		if ip.Unmap().Is4() {
			return ip.Unmap()
		}
	}
	return ips[0]
}
