// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport adapts reactor connections to the net package.
package transport

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/transport/tcp"
)

// NetConn implements net.Conn on top of a tcp.Connection so protocol layers
// written against net.Conn run on the reactor.
type NetConn struct {
	conn   *tcp.Connection
	closed atomic.Bool
}

var _ net.Conn = (*NetConn)(nil)

// NewNetConn wraps conn.
func NewNetConn(conn *tcp.Connection) *NetConn {
	return &NetConn{conn: conn}
}

// Connection returns the wrapped connection.
func (n *NetConn) Connection() *tcp.Connection { return n.conn }

// Read blocks for received bytes and returns io.EOF after the peer's FIN.
func (n *NetConn) Read(buf []byte) (int, error) {
	r, err := n.conn.Read(buf)
	if errors.Is(err, api.ErrStreamEnded) {
		err = io.EOF
	}
	return r, err
}

// Write queues buf; it never blocks on the socket.
func (n *NetConn) Write(buf []byte) (int, error) {
	if n.closed.Load() {
		return 0, net.ErrClosed
	}
	w, err := n.conn.Write(buf)
	if errors.Is(err, api.ErrStreamEnded) {
		err = io.ErrClosedPipe
	}
	return w, err
}

// Close ends the write side gracefully. Queued bytes are still sent, and
// the socket goes away once the peer closes too or the linger timeout hits.
func (n *NetConn) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return n.conn.End()
}

func (n *NetConn) LocalAddr() net.Addr {
	return net.TCPAddrFromAddrPort(n.conn.LocalAddress())
}

func (n *NetConn) RemoteAddr() net.Addr {
	return net.TCPAddrFromAddrPort(n.conn.RemoteAddress())
}

// SetDeadline is accepted and ignored; use Connection.TimeoutAfter for idle
// detection.
func (n *NetConn) SetDeadline(time.Time) error { return nil }

// SetReadDeadline is accepted and ignored.
func (n *NetConn) SetReadDeadline(time.Time) error { return nil }

// SetWriteDeadline is accepted and ignored; writes never block.
func (n *NetConn) SetWriteDeadline(time.Time) error { return nil }
