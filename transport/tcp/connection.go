// File: transport/tcp/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Client-side TCP connection over a reactor handle. Event handlers run on the
// owning reactor thread and must not block.

package tcp

import (
	"errors"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/stream"
	"github.com/momentics/hioload-net/internal/engine"
)

// Connection is a duplex TCP stream.
type Connection struct {
	pool *Pool
	log  zerolog.Logger
	in   *stream.Duplex
	out  *stream.Duplex

	accepted bool
	ended    atomic.Bool

	mu            sync.Mutex
	handle        *engine.Handle
	allowHalfOpen bool
	idleTimeout   time.Duration
	closed        bool
	closeErr      error
	onOpen        []func()
	onClose       []func(error)
	onError       []func(api.ErrorCode, error)
	onTimeout     []func()
	onDrain       []func()
}

var (
	_ stream.Stream    = (*Connection)(nil)
	_ engine.ConnOwner = (*Connection)(nil)
)

// NewConnection returns an unconnected Connection. Bytes written before
// Connect are queued and sent once the socket opens.
func NewConnection(opts ...Option) *Connection {
	return newConnection(buildOptions(opts))
}

func newConnection(o options) *Connection {
	return &Connection{
		pool:          o.pool,
		log:           o.log,
		in:            stream.New(),
		out:           stream.New(),
		allowHalfOpen: o.allowHalfOpen,
		idleTimeout:   o.idleTimeout,
	}
}

// Dial creates a Connection and starts connecting it to endpoint.
func Dial(endpoint string, opts ...Option) (*Connection, error) {
	c := NewConnection(opts...)
	if err := c.Connect(endpoint); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect starts a non-blocking connect to host:port. Open or Error/Close
// report the outcome.
func (c *Connection) Connect(endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return api.ErrInvalidState
	}
	h, err := c.pool.NewClient(c, c.setupLocked)
	if err != nil {
		return err
	}
	c.handle = h
	if err := h.ResolveAndConnect(endpoint); err != nil {
		return err
	}
	if c.ended.Load() {
		return h.ShutdownWrite()
	}
	return nil
}

// setupLocked copies the connection settings onto a new handle. Requires c.mu
// or exclusive access to c.
func (c *Connection) setupLocked(h *engine.Handle) {
	h.SetAllowHalfOpen(c.allowHalfOpen)
	h.SetIdleTimeout(c.idleTimeout)
}

func (c *Connection) adopt(h *engine.Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}

func (c *Connection) currentHandle() *engine.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Write queues p for sending. It fails once End was called.
func (c *Connection) Write(p []byte) (int, error) {
	if c.ended.Load() {
		return 0, api.ErrStreamEnded
	}
	n, err := c.out.Write(p)
	if err != nil {
		return n, err
	}
	if h := c.currentHandle(); h != nil {
		h.NotifyWritable()
	}
	return n, nil
}

// Read reads received bytes, returning io.EOF after the peer's FIN.
func (c *Connection) Read(p []byte) (int, error) { return c.in.Read(p) }

// ReadAll blocks for received bytes and returns everything buffered.
func (c *Connection) ReadAll() ([]byte, error) { return c.in.ReadAll() }

// ReadExactly blocks until n bytes were received.
func (c *Connection) ReadExactly(n int) ([]byte, error) { return c.in.ReadExactly(n) }

// ReadInto copies buffered received bytes without blocking.
func (c *Connection) ReadInto(dst []byte) (int, error) { return c.in.ReadInto(dst) }

// Pipe forwards received bytes to target.
func (c *Connection) Pipe(target io.Writer) {
	c.in.Pipe(target)
	c.in.Flush()
}

// Unpipe stops forwarding received bytes.
func (c *Connection) Unpipe() { c.in.Unpipe() }

// Pause buffers received bytes instead of delivering them.
func (c *Connection) Pause() { c.in.Pause() }

// Resume delivers the bytes buffered while paused and returns to flowing mode.
func (c *Connection) Resume() { c.in.Resume() }

// End gracefully closes the write side once queued bytes are sent. With
// half-open disabled the whole connection closes after that.
func (c *Connection) End() error {
	if !c.ended.CompareAndSwap(false, true) {
		return nil
	}
	h := c.currentHandle()
	if h == nil {
		return nil
	}
	if err := h.ShutdownWrite(); err != nil && !errors.Is(err, api.ErrTerminated) {
		return err
	}
	return nil
}

// Terminate aborts the connection. Close fires once the reactor thread has
// released the socket.
func (c *Connection) Terminate() {
	c.ended.Store(true)
	if h := c.currentHandle(); h != nil {
		_ = h.Terminate(nil)
	}
}

// LocalAddress returns the bound local endpoint, if known.
func (c *Connection) LocalAddress() netip.AddrPort {
	if h := c.currentHandle(); h != nil {
		return h.LocalAddr()
	}
	return netip.AddrPort{}
}

// RemoteAddress returns the peer endpoint, if known.
func (c *Connection) RemoteAddress() netip.AddrPort {
	if h := c.currentHandle(); h != nil {
		return h.RemoteAddr()
	}
	return netip.AddrPort{}
}

// AllowHalfOpen selects whether the two directions close independently.
func (c *Connection) AllowHalfOpen(enabled bool) {
	c.mu.Lock()
	c.allowHalfOpen = enabled
	if c.handle != nil {
		c.handle.SetAllowHalfOpen(enabled)
	}
	c.mu.Unlock()
}

// TimeoutAfter fires Timeout after d without traffic. Zero disables it.
func (c *Connection) TimeoutAfter(d time.Duration) {
	c.mu.Lock()
	c.idleTimeout = d
	if c.handle != nil {
		c.handle.SetIdleTimeout(d)
	}
	c.mu.Unlock()
}

// Closed reports whether the socket has been released.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnOpen registers fn for a completed Connect. Accepted connections are
// already open when handed out and never fire it.
func (c *Connection) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = append(c.onOpen, fn)
	c.mu.Unlock()
}

// OnClose registers fn for socket release. err is nil for an orderly close.
// If the connection is already closed fn runs immediately.
func (c *Connection) OnClose(fn func(err error)) {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		fn(err)
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// OnError registers fn for socket failures. Close always follows.
func (c *Connection) OnError(fn func(code api.ErrorCode, err error)) {
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// OnTimeout registers fn for the advisory idle timeout.
func (c *Connection) OnTimeout(fn func()) {
	c.mu.Lock()
	c.onTimeout = append(c.onTimeout, fn)
	c.mu.Unlock()
}

// OnDrain registers fn for the outbound queue becoming empty.
func (c *Connection) OnDrain(fn func()) {
	c.mu.Lock()
	c.onDrain = append(c.onDrain, fn)
	c.mu.Unlock()
}

// OnEnd registers fn for the end of the inbound stream.
func (c *Connection) OnEnd(fn func()) { c.in.OnEnd(fn) }

// OnData subscribes fn to received bytes. Bytes that arrived earlier are
// delivered right away.
func (c *Connection) OnData(fn func(p []byte)) stream.SubscriptionID {
	id, buffered := c.in.Subscribe(fn)
	if buffered {
		c.in.Flush()
	}
	return id
}

// OffData removes a data subscription.
func (c *Connection) OffData(id stream.SubscriptionID) bool { return c.in.Unsubscribe(id) }

// Inbound implements engine.ConnOwner.
func (c *Connection) Inbound() *stream.Duplex { return c.in }

// Outbound implements engine.ConnOwner.
func (c *Connection) Outbound() *stream.Duplex { return c.out }

// HandleOpen implements engine.ConnOwner.
func (c *Connection) HandleOpen() {
	c.mu.Lock()
	handlers := c.onOpen
	accepted := c.accepted
	c.mu.Unlock()
	if accepted {
		return
	}
	for _, fn := range handlers {
		fn()
	}
}

// HandleDrain implements engine.ConnOwner.
func (c *Connection) HandleDrain() {
	c.mu.Lock()
	handlers := c.onDrain
	c.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// HandleTimeout implements engine.ConnOwner.
func (c *Connection) HandleTimeout() {
	c.mu.Lock()
	handlers := c.onTimeout
	c.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// HandleError implements engine.ConnOwner.
func (c *Connection) HandleError(err error) {
	c.mu.Lock()
	handlers := c.onError
	c.mu.Unlock()
	code := api.CodeOf(err)
	for _, fn := range handlers {
		fn(code, err)
	}
}

// HandleClose implements engine.ConnOwner.
func (c *Connection) HandleClose(err error) {
	c.ended.Store(true)
	c.mu.Lock()
	c.closed = true
	c.closeErr = err
	handlers := c.onClose
	c.onClose = nil
	c.mu.Unlock()
	c.log.Debug().Err(err).Str("remote", c.RemoteAddress().String()).Msg("[tcp] connection closed")
	for _, fn := range handlers {
		fn(err)
	}
}
