// File: transport/tcp/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TCP listener on a reactor handle. Accepted sockets are wrapped into
// Connections placed on the least-loaded reactor thread.

package tcp

import (
	"net/netip"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/engine"
)

// Listener accepts TCP connections on a bound endpoint.
type Listener struct {
	opts options
	log  zerolog.Logger

	mu           sync.Mutex
	endpoint     string
	handle       *engine.Handle
	listening    bool
	onListening  []func()
	onConnection []func(*Connection)
	onError      []func(api.ErrorCode, error)
	onClose      []func(error)
}

var _ engine.ListenOwner = (*Listener)(nil)

// NewListener returns a stopped listener for endpoint (host:port).
func NewListener(endpoint string, opts ...Option) *Listener {
	o := buildOptions(opts)
	return &Listener{opts: o, log: o.log, endpoint: endpoint}
}

// BindEndpoint changes the endpoint. It fails while the listener is started.
func (l *Listener) BindEndpoint(endpoint string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil {
		return api.ErrAlreadyListening
	}
	l.endpoint = endpoint
	return nil
}

// Endpoint returns the configured endpoint.
func (l *Listener) Endpoint() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.endpoint
}

// Addr returns the bound address once known.
func (l *Listener) Addr() netip.AddrPort {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	if h == nil {
		return netip.AddrPort{}
	}
	return h.LocalAddr()
}

// Listening reports whether the socket is accepting.
func (l *Listener) Listening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

// Start binds and listens. It returns once the request is queued; Listening
// or Error/Close report the outcome.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle != nil {
		return api.ErrAlreadyListening
	}
	h, err := l.opts.pool.NewServer(l)
	if err != nil {
		return err
	}
	l.handle = h
	if err := h.ResolveAndBind(l.endpoint); err != nil {
		return err
	}
	return h.Listen(l.opts.backlog)
}

// Stop closes the listening socket. Accepted connections are unaffected.
func (l *Listener) Stop() error {
	l.mu.Lock()
	h, listening := l.handle, l.listening
	l.mu.Unlock()
	if h == nil {
		return nil
	}
	if listening {
		return h.StopListening()
	}
	return h.Terminate(nil)
}

// OnListening registers fn for the socket starting to accept.
func (l *Listener) OnListening(fn func()) {
	l.mu.Lock()
	l.onListening = append(l.onListening, fn)
	l.mu.Unlock()
}

// OnConnection registers fn for every accepted connection.
func (l *Listener) OnConnection(fn func(c *Connection)) {
	l.mu.Lock()
	l.onConnection = append(l.onConnection, fn)
	l.mu.Unlock()
}

// OnError registers fn for listener failures.
func (l *Listener) OnError(fn func(code api.ErrorCode, err error)) {
	l.mu.Lock()
	l.onError = append(l.onError, fn)
	l.mu.Unlock()
}

// OnClose registers fn for the listening socket being released.
func (l *Listener) OnClose(fn func(err error)) {
	l.mu.Lock()
	l.onClose = append(l.onClose, fn)
	l.mu.Unlock()
}

// HandleListening implements engine.ListenOwner.
func (l *Listener) HandleListening() {
	l.mu.Lock()
	l.listening = true
	handlers := l.onListening
	l.mu.Unlock()
	l.log.Info().Str("addr", l.Addr().String()).Msg("[tcp] listening")
	for _, fn := range handlers {
		fn()
	}
}

// HandleAccept implements engine.ListenOwner.
func (l *Listener) HandleAccept(fd int) {
	c := newConnection(l.opts)
	c.accepted = true
	h, err := l.opts.pool.Adopt(fd, c, c.setupLocked)
	if err != nil {
		engine.CloseFD(fd)
		l.log.Warn().Err(err).Msg("[tcp] dropping accepted socket")
		return
	}
	c.adopt(h)

	l.mu.Lock()
	handlers := l.onConnection
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(c)
	}
}

// HandleError implements engine.ListenOwner.
func (l *Listener) HandleError(err error) {
	l.mu.Lock()
	handlers := l.onError
	l.mu.Unlock()
	code := api.CodeOf(err)
	l.log.Warn().Err(err).Stringer("code", code).Msg("[tcp] listener error")
	for _, fn := range handlers {
		fn(code, err)
	}
}

// HandleClose implements engine.ListenOwner.
func (l *Listener) HandleClose(err error) {
	l.mu.Lock()
	l.handle = nil
	l.listening = false
	handlers := l.onClose
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}
