// File: internal/engine/thread.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor thread: one locked OS thread owning a poller, a command queue and a
// set of socket handles. Everything below runs on that thread except post and
// wake.

package engine

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-net/affinity"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/sockstate"
	"github.com/momentics/hioload-net/reactor"
)

// Thread is a single reactor thread.
type Thread struct {
	id     int
	pool   *Pool
	log    zerolog.Logger
	poller reactor.Poller
	cmds   *concurrency.MPSC[Op]

	// load counts handles assigned to the thread, including those whose
	// attach command is still queued. Guarded for writes by pool.mu on the
	// increment side.
	load    atomic.Int32
	retired bool // guarded by pool.mu

	wakeMu  sync.RWMutex
	stopped bool
	wakeCh  chan struct{}
	done    chan struct{}
	sockets map[uint64]*Handle
	byFD    map[int]*Handle
	heldAny bool
	events  []reactor.Event
	recvBuf []byte
	pending []Op
}

func newThread(p *Pool, id int, poller reactor.Poller) *Thread {
	t := &Thread{
		id:      id,
		pool:    p,
		log:     p.log.With().Int("thread", id).Logger(),
		poller:  poller,
		wakeCh:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		sockets: make(map[uint64]*Handle),
		byFD:    make(map[int]*Handle),
		events:  make([]reactor.Event, p.cfg.MaxEvents),
		recvBuf: make([]byte, p.cfg.ReadChunk),
	}
	t.cmds = concurrency.NewMPSC[Op](t.wake)
	return t
}

// ID returns the thread number within its pool.
func (t *Thread) ID() int { return t.id }

// Load returns the number of handles assigned to the thread.
func (t *Thread) Load() int { return int(t.load.Load()) }

// Done is closed once the thread loop has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

func (t *Thread) post(op Op) error {
	if err := t.cmds.Push(op); err != nil {
		if errors.Is(err, concurrency.ErrQueueClosed) {
			return api.ErrTerminated
		}
		return err
	}
	return nil
}

// wake interrupts an idle sleep or a poller wait. Safe from any goroutine.
func (t *Thread) wake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
	t.wakeMu.RLock()
	if !t.stopped {
		_ = t.poller.Wake()
	}
	t.wakeMu.RUnlock()
}

func (t *Thread) run() {
	runtime.LockOSThread()
	if t.pool.cfg.PinThreads {
		if err := affinity.SetAffinity(t.id); err != nil {
			t.log.Warn().Err(err).Msg("[reactor] cpu pinning failed")
		}
	}
	defer t.exit()

	t.log.Debug().Msg("[reactor] thread started")
	for {
		t.pending = t.cmds.Drain(t.pending[:0])
		for i := range t.pending {
			t.apply(t.pending[i])
			t.pending[i] = Op{}
		}
		if t.heldAny && len(t.sockets) == 0 && t.pool.retire(t) {
			return
		}

		if !t.prepare(time.Now()) {
			t.sleep()
			continue
		}
		n, err := t.poller.Wait(t.events, t.pool.PollTimeout())
		if err != nil {
			t.log.Error().Err(err).Msg("[reactor] poll wait failed")
			t.sleep()
			continue
		}
		for i := 0; i < n; i++ {
			t.dispatch(t.events[i])
		}
	}
}

func (t *Thread) exit() {
	t.wakeMu.Lock()
	t.stopped = true
	if err := t.poller.Close(); err != nil {
		t.log.Warn().Err(err).Msg("[reactor] poller close failed")
	}
	t.wakeMu.Unlock()
	runtime.UnlockOSThread()
	close(t.done)
	t.log.Debug().Msg("[reactor] thread exited")
}

func (t *Thread) sleep() {
	timer := time.NewTimer(t.pool.IdleQuantum())
	select {
	case <-t.wakeCh:
	case <-timer.C:
	}
	timer.Stop()
}

// prepare runs the per-iteration bookkeeping for every owned socket and
// reports whether any of them needs readiness.
func (t *Thread) prepare(now time.Time) bool {
	linger := t.pool.cfg.LingerTimeout
	active := false
	for _, h := range t.sockets {
		if h.state == sockstate.Destroyed {
			continue
		}
		if h.state.IsClientOpenish() {
			t.checkIdle(h, now)
			if h.state == sockstate.Destroyed {
				continue
			}
			if h.shutdownPending && !h.writeClosed && !h.hasOutbound() {
				t.finishWriteSide(h)
				if h.state == sockstate.Destroyed {
					continue
				}
			}
			if h.state == sockstate.ClientDraining && h.writeClosed && !h.readClosed &&
				now.Sub(h.drainSince) >= linger {
				t.log.Debug().Uint64("handle", h.id).Msg("[reactor] linger expired")
				t.destroy(h, nil)
				continue
			}
		}
		want := interestOf(h)
		if err := t.setInterest(h, want); err != nil {
			t.destroy(h, api.SocketError("poll register", err))
			continue
		}
		if want != reactor.InterestNone {
			active = true
		}
	}
	return active
}

func (t *Thread) checkIdle(h *Handle, now time.Time) {
	idle := time.Duration(h.idleTimeout.Load())
	if idle <= 0 || h.timeoutFired || now.Sub(h.lastActivity) < idle {
		return
	}
	h.timeoutFired = true
	t.guard(h, h.conn.HandleTimeout)
}

func interestOf(h *Handle) reactor.Interest {
	switch h.state {
	case sockstate.ServerListening:
		return reactor.InterestRead
	case sockstate.ClientConnecting:
		if h.fd >= 0 {
			return reactor.InterestWrite
		}
	case sockstate.ClientOpen, sockstate.ClientReadOnly, sockstate.ClientWriteOnly, sockstate.ClientDraining:
		var want reactor.Interest
		if !h.readClosed {
			want |= reactor.InterestRead
		}
		if !h.writeClosed && h.hasOutbound() {
			want |= reactor.InterestWrite
		}
		return want
	}
	return reactor.InterestNone
}

// setInterest applies want to the poller. Descriptors without interest are
// removed so hung-up sockets do not keep the wait hot.
func (t *Thread) setInterest(h *Handle, want reactor.Interest) error {
	if h.fd < 0 || (want == h.interest && h.registered == (want != reactor.InterestNone)) {
		return nil
	}
	var err error
	switch {
	case want == reactor.InterestNone:
		if h.registered {
			err = t.poller.Remove(h.fd)
			h.registered = false
		}
	case !h.registered:
		err = t.poller.Add(h.fd, want)
		h.registered = err == nil
	default:
		err = t.poller.Modify(h.fd, want)
	}
	h.interest = want
	return err
}

func (t *Thread) dispatch(ev reactor.Event) {
	h, ok := t.byFD[ev.Fd]
	if !ok || h.state == sockstate.Destroyed {
		return
	}
	defer t.recoverCallback(h)

	switch h.state {
	case sockstate.ServerListening:
		if ev.Ready&reactor.Failed != 0 {
			t.failWith(h, "listener")
			return
		}
		if ev.Ready&reactor.Readable != 0 {
			t.acceptReady(h)
		}
		return
	case sockstate.ClientConnecting:
		if ev.Ready&(reactor.Writable|reactor.Failed|reactor.Hangup) != 0 {
			t.connectReady(h)
		}
		return
	}

	if ev.Ready&(reactor.Readable|reactor.Hangup) != 0 && !h.readClosed {
		t.readReady(h)
	}
	if h.state != sockstate.Destroyed && ev.Ready&(reactor.Writable|reactor.Hangup) != 0 &&
		!h.writeClosed && h.hasOutbound() {
		t.writeReady(h)
	}
	if h.state != sockstate.Destroyed && ev.Ready&reactor.Failed != 0 {
		t.failWith(h, "socket")
	}
}

// failWith tears h down with its pending SO_ERROR.
func (t *Thread) failWith(h *Handle, op string) {
	err := pendingError(h.fd)
	if err == nil {
		err = api.ErrNotConnected
	}
	t.destroy(h, api.SocketError(op, err))
}

func (t *Thread) acceptReady(h *Handle) {
	batch := t.pool.cfg.AcceptBatch
	for i := 0; i < batch && h.state == sockstate.ServerListening; i++ {
		fd, err := acceptFD(h.fd)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			if isRetryableAccept(err) {
				continue
			}
			t.pool.countError()
			t.log.Warn().Err(err).Uint64("handle", h.id).Msg("[reactor] accept failed")
			return
		}
		t.pool.countAccepted()
		h.listener.HandleAccept(fd)
	}
}

func (t *Thread) connectReady(h *Handle) {
	if err := pendingError(h.fd); err != nil {
		t.destroy(h, api.SocketError("connect", err))
		return
	}
	t.opened(h)
}

func (t *Thread) opened(h *Handle) {
	if !t.transition(h, sockstate.ClientOpen) {
		return
	}
	h.setAddrs(localAddrOf(h.fd), remoteAddrOf(h.fd))
	h.touch(time.Now())
	t.log.Debug().Uint64("handle", h.id).Str("remote", h.RemoteAddr().String()).Msg("[reactor] connection open")
	h.conn.HandleOpen()
}

func (t *Thread) readReady(h *Handle) {
	in := h.conn.Inbound()
	for {
		n, err := recvFD(h.fd, t.recvBuf)
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			if isInterrupted(err) {
				continue
			}
			t.destroy(h, api.SocketError("recv", err))
			return
		}
		if n == 0 {
			t.readSideClosed(h)
			return
		}
		h.touch(time.Now())
		// The stream copies what it keeps, so recvBuf is reusable.
		if _, err := in.Write(t.recvBuf[:n]); err != nil {
			t.log.Debug().Uint64("handle", h.id).Int("bytes", n).Err(err).
				Msg("[reactor] inbound ended, dropping received bytes")
		}
		if n < len(t.recvBuf) || h.state == sockstate.Destroyed || h.readClosed {
			return
		}
	}
}

func (t *Thread) writeReady(h *Handle) {
	out := h.conn.Outbound()
	if h.sendBuf == nil {
		h.sendBuf = make([]byte, t.pool.cfg.WriteChunk)
	}
	for {
		if h.sendOff == h.sendLen {
			n, _ := out.ReadInto(h.sendBuf)
			if n == 0 {
				break
			}
			h.sendOff, h.sendLen = 0, n
		}
		n, err := sendFD(h.fd, h.sendBuf[h.sendOff:h.sendLen])
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			if isInterrupted(err) {
				continue
			}
			t.destroy(h, api.SocketError("send", err))
			return
		}
		h.sendOff += n
		h.wroteSinceDrain = true
		h.touch(time.Now())
	}
	h.sendOff, h.sendLen = 0, 0
	if h.wroteSinceDrain {
		h.wroteSinceDrain = false
		h.conn.HandleDrain()
	}
	if h.state != sockstate.Destroyed && h.shutdownPending && !h.writeClosed && !h.hasOutbound() {
		t.finishWriteSide(h)
	}
}

// readSideClosed handles the peer's FIN.
func (t *Thread) readSideClosed(h *Handle) {
	h.readClosed = true
	t.log.Debug().Uint64("handle", h.id).Stringer("state", h.state).Msg("[reactor] peer closed read side")
	h.conn.Inbound().End()
	if h.state == sockstate.Destroyed {
		return
	}
	switch h.state {
	case sockstate.ClientOpen:
		if h.allowHalfOpen.Load() {
			t.transition(h, sockstate.ClientReadOnly)
			return
		}
		h.shutdownPending = true
		if t.transition(h, sockstate.ClientDraining) && !h.writeClosed && !h.hasOutbound() {
			t.finishWriteSide(h)
		}
	case sockstate.ClientWriteOnly:
		if t.transition(h, sockstate.ClientDraining) {
			t.destroy(h, nil)
		}
	case sockstate.ClientDraining:
		if h.writeClosed {
			t.destroy(h, nil)
		}
	}
}

// finishWriteSide sends FIN once every queued byte went out.
func (t *Thread) finishWriteSide(h *Handle) {
	h.shutdownPending = false
	if err := shutdownWriteFD(h.fd); err != nil {
		t.destroy(h, api.SocketError("shutdown", err))
		return
	}
	h.writeClosed = true
	_ = h.conn.Outbound().End()
	if h.state == sockstate.Destroyed {
		return
	}

	switch h.state {
	case sockstate.ClientOpen:
		if h.allowHalfOpen.Load() {
			t.transition(h, sockstate.ClientWriteOnly)
			return
		}
		if !t.transition(h, sockstate.ClientDraining) {
			return
		}
	case sockstate.ClientReadOnly:
		if t.transition(h, sockstate.ClientDraining) {
			t.destroy(h, nil)
		}
		return
	}
	if h.state != sockstate.ClientDraining {
		return
	}
	if h.readClosed {
		t.destroy(h, nil)
		return
	}
	h.drainSince = time.Now()
}

// transition moves h to next, tearing it down if the step is illegal.
func (t *Thread) transition(h *Handle, next sockstate.State) bool {
	if !sockstate.CanTransition(h.state, next) {
		t.destroy(h, api.NewError(api.ErrCodeState,
			fmt.Sprintf("illegal transition %s -> %s", h.state, next)).WithCause(api.ErrInvalidState))
		return false
	}
	t.log.Debug().Uint64("handle", h.id).Stringer("from", h.state).Stringer("to", next).Msg("[reactor] transition")
	h.setState(next)
	return true
}

// destroy releases every resource of h and raises its final events. A nil
// err means an orderly close.
func (t *Thread) destroy(h *Handle, err error) {
	if h.state == sockstate.Destroyed {
		return
	}
	abort := err != nil || !(h.readClosed && h.writeClosed)
	h.setState(sockstate.Destroyed)
	h.resolving = false
	h.deferred = nil
	h.sendBuf = nil

	if h.fd >= 0 {
		if h.registered {
			_ = t.poller.Remove(h.fd)
			h.registered = false
		}
		delete(t.byFD, h.fd)
		closeFD(h.fd, abort && h.role == sockstate.RoleClient)
		h.fd = -1
	}
	if _, ok := t.sockets[h.id]; ok {
		delete(t.sockets, h.id)
		t.pool.detach(h)
	}
	t.pool.release(t)

	if err != nil {
		t.pool.countError()
		t.log.Warn().Err(err).Uint64("handle", h.id).Msg("[reactor] socket torn down")
	} else {
		t.log.Debug().Uint64("handle", h.id).Msg("[reactor] socket closed")
	}

	if h.conn != nil {
		t.safeCall(h, func() { _ = h.conn.Inbound().End() })
		t.safeCall(h, func() { _ = h.conn.Outbound().End() })
		if err != nil {
			t.safeCall(h, func() { h.conn.HandleError(err) })
		}
		t.safeCall(h, func() { h.conn.HandleClose(err) })
		return
	}
	if h.listener != nil {
		if err != nil {
			t.safeCall(h, func() { h.listener.HandleError(err) })
		}
		t.safeCall(h, func() { h.listener.HandleClose(err) })
	}
}

// guard runs a user callback and tears h down if it panics.
func (t *Thread) guard(h *Handle, fn func()) {
	defer t.recoverCallback(h)
	fn()
}

func (t *Thread) recoverCallback(h *Handle) {
	r := recover()
	if r == nil {
		return
	}
	t.log.Error().Interface("panic", r).Uint64("handle", h.id).Msg("[reactor] callback panicked")
	t.destroy(h, api.NewError(api.ErrCodeCallbackPanic, fmt.Sprint(r)))
}

// safeCall runs a callback during teardown, where a panic can only be logged.
func (t *Thread) safeCall(h *Handle, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error().Interface("panic", r).Uint64("handle", h.id).Msg("[reactor] close callback panicked")
		}
	}()
	fn()
}
