// File: core/stream/duplex.go
// Package stream implements the backpressure-aware duplex byte stream shared by
// the reactor and its callers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Duplex is the single handoff point between a reactor thread (producer of
// inbound bytes, consumer of outbound bytes) and caller goroutines. It is
// internally synchronized. At most one blocking read may be pending at a time.
//
// Delivery to a pipe target or to data subscribers happens outside the state
// lock but under a delivery lock, so chunks reach downstream in write order.
// Callbacks must therefore not Write to, Resume, or Flush the same stream.

package stream

import (
	"io"
	"sync"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

// Stream is the duplex contract protocol layers are written against.
type Stream interface {
	io.Reader
	io.Writer
	ReadAll() ([]byte, error)
	ReadExactly(n int) ([]byte, error)
	ReadInto(dst []byte) (int, error)
	Pipe(target io.Writer)
	Unpipe()
	Pause()
	Resume()
	End() error
}

var _ Stream = (*Duplex)(nil)

// DataFunc receives a chunk delivered in flowing mode. The slice is owned by
// the callee.
type DataFunc func(p []byte)

// SubscriptionID identifies a data subscriber.
type SubscriptionID uint64

type subscription struct {
	id SubscriptionID
	fn DataFunc
}

// Duplex is a thread-safe single-buffer conduit with pipe, pause/resume,
// blocking and non-blocking reads, and end signaling.
type Duplex struct {
	deliverMu sync.Mutex
	mu        sync.Mutex
	cond      *sync.Cond

	buf    *buffer.Growable
	ended  bool
	paused bool

	pipe    io.Writer
	subs    []subscription // copy-on-write
	nextSub SubscriptionID

	readerPending bool
	// delivered counts the leading buffered bytes that downstream already
	// received while a blocking reader was pending.
	delivered int

	produced uint64
	consumed uint64

	onEnd  []func()
	onFail []func(error)
}

// New returns an open, flowing stream with no downstream.
func New() *Duplex {
	d := &Duplex{buf: buffer.New(0)}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Write accepts p. A paused stream, or one without downstream, buffers it.
// Otherwise p goes to the pipe target if set, else to the data subscribers.
// A pending blocking reader also gets the bytes buffered so it can be
// satisfied. Pipe failures are reported through OnFail, not returned.
func (d *Duplex) Write(p []byte) (int, error) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		return 0, api.ErrStreamEnded
	}
	if len(p) == 0 {
		d.mu.Unlock()
		return 0, nil
	}
	d.produced += uint64(len(p))
	pipe, subs := d.pipe, d.subs
	if d.paused || (pipe == nil && len(subs) == 0) {
		d.buf.Append(p)
		d.cond.Broadcast()
		d.mu.Unlock()
		return len(p), nil
	}
	var chunk []byte
	switch {
	case d.readerPending:
		d.buf.Append(p)
		chunk = d.undelivered()
		d.delivered = d.buf.Len()
		d.cond.Broadcast()
	case d.buf.Len() > 0:
		// Older bytes are still buffered; those downstream has not seen go first.
		d.buf.Append(p)
		chunk = d.buf.ConsumeAll()[d.delivered:]
		d.delivered = 0
	default:
		chunk = make([]byte, len(p))
		copy(chunk, p)
	}
	d.consumed += uint64(len(chunk))
	d.mu.Unlock()

	d.deliver(pipe, subs, chunk)
	return len(p), nil
}

// ReadAll blocks until something is buffered or the stream ends, then drains
// and returns the whole buffer. After End it keeps returning buffered bytes
// until empty, then api.ErrStreamEnded.
func (d *Duplex) ReadAll() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.acquireReader(); err != nil {
		return nil, err
	}
	defer d.releaseReader()

	for d.buf.Len() == 0 && !d.ended {
		d.cond.Wait()
	}
	if d.buf.Len() == 0 {
		return nil, api.ErrStreamEnded
	}
	out := d.buf.ConsumeAll()
	d.readerTook(len(out))
	return out, nil
}

// ReadExactly blocks until at least n bytes are buffered and returns exactly
// n of them, leaving the remainder. If the stream ends first, whatever is left
// is returned together with api.ErrStreamEnded.
func (d *Duplex) ReadExactly(n int) ([]byte, error) {
	if n < 0 {
		return nil, api.ErrInvalidArgument
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.acquireReader(); err != nil {
		return nil, err
	}
	defer d.releaseReader()

	for d.buf.Len() < n && !d.ended {
		d.cond.Wait()
	}
	if d.buf.Len() >= n {
		out := d.buf.ConsumeExactly(n)
		d.readerTook(n)
		return out, nil
	}
	out := d.buf.ConsumeAll()
	d.readerTook(len(out))
	return out, api.ErrStreamEnded
}

// Read implements io.Reader: it blocks until at least one byte is buffered
// and copies as much as fits into p. It returns io.EOF once the stream has
// ended and the buffer is drained.
func (d *Duplex) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.acquireReader(); err != nil {
		return 0, err
	}
	defer d.releaseReader()

	for d.buf.Len() == 0 && !d.ended {
		d.cond.Wait()
	}
	if d.buf.Len() == 0 {
		return 0, io.EOF
	}
	n := d.buf.CopyInto(p)
	d.buf.Discard(n)
	d.readerTook(n)
	return n, nil
}

// ReadInto copies min(Len, len(dst)) buffered bytes into dst without
// blocking and returns the count.
func (d *Duplex) ReadInto(dst []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf.Len() == 0 {
		if d.ended {
			return 0, api.ErrStreamEnded
		}
		return 0, nil
	}
	n := d.buf.CopyInto(dst)
	d.buf.Discard(n)
	d.readerTook(n)
	return n, nil
}

// Pause switches the stream to buffering mode.
func (d *Duplex) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume switches back to flowing mode and immediately redelivers the bytes
// accumulated while paused.
func (d *Duplex) Resume() {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if !d.paused {
		d.mu.Unlock()
		return
	}
	d.paused = false
	pipe, subs, chunk := d.takeForDownstream()
	d.mu.Unlock()

	if chunk != nil {
		d.deliver(pipe, subs, chunk)
	}
}

// Flush pushes buffered bytes to the current downstream and returns how many
// were delivered. It does nothing while paused or without downstream.
func (d *Duplex) Flush() int {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.mu.Lock()
	if d.paused {
		d.mu.Unlock()
		return 0
	}
	pipe, subs, chunk := d.takeForDownstream()
	d.mu.Unlock()

	if chunk != nil {
		d.deliver(pipe, subs, chunk)
	}
	return len(chunk)
}

// Pipe installs target as the single downstream, replacing any previous one.
// Bytes already buffered stay buffered until Flush or Resume.
func (d *Duplex) Pipe(target io.Writer) {
	d.mu.Lock()
	d.pipe = target
	d.mu.Unlock()
}

// Unpipe removes the downstream target.
func (d *Duplex) Unpipe() {
	d.Pipe(nil)
}

// Subscribe registers fn for flowing-mode deliveries. The boolean reports
// whether data was already buffered; call Flush to hand it to subscribers.
func (d *Duplex) Subscribe(fn DataFunc) (SubscriptionID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextSub++
	id := d.nextSub
	subs := make([]subscription, len(d.subs), len(d.subs)+1)
	copy(subs, d.subs)
	d.subs = append(subs, subscription{id: id, fn: fn})
	return id, d.buf.Len() > d.delivered
}

// Unsubscribe removes a subscriber and reports whether it was registered.
func (d *Duplex) Unsubscribe(id SubscriptionID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.subs {
		if s.id != id {
			continue
		}
		subs := make([]subscription, 0, len(d.subs)-1)
		subs = append(subs, d.subs[:i]...)
		d.subs = append(subs, d.subs[i+1:]...)
		return true
	}
	return false
}

// End marks the stream ended, releases blocked readers and fires the End
// handlers. Only the first call has an effect.
func (d *Duplex) End() error {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		return nil
	}
	d.ended = true
	d.cond.Broadcast()
	handlers := d.onEnd
	d.onEnd = nil
	d.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
	return nil
}

// OnEnd registers fn to run once the stream ends. If it already has, fn runs
// immediately on the calling goroutine.
func (d *Duplex) OnEnd(fn func()) {
	d.mu.Lock()
	if d.ended {
		d.mu.Unlock()
		fn()
		return
	}
	d.onEnd = append(d.onEnd, fn)
	d.mu.Unlock()
}

// OnFail registers fn for pipe-forward failures.
func (d *Duplex) OnFail(fn func(error)) {
	d.mu.Lock()
	d.onFail = append(d.onFail, fn)
	d.mu.Unlock()
}

// Len reports the number of buffered bytes.
func (d *Duplex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf.Len()
}

// Ended reports whether End has been called.
func (d *Duplex) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}

// Paused reports whether the stream is buffering.
func (d *Duplex) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

// Produced is the total number of bytes accepted by Write.
func (d *Duplex) Produced() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.produced
}

// Consumed is the total number of bytes handed out by reads and downstream
// deliveries. Bytes duplicated for a pending reader count twice.
func (d *Duplex) Consumed() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumed
}

// acquireReader registers the caller as the pending blocking reader.
// Requires d.mu.
func (d *Duplex) acquireReader() error {
	if d.readerPending {
		return api.ErrConcurrentRead
	}
	d.readerPending = true
	return nil
}

func (d *Duplex) releaseReader() {
	d.readerPending = false
}

func (d *Duplex) readerTook(n int) {
	d.consumed += uint64(n)
	d.delivered -= n
	if d.delivered < 0 {
		d.delivered = 0
	}
}

// undelivered copies the buffered bytes downstream has not received yet.
// Requires d.mu.
func (d *Duplex) undelivered() []byte {
	all := make([]byte, d.buf.Len())
	d.buf.CopyInto(all)
	return all[d.delivered:]
}

// takeForDownstream drains the bytes downstream has not received yet. With a
// reader pending they are copied rather than consumed; otherwise bytes already
// delivered are dropped with them. Requires d.mu.
func (d *Duplex) takeForDownstream() (io.Writer, []subscription, []byte) {
	pipe, subs := d.pipe, d.subs
	if d.buf.Len() == d.delivered || (pipe == nil && len(subs) == 0) {
		return nil, nil, nil
	}
	var chunk []byte
	if d.readerPending {
		chunk = d.undelivered()
		d.delivered = d.buf.Len()
	} else {
		chunk = d.buf.ConsumeAll()[d.delivered:]
		d.delivered = 0
	}
	d.consumed += uint64(len(chunk))
	return pipe, subs, chunk
}

func (d *Duplex) deliver(pipe io.Writer, subs []subscription, chunk []byte) {
	if pipe != nil {
		if _, err := pipe.Write(chunk); err != nil {
			d.fail(err)
		}
		return
	}
	for i, s := range subs {
		if i == len(subs)-1 {
			s.fn(chunk)
			continue
		}
		c := make([]byte, len(chunk))
		copy(c, chunk)
		s.fn(c)
	}
}

func (d *Duplex) fail(err error) {
	d.mu.Lock()
	handlers := d.onFail
	d.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}
