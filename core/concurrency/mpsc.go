// File: core/concurrency/mpsc.go
// Package concurrency provides the multi-producer, single-consumer command
// queue each reactor thread drains at the top of its loop.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Producers are arbitrary goroutines; the consumer is the owning reactor
// thread. The backing ring is github.com/eapache/queue, which grows and
// shrinks in powers of two and is guarded here by a single mutex held only
// for the push or the batch swap.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// MPSC is an unbounded FIFO queue safe for many producers and one consumer.
type MPSC[T any] struct {
	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	notify func()
}

// NewMPSC creates an empty queue. notify, if non-nil, is called after every
// successful Push (outside the lock) so the consumer can be woken.
func NewMPSC[T any](notify func()) *MPSC[T] {
	return &MPSC[T]{q: queue.New(), notify: notify}
}

// Push appends v. It returns ErrQueueClosed once Close has been called.
func (m *MPSC[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrQueueClosed
	}
	m.q.Add(v)
	m.mu.Unlock()
	if m.notify != nil {
		m.notify()
	}
	return nil
}

// Drain moves every queued item, in FIFO order, onto dst and returns it.
// Items pushed while the caller processes the batch wait for the next Drain.
func (m *MPSC[T]) Drain(dst []T) []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.q.Length() > 0 {
		dst = append(dst, m.q.Remove().(T))
	}
	return dst
}

// Len reports the number of queued items.
func (m *MPSC[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}

// Close rejects further pushes and returns whatever was still queued.
func (m *MPSC[T]) Close() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	var rest []T
	for m.q.Length() > 0 {
		rest = append(rest, m.q.Remove().(T))
	}
	return rest
}
