// File: core/buffer/growable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import "fmt"

const (
	// MinCapacity is the floor below which a buffer never shrinks.
	MinCapacity = 1024

	growFactor = 2
	// shrinkRatio: shrink once length falls to 1/shrinkRatio of capacity.
	shrinkRatio = 8
)

// Growable is a contiguous byte store whose capacity grows by growFactor on
// overflow and shrinks by the inverse step when it becomes mostly empty.
// Invariant: Cap() >= Len().
type Growable struct {
	data   []byte // len(data) is the capacity
	length int
}

// New returns an empty buffer with at least the requested capacity.
func New(capacity int) *Growable {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Growable{data: make([]byte, capacity)}
}

// Len reports the number of buffered bytes.
func (g *Growable) Len() int { return g.length }

// Cap reports the current backing capacity.
func (g *Growable) Cap() int { return len(g.data) }

// Append copies p to the tail, growing the backing store as needed.
func (g *Growable) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	if g.data == nil {
		g.data = make([]byte, MinCapacity)
	}
	need := g.length + len(p)
	if need > len(g.data) {
		newCap := len(g.data)
		for newCap < need {
			newCap *= growFactor
		}
		grown := make([]byte, newCap)
		copy(grown, g.data[:g.length])
		g.data = grown
	}
	copy(g.data[g.length:], p)
	g.length = need
}

// CopyInto copies min(Len, len(dst)) bytes from the head into dst without
// consuming them and returns the count.
func (g *Growable) CopyInto(dst []byte) int {
	return copy(dst, g.data[:g.length])
}

// ConsumeAll removes and returns everything buffered. It returns nil when
// the buffer is empty.
func (g *Growable) ConsumeAll() []byte {
	if g.length == 0 {
		return nil
	}
	out := make([]byte, g.length)
	copy(out, g.data[:g.length])
	g.length = 0
	g.shrink()
	return out
}

// ConsumeExactly removes and returns exactly n bytes from the head.
// Asking for more than Len is a programming error and panics.
func (g *Growable) ConsumeExactly(n int) []byte {
	g.check(n)
	out := make([]byte, n)
	copy(out, g.data[:n])
	g.Discard(n)
	return out
}

// Discard drops n bytes from the head, compacting the remainder.
// Discarding more than Len panics.
func (g *Growable) Discard(n int) {
	g.check(n)
	if n == 0 {
		return
	}
	copy(g.data, g.data[n:g.length])
	g.length -= n
	g.shrink()
}

// Reset empties the buffer and returns it to the floor capacity.
func (g *Growable) Reset() {
	g.length = 0
	if len(g.data) > MinCapacity {
		g.data = make([]byte, MinCapacity)
	}
}

func (g *Growable) check(n int) {
	if n < 0 || n > g.length {
		panic(fmt.Sprintf("buffer: consume %d bytes with only %d buffered", n, g.length))
	}
}

// shrink halves the capacity while the buffer is mostly empty, never going
// below MinCapacity. Called after compaction so the live bytes sit at the head.
func (g *Growable) shrink() {
	newCap := len(g.data)
	for newCap > MinCapacity && g.length <= newCap/shrinkRatio {
		newCap /= growFactor
	}
	if newCap < MinCapacity {
		newCap = MinCapacity
	}
	if newCap == len(g.data) {
		return
	}
	shrunk := make([]byte, newCap)
	copy(shrunk, g.data[:g.length])
	g.data = shrunk
}
