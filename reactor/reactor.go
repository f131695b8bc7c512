// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral poller interface for cross-platform IO multiplexing.

package reactor

import "time"

// Interest is the set of readiness conditions a descriptor is watched for.
// Errors and hangups are always reported.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite

	InterestNone Interest = 0
)

// Readiness is the set of conditions reported for a descriptor.
type Readiness uint8

const (
	Readable Readiness = 1 << iota
	Writable
	Hangup
	Failed
)

// Event contains readiness information returned by Wait.
type Event struct {
	Fd    int
	Ready Readiness
}

// Poller defines the readiness-multiplexing operations across OS platforms.
type Poller interface {
	// Add starts watching fd with the given interest.
	Add(fd int, interest Interest) error

	// Modify replaces the interest of an already watched fd.
	Modify(fd int, interest Interest) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks for at most timeout (negative means forever) and fills
	// events. Wakeups and signal interruptions return zero events.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Wake interrupts a concurrent or the next Wait. Safe from any goroutine.
	Wake() error

	// Close releases the poller descriptors.
	Close() error
}

func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := int(timeout / time.Millisecond)
	if ms == 0 && timeout > 0 {
		ms = 1
	}
	return ms
}
