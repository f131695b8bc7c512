// File: transport/tcp/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor pool re-exports for callers outside this module.

package tcp

import "github.com/momentics/hioload-net/internal/engine"

type (
	// Pool is a set of reactor threads.
	Pool = engine.Pool
	// PoolOption tunes a Pool.
	PoolOption = engine.Option
	// Counters is a snapshot of pool diagnostics.
	Counters = engine.Stats
)

// Pool tuning options.
var (
	WithMaxSocketsPerThread = engine.WithMaxSocketsPerThread
	WithPollTimeout         = engine.WithPollTimeout
	WithIdleQuantum         = engine.WithIdleQuantum
	WithLingerTimeout       = engine.WithLingerTimeout
	WithResolveTimeout      = engine.WithResolveTimeout
	WithChunkSizes          = engine.WithChunkSizes
	WithThreadPinning       = engine.WithThreadPinning
	WithPoolLogger          = engine.WithLogger
	WithMetrics             = engine.WithMetrics
	WithProbes              = engine.WithProbes
)

// NewPool creates a private reactor pool.
func NewPool(opts ...PoolOption) *Pool {
	return engine.NewPool(opts...)
}

// DefaultPool returns the process-wide pool.
func DefaultPool() *Pool {
	return engine.Default()
}

// Stats returns the counters of p, or of the process-wide pool when p is nil.
func Stats(p *Pool) Counters {
	if p == nil {
		p = engine.Default()
	}
	return p.Stats()
}
