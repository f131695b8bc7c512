// File: internal/engine/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool configuration and functional options.

package engine

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/hioload-net/control"
)

// Config tunes the reactor pool and every thread it spawns.
type Config struct {
	// MaxSocketsPerThread caps the socket set of one reactor thread.
	MaxSocketsPerThread int
	// PollTimeout bounds each blocking readiness wait.
	PollTimeout time.Duration
	// IdleQuantum is the sleep used when no socket needs readiness.
	IdleQuantum time.Duration
	// LingerTimeout bounds how long a draining socket that already sent FIN
	// waits for the peer's FIN before being destroyed.
	LingerTimeout time.Duration
	// ResolveTimeout bounds hostname resolution for bind/connect endpoints.
	ResolveTimeout time.Duration
	MaxEvents      int
	ReadChunk      int
	WriteChunk     int
	AcceptBatch    int
	ListenBacklog  int
	// PinThreads pins reactor thread N to logical CPU N mod NumCPU.
	PinThreads bool

	Logger  *zerolog.Logger
	Metrics *control.MetricsRegistry
	Probes  *control.DebugProbes
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		MaxSocketsPerThread: 512,
		PollTimeout:         50 * time.Millisecond,
		IdleQuantum:         2 * time.Millisecond,
		LingerTimeout:       5 * time.Second,
		ResolveTimeout:      5 * time.Second,
		MaxEvents:           128,
		ReadChunk:           64 * 1024,
		WriteChunk:          64 * 1024,
		AcceptBatch:         64,
		ListenBacklog:       511,
	}
}

func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MaxSocketsPerThread <= 0 {
		c.MaxSocketsPerThread = def.MaxSocketsPerThread
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = def.PollTimeout
	}
	if c.IdleQuantum <= 0 {
		c.IdleQuantum = def.IdleQuantum
	}
	if c.LingerTimeout <= 0 {
		c.LingerTimeout = def.LingerTimeout
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = def.ResolveTimeout
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = def.MaxEvents
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = def.ReadChunk
	}
	if c.WriteChunk <= 0 {
		c.WriteChunk = def.WriteChunk
	}
	if c.AcceptBatch <= 0 {
		c.AcceptBatch = def.AcceptBatch
	}
	if c.ListenBacklog <= 0 {
		c.ListenBacklog = def.ListenBacklog
	}
	if c.Logger == nil {
		l := log.Logger.With().Str("component", "reactor").Logger()
		c.Logger = &l
	}
}

// Option customizes pool initialization.
type Option func(*Config)

// WithMaxSocketsPerThread caps the per-thread socket set.
func WithMaxSocketsPerThread(n int) Option {
	return func(c *Config) {
		c.MaxSocketsPerThread = n
	}
}

// WithPollTimeout overrides the bounded readiness wait.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.PollTimeout = d
	}
}

// WithIdleQuantum overrides the idle sleep.
func WithIdleQuantum(d time.Duration) Option {
	return func(c *Config) {
		c.IdleQuantum = d
	}
}

// WithLingerTimeout overrides how long draining sockets wait for the peer FIN.
func WithLingerTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.LingerTimeout = d
	}
}

// WithResolveTimeout bounds endpoint resolution.
func WithResolveTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ResolveTimeout = d
	}
}

// WithChunkSizes sets the per-syscall receive and send sizes.
func WithChunkSizes(read, write int) Option {
	return func(c *Config) {
		c.ReadChunk = read
		c.WriteChunk = write
	}
}

// WithThreadPinning pins reactor threads to CPUs.
func WithThreadPinning(enabled bool) Option {
	return func(c *Config) {
		c.PinThreads = enabled
	}
}

// WithLogger sets the pool logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = &l
	}
}

// WithMetrics mirrors pool counters into reg.
func WithMetrics(reg *control.MetricsRegistry) Option {
	return func(c *Config) {
		c.Metrics = reg
	}
}

// WithProbes registers pool debug probes in dp.
func WithProbes(dp *control.DebugProbes) Option {
	return func(c *Config) {
		c.Probes = dp
	}
}
