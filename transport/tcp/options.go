// File: transport/tcp/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/hioload-net/internal/engine"
)

type options struct {
	pool          *Pool
	log           zerolog.Logger
	allowHalfOpen bool
	idleTimeout   time.Duration
	backlog       int
}

func buildOptions(opts []Option) options {
	o := options{log: log.Logger.With().Str("component", "tcp").Logger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = engine.Default()
	}
	return o
}

// Option customizes connections and listeners.
type Option func(*options)

// WithPool runs sockets on p instead of the process-wide pool.
func WithPool(p *Pool) Option {
	return func(o *options) {
		o.pool = p
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithAllowHalfOpen sets the initial half-open policy. On a listener it
// applies to every accepted connection.
func WithAllowHalfOpen(enabled bool) Option {
	return func(o *options) {
		o.allowHalfOpen = enabled
	}
}

// WithIdleTimeout arms the advisory idle timeout. On a listener it applies to
// every accepted connection.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.idleTimeout = d
	}
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) Option {
	return func(o *options) {
		o.backlog = n
	}
}
