// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics, and debug introspection for the reactor
// pool.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and merged updates with reload listeners
//   - A metrics registry the pool mirrors its counters into
//   - Named debug probes for state dumps
package control
