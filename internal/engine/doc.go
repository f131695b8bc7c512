// File: internal/engine/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package engine runs TCP sockets on a pool of reactor threads.
//
// A Pool hands each new socket to its least-loaded Thread. A Thread is one
// locked OS thread that drains its command queue, computes per-socket
// readiness interest, waits in its poller and then accepts, receives, sends or
// tears down. Socket state is touched only by the owning thread; other
// goroutines talk to it through Handle methods, which post commands.
package engine
