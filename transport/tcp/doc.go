// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp exposes reactor-driven TCP connections and listeners.
//
// A Connection is a duplex stream: reads, pipes and pause/resume act on the
// bytes received from the peer, writes queue bytes for the reactor thread to
// send. A Listener accepts sockets and hands each of them, already wrapped in
// a Connection placed on the least-loaded reactor thread, to its Connection
// handlers.
package tcp
